// Package rental is a small in-memory car catalog whose operations are audited.
package rental

import (
	"errors"
	"fmt"
)

// ErrInvalidCar is wrapped by validation failures.
var ErrInvalidCar = errors.New("invalid car")

// NotFoundError represents a car that does not exist
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("car '%s' not found", e.ID)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
