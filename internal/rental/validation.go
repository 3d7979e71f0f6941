package rental

import (
	"fmt"
	"regexp"
	"strings"
)

// Field limits
const (
	MaxModelLength = 128
	MaxPlateLength = 16
)

// Plate format: uppercase letters, digits and dashes.
var plateFormatRegex = regexp.MustCompile(`^[A-Z0-9\-]+$`)

// ValidateNewCar validates a car registration request
func ValidateNewCar(in NewCar) error {
	model := strings.TrimSpace(in.Model)
	if model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidCar)
	}
	if len(model) > MaxModelLength {
		return fmt.Errorf("%w: model too long: %d chars (max %d)", ErrInvalidCar, len(model), MaxModelLength)
	}
	if in.Plate == "" {
		return fmt.Errorf("%w: plate is required", ErrInvalidCar)
	}
	if len(in.Plate) > MaxPlateLength {
		return fmt.Errorf("%w: plate too long: %d chars (max %d)", ErrInvalidCar, len(in.Plate), MaxPlateLength)
	}
	if !plateFormatRegex.MatchString(in.Plate) {
		return fmt.Errorf("%w: invalid plate format: %s (allowed: A-Z, 0-9, -)", ErrInvalidCar, in.Plate)
	}
	return ValidatePrice(in.DailyPrice)
}

// ValidatePrice rejects negative prices.
func ValidatePrice(price int64) error {
	if price < 0 {
		return fmt.Errorf("%w: daily price cannot be negative", ErrInvalidCar)
	}
	return nil
}
