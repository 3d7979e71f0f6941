package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUnknownUser        = errors.New("unknown user")
)

type account struct {
	principal Principal
	hash      []byte
}

// Users is an in-memory user directory with bcrypt password hashes.
type Users struct {
	mu       sync.RWMutex
	accounts map[string]account
}

// NewUsers returns an empty directory.
func NewUsers() *Users {
	return &Users{accounts: make(map[string]account)}
}

// Add registers a user with an already computed bcrypt hash.
func (u *Users) Add(username, bcryptHash string, authorities ...string) error {
	if username == "" {
		return errors.New("username is required")
	}
	if _, err := bcrypt.Cost([]byte(bcryptHash)); err != nil {
		return fmt.Errorf("invalid password hash for %s: %w", username, err)
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.accounts[username] = account{
		principal: Principal{
			Subject:     username,
			Name:        username,
			Authorities: append([]string(nil), authorities...),
		},
		hash: []byte(bcryptHash),
	}
	return nil
}

// AddPassword hashes password with cost and registers the user.
func (u *Users) AddPassword(username, password string, cost int, authorities ...string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return u.Add(username, string(hash), authorities...)
}

// Lookup implements Directory.
func (u *Users) Lookup(_ context.Context, subject string) (Principal, error) {
	u.mu.RLock()
	acc, ok := u.accounts[subject]
	u.mu.RUnlock()
	if !ok {
		return Anonymous, ErrUnknownUser
	}
	return acc.principal, nil
}

// Authenticate checks a username/password pair.
func (u *Users) Authenticate(username, password string) (Principal, error) {
	u.mu.RLock()
	acc, ok := u.accounts[username]
	u.mu.RUnlock()
	if !ok {
		return Anonymous, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return Anonymous, ErrInvalidCredentials
	}
	return acc.principal, nil
}

// Len returns the number of registered users.
func (u *Users) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.accounts)
}

// ParseUsers reads entries of the form name:bcryptHash:ROLE_A|ROLE_B
// separated by commas.
func ParseUsers(list string) (*Users, error) {
	users := NewUsers()
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid user entry %q", entry)
		}
		var roles []string
		if len(parts) == 3 && parts[2] != "" {
			roles = strings.Split(parts[2], "|")
		}
		if err := users.Add(parts[0], parts[1], roles...); err != nil {
			return nil, err
		}
	}
	return users, nil
}
