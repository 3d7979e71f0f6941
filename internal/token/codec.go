// Package token signs and verifies the compact bearer tokens that carry a
// caller's identity between requests. Tokens are stateless: a token stays
// valid until it expires.
package token

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinKeyLength is the smallest HMAC key accepted for HS256.
const MinKeyLength = 32

// DefaultValidity is used when no validity window is configured.
const DefaultValidity = 86400 * time.Second

var (
	ErrMalformed    = errors.New("token is malformed")
	ErrBadSignature = errors.New("token signature is invalid")
	ErrExpired      = errors.New("token has expired")

	ErrMissingSecret   = errors.New("token signing secret is empty")
	ErrInvalidValidity = errors.New("token validity must be positive")
)

// Kind classifies a verification failure.
type Kind int

const (
	KindMalformed Kind = iota + 1
	KindBadSignature
	KindExpired
)

func (k Kind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindBadSignature:
		return "bad_signature"
	case KindExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Error is returned by Verify. It matches ErrMalformed, ErrBadSignature or
// ErrExpired through errors.Is.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.sentinel(), e.Cause)
	}
	return e.sentinel().Error()
}

func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindBadSignature:
		return ErrBadSignature
	case KindExpired:
		return ErrExpired
	default:
		return ErrMalformed
	}
}

// KindOf reports the failure kind of a Verify error, or 0 if err is not one.
func KindOf(err error) Kind {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}
	return 0
}

// Codec issues and verifies HS256 tokens. It is safe for concurrent use; the
// key is never modified after construction.
type Codec struct {
	key      []byte
	validity time.Duration
	issuer   string
	method   jwt.SigningMethod
}

// NewCodec derives the signing key from secret and returns a codec. An error
// here means the process cannot authenticate anyone and should not start.
func NewCodec(secret string, validity time.Duration, issuer string) (*Codec, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if validity <= 0 {
		return nil, ErrInvalidValidity
	}
	return &Codec{
		key:      DeriveKey(secret),
		validity: validity,
		issuer:   issuer,
		method:   jwt.SigningMethodHS256,
	}, nil
}

// DeriveKey returns secret unchanged when it is long enough for HS256 and its
// SHA-256 digest otherwise. The result only depends on secret, so tokens
// survive restarts.
func DeriveKey(secret string) []byte {
	raw := []byte(secret)
	if len(raw) >= MinKeyLength {
		return raw
	}
	sum := sha256.Sum256(raw)
	return sum[:]
}

// Validity returns the configured token lifetime.
func (c *Codec) Validity() time.Duration {
	return c.validity
}

// Sign issues a token for subject valid from now until now+validity.
//
// Claims carry whole seconds, so the expiry is rounded up to the next second:
// the token is never rejected before now+validity and outlives it by less
// than a second.
func (c *Codec) Sign(subject string, now time.Time) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is empty")
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(ceilSecond(now.Add(c.validity))),
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func ceilSecond(t time.Time) time.Time {
	if r := t.Truncate(time.Second); !r.Equal(t) {
		return r.Add(time.Second)
	}
	return t
}

// Verify checks the token at instant now and returns its subject.
//
// The signature is checked before the claims are decoded, so any change to
// the header or payload reports a bad signature rather than a parse error.
// Only input that is not dotted at all, or whose header or payload segment is
// empty, is malformed; a dotted token with the wrong number of segments was
// altered and cannot carry a valid signature.
func (c *Codec) Verify(raw string, now time.Time) (string, error) {
	parts := strings.Split(raw, ".")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", &Error{Kind: KindMalformed}
	}
	if len(parts) != 3 {
		return "", &Error{Kind: KindBadSignature, Cause: fmt.Errorf("token has %d segments", len(parts))}
	}

	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil {
		return "", &Error{Kind: KindBadSignature, Cause: err}
	}
	if err := c.method.Verify(parts[0]+"."+parts[1], sig, c.key); err != nil {
		return "", &Error{Kind: KindBadSignature, Cause: err}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	claims := &jwt.RegisteredClaims{}
	_, err = parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", &Error{Kind: KindExpired}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", &Error{Kind: KindBadSignature, Cause: err}
	default:
		return "", &Error{Kind: KindMalformed, Cause: err}
	}

	if claims.Subject == "" {
		return "", &Error{Kind: KindMalformed, Cause: errors.New("subject claim is empty")}
	}
	return claims.Subject, nil
}
