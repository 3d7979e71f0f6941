package identity

import (
	"context"
	"slices"
)

// AnonymousSubject is the subject of the principal used when no verified
// caller exists.
const AnonymousSubject = "anonymousUser"

// Principal is the resolved identity of a caller. It is derived per request
// and never stored as a session.
type Principal struct {
	Subject     string   `json:"subject"`
	Name        string   `json:"name"`
	Authorities []string `json:"authorities"`
}

// Anonymous is the sentinel principal for unauthenticated callers.
var Anonymous = Principal{
	Subject:     AnonymousSubject,
	Name:        AnonymousSubject,
	Authorities: []string{"ROLE_ANONYMOUS"},
}

// IsAnonymous reports whether p is the anonymous sentinel.
func (p Principal) IsAnonymous() bool {
	return p.Subject == "" || p.Subject == AnonymousSubject
}

// HasAuthority reports whether p was granted authority.
func (p Principal) HasAuthority(authority string) bool {
	return slices.Contains(p.Authorities, authority)
}

// DisplayName returns Name, falling back to Subject.
func (p Principal) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Subject
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, or Anonymous.
func FromContext(ctx context.Context) Principal {
	if ctx == nil {
		return Anonymous
	}
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Anonymous
}
