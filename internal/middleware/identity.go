package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/neogan74/rentguard/internal/identity"
)

// PrincipalKey is the locals key holding the resolved identity.Principal.
const PrincipalKey = "principal"

// IdentityConfig configures the Identity middleware.
type IdentityConfig struct {
	Resolver *identity.Resolver
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Identity resolves the bearer token of every non-exempt request and
// publishes the principal on the user context. It never rejects a request:
// a missing or invalid token yields the anonymous principal.
func Identity(cfg IdentityConfig) fiber.Handler {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return func(c *fiber.Ctx) error {
		principal := identity.Anonymous
		if !cfg.Resolver.Exempt(c.Path()) {
			principal = cfg.Resolver.Resolve(c.UserContext(), c.Get(fiber.HeaderAuthorization), clock())
		}

		c.Locals(PrincipalKey, principal)
		c.SetUserContext(identity.WithPrincipal(c.UserContext(), principal))
		return c.Next()
	}
}

// GetPrincipal returns the principal resolved for this request.
func GetPrincipal(c *fiber.Ctx) identity.Principal {
	if p, ok := c.Locals(PrincipalKey).(identity.Principal); ok {
		return p
	}
	return identity.FromContext(c.UserContext())
}

// RequireAuthenticated rejects anonymous requests with 401.
func RequireAuthenticated() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetPrincipal(c).IsAnonymous() {
			return Unauthorized(c, "authentication required")
		}
		return c.Next()
	}
}

// RequireAuthority creates a middleware that requires one of the given
// authorities. Anonymous callers get 401, authenticated ones 403.
func RequireAuthority(authorities ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := GetPrincipal(c)
		if p.IsAnonymous() {
			return Unauthorized(c, "authentication required")
		}
		for _, a := range authorities {
			if p.HasAuthority(a) {
				return c.Next()
			}
		}
		return Forbidden(c, "requires one of: "+strings.Join(authorities, ", "))
	}
}
