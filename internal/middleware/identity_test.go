package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/neogan74/rentguard/internal/identity"
	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/token"
)

var identityNow = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

func newIdentityApp(t *testing.T) (*fiber.App, *token.Codec) {
	t.Helper()

	codec, err := token.NewCodec("middleware-test-secret", time.Hour, "rentguard")
	require.NoError(t, err)

	users := identity.NewUsers()
	require.NoError(t, users.AddPassword("alice", "wonderland", bcrypt.MinCost, "ROLE_ADMIN"))
	require.NoError(t, users.AddPassword("bob", "builder", bcrypt.MinCost, "ROLE_USER"))

	resolver := identity.NewResolver(codec, users, nil, logger.NewNop())

	app := fiber.New()
	app.Use(Identity(IdentityConfig{
		Resolver: resolver,
		Clock:    func() time.Time { return identityNow },
	}))
	app.Get("/api/whoami", func(c *fiber.Ctx) error {
		return c.JSON(GetPrincipal(c))
	})
	app.Get("/api/auth/probe", func(c *fiber.Ctx) error {
		return c.JSON(GetPrincipal(c))
	})
	app.Get("/api/private", RequireAuthenticated(), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/api/admin", RequireAuthority("ROLE_ADMIN"), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app, codec
}

func bearer(t *testing.T, codec *token.Codec, subject string, at time.Time) string {
	t.Helper()
	raw, err := codec.Sign(subject, at)
	require.NoError(t, err)
	return "Bearer " + raw
}

func whoami(t *testing.T, app *fiber.App, path, authorization string) identity.Principal {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if authorization != "" {
		req.Header.Set(fiber.HeaderAuthorization, authorization)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var p identity.Principal
	body, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(body, &p))
	return p
}

func TestIdentity_ResolvesBearerToken(t *testing.T) {
	app, codec := newIdentityApp(t)

	p := whoami(t, app, "/api/whoami", bearer(t, codec, "alice", identityNow.Add(-time.Minute)))
	assert.Equal(t, "alice", p.Subject)
	assert.Contains(t, p.Authorities, "ROLE_ADMIN")
}

func TestIdentity_NeverRejects(t *testing.T) {
	app, codec := newIdentityApp(t)

	cases := map[string]string{
		"missing":      "",
		"wrong scheme": "Basic YWxpY2U6d29uZGVybGFuZA==",
		"garbage":      "Bearer not-a-token",
		"expired":      bearer(t, codec, "alice", identityNow.Add(-2*time.Hour)),
		"unknown user": bearer(t, codec, "mallory", identityNow),
		"empty bearer": "Bearer ",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			p := whoami(t, app, "/api/whoami", header)
			assert.True(t, p.IsAnonymous())
		})
	}
}

func TestIdentity_ExemptPathStaysAnonymous(t *testing.T) {
	app, codec := newIdentityApp(t)

	p := whoami(t, app, "/api/auth/probe", bearer(t, codec, "alice", identityNow))
	assert.True(t, p.IsAnonymous())
}

func TestRequireAuthenticated(t *testing.T) {
	app, codec := newIdentityApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/private", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/api/private", nil)
	req.Header.Set(fiber.HeaderAuthorization, bearer(t, codec, "bob", identityNow))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireAuthority(t *testing.T) {
	app, codec := newIdentityApp(t)

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"anonymous", "", fiber.StatusUnauthorized},
		{"missing authority", bearer(t, codec, "bob", identityNow), fiber.StatusForbidden},
		{"granted", bearer(t, codec, "alice", identityNow), fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/admin", nil)
			if tt.auth != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.auth)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}
