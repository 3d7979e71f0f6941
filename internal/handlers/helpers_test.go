package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/neogan74/rentguard/internal/audit"
	"github.com/neogan74/rentguard/internal/identity"
	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/middleware"
	"github.com/neogan74/rentguard/internal/token"
)

// directRecorder writes records synchronously so tests can read them at once.
type directRecorder struct {
	store *audit.MemoryStore
}

func (r directRecorder) Record(_ context.Context, rec *audit.Record) (string, error) {
	if rec.ID == "" {
		rec.ID = audit.NewID(rec.Timestamp)
	}
	return rec.ID, r.store.Write(rec)
}

type testAuth struct {
	codec *token.Codec
	users *identity.Users
}

func newTestAuth(t *testing.T) *testAuth {
	t.Helper()
	codec, err := token.NewCodec("handlers-test-secret", time.Hour, "rentguard")
	require.NoError(t, err)

	users := identity.NewUsers()
	require.NoError(t, users.AddPassword("alice", "wonderland", bcrypt.MinCost, "ROLE_ADMIN", "ROLE_USER"))
	require.NoError(t, users.AddPassword("bob", "builder", bcrypt.MinCost, "ROLE_USER"))
	return &testAuth{codec: codec, users: users}
}

// use installs the same identity chain the server runs.
func (a *testAuth) use(app *fiber.App) {
	app.Use(middleware.RequestLogging(logger.NewNop()))
	app.Use(middleware.Identity(middleware.IdentityConfig{
		Resolver: identity.NewResolver(a.codec, a.users, nil, logger.NewNop()),
	}))
	app.Use(middleware.AuditRequestContext())
}

func (a *testAuth) bearer(t *testing.T, subject string) string {
	t.Helper()
	raw, err := a.codec.Sign(subject, time.Now())
	require.NoError(t, err)
	return "Bearer " + raw
}

func doJSON(t *testing.T, app *fiber.App, method, path, authorization string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if authorization != "" {
		req.Header.Set(fiber.HeaderAuthorization, authorization)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}
