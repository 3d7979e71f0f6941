package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/neogan74/rentguard/internal/config"
	"github.com/neogan74/rentguard/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("wonderland"), bcrypt.MinCost)
	require.NoError(t, err)

	return &config.Config{
		Server: config.ServerConfig{Port: 8080},
		Log:    config.LogConfig{Level: "error", Format: "text"},
		Token: config.TokenConfig{
			Secret:   "app-test-secret",
			Validity: time.Hour,
			Issuer:   "rentguard",
			Users:    "alice:" + string(hash) + ":ROLE_ADMIN|ROLE_USER",
		},
		RateLimit: config.RateLimitConfig{
			Enabled:             true,
			Backend:             "memory",
			AuthCapacity:        5,
			AuthRefillPerSec:    5.0 / 60,
			GeneralCapacity:     100,
			GeneralRefillPerSec: 100.0 / 60,
			IdleTTL:             10 * time.Minute,
			SweepInterval:       time.Minute,
		},
		Redis: config.RedisConfig{Prefix: "rentguard:test:"},
		Audit: config.AuditConfig{
			Enabled:       true,
			Sink:          "memory",
			BufferSize:    64,
			FlushInterval: 10 * time.Millisecond,
			DropPolicy:    "drop",
		},
		Tracing: config.TracingConfig{ServiceName: "rentguard-test", SamplingRatio: 1},
	}
}

func build(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := NewBuilder(cfg, "test").WithLogger(logger.NewNop()).Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func call(t *testing.T, app *fiber.App, method, path, client, authorization string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderXForwardedFor, client)
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
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func login(t *testing.T, app *fiber.App, client string) string {
	t.Helper()
	status, body := call(t, app, "POST", "/api/auth/login", client, "",
		map[string]string{"username": "alice", "password": "wonderland"})
	require.Equal(t, fiber.StatusOK, status)
	return "Bearer " + body["token"].(string)
}

func TestApp_AuditedRequestFlow(t *testing.T) {
	a := build(t, testConfig(t))
	app := a.Fiber()
	alice := login(t, app, "10.0.0.5")

	status, car := call(t, app, "POST", "/api/cars", "10.0.0.5", alice,
		map[string]interface{}{"model": "Skoda Octavia", "plate": "AB-123", "dailyPrice": 4500})
	require.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "1", car["id"])

	status, _ = call(t, app, "GET", "/api/cars/1", "10.0.0.5", "", nil)
	require.Equal(t, fiber.StatusOK, status)

	var records []interface{}
	require.Eventually(t, func() bool {
		status, body := call(t, app, "GET", "/api/audit?entity=Car", "10.0.0.5", alice, nil)
		if status != fiber.StatusOK {
			return false
		}
		records, _ = body["records"].([]interface{})
		return len(records) == 2
	}, 2*time.Second, 50*time.Millisecond)

	created := records[0].(map[string]interface{})
	assert.Equal(t, "createCar", created["operation"])
	assert.Equal(t, "alice", created["actorId"])
	assert.Equal(t, "10.0.0.5", created["clientAddress"])
	assert.Equal(t, "SUCCESS", created["outcome"])

	found := records[1].(map[string]interface{})
	assert.Equal(t, "findCarById", found["operation"])
	assert.Equal(t, "SYSTEM", found["actorId"])
}

func TestApp_AuthEndpointsAreRateLimited(t *testing.T) {
	a := build(t, testConfig(t))
	app := a.Fiber()

	for i := 0; i < 5; i++ {
		status, _ := call(t, app, "POST", "/api/auth/login", "10.0.0.9", "",
			map[string]string{"username": "alice", "password": "wrong"})
		require.Equal(t, fiber.StatusUnauthorized, status)
	}

	status, body := call(t, app, "POST", "/api/auth/login", "10.0.0.9", "",
		map[string]string{"username": "alice", "password": "wonderland"})
	require.Equal(t, fiber.StatusTooManyRequests, status)
	assert.Equal(t, float64(12), body["retryAfter"])

	// General endpoints keep their own budget.
	status, _ = call(t, app, "GET", "/api/cars", "10.0.0.9", "", nil)
	assert.Equal(t, fiber.StatusOK, status)

	// Health probes are never limited.
	for i := 0; i < 10; i++ {
		status, _ = call(t, app, "GET", "/health/live", "10.0.0.9", "", nil)
		assert.Equal(t, fiber.StatusOK, status)
	}
}

func TestApp_AdminRoutesRequireAuthority(t *testing.T) {
	a := build(t, testConfig(t))
	app := a.Fiber()

	status, _ := call(t, app, "GET", "/api/admin/ratelimit/stats", "10.0.0.7", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, _ = call(t, app, "GET", "/api/audit", "10.0.0.7", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	alice := login(t, app, "10.0.0.7")
	status, body := call(t, app, "GET", "/api/admin/ratelimit/stats", "10.0.0.7", alice, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["success"])
}

func TestApp_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RateLimit.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()

	a := build(t, cfg)
	app := a.Fiber()

	for i := 0; i < 5; i++ {
		status, _ := call(t, app, "POST", "/api/auth/login", "10.0.0.5", "",
			map[string]string{"username": "alice", "password": "wrong"})
		require.Equal(t, fiber.StatusUnauthorized, status)
	}
	status, _ := call(t, app, "POST", "/api/auth/login", "10.0.0.5", "",
		map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, fiber.StatusTooManyRequests, status)
	assert.True(t, mr.Exists("rentguard:test:auth:10.0.0.5"))

	status, body := call(t, app, "GET", "/health/ready", "10.0.0.5", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "healthy", body["components"].(map[string]interface{})["redis"])

	// The in-process admin API only exists for the memory backend.
	status, _ = call(t, app, "GET", "/api/admin/ratelimit/stats", "10.0.0.6", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestBuild_Failures(t *testing.T) {
	cfg := testConfig(t)
	cfg.Token.Secret = ""
	_, err := NewBuilder(cfg, "test").WithLogger(logger.NewNop()).Build(context.Background())
	assert.ErrorContains(t, err, "token codec")

	cfg = testConfig(t)
	cfg.Token.Users = "broken"
	_, err = NewBuilder(cfg, "test").WithLogger(logger.NewNop()).Build(context.Background())
	assert.ErrorContains(t, err, "users")

	cfg = testConfig(t)
	cfg.RateLimit.Backend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"
	_, err = NewBuilder(cfg, "test").WithLogger(logger.NewNop()).Build(context.Background())
	assert.ErrorContains(t, err, "redis")

	cfg = testConfig(t)
	cfg.Audit.Sink = "kafka"
	_, err = NewBuilder(cfg, "test").WithLogger(logger.NewNop()).Build(context.Background())
	assert.ErrorContains(t, err, "audit sink")
}

func TestApp_MetricsEndpoint(t *testing.T) {
	a := build(t, testConfig(t))

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := a.Fiber().Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(raw), "rentguard_build_info")
}
