package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/ratelimit"
)

func setupRateLimitTestApp(t *testing.T) (*fiber.App, *ratelimit.Service) {
	t.Helper()

	service, err := ratelimit.NewService(ratelimit.Config{
		Enabled: true,
		Auth:    ratelimit.Policy{Capacity: 5, RefillPerSecond: 1.0 / 12},
		General: ratelimit.Policy{Capacity: 100, RefillPerSecond: 100.0 / 60},
		IdleTTL: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(service.Close)

	handler := NewRateLimitHandler(service, logger.NewNop())

	app := fiber.New()
	admin := app.Group("/api/admin/ratelimit")
	admin.Get("/stats", handler.GetStats)
	admin.Get("/config", handler.GetConfig)
	admin.Get("/clients", handler.GetActiveClients)
	admin.Get("/client/:identifier", handler.GetClientStatus)
	admin.Post("/reset/:class/:identifier", handler.ResetClient)
	admin.Post("/reset", handler.ResetAll)
	return app, service
}

func admit(t *testing.T, svc *ratelimit.Service, id string, class ratelimit.Class) {
	t.Helper()
	_, err := svc.Admit(context.Background(), id, class, time.Now())
	require.NoError(t, err)
}

func TestRateLimitAdmin_Stats(t *testing.T) {
	app, svc := setupRateLimitTestApp(t)
	admit(t, svc, "10.0.0.5", ratelimit.ClassAuth)
	admit(t, svc, "10.0.0.5", ratelimit.ClassGeneral)
	admit(t, svc, "10.0.0.6", ratelimit.ClassGeneral)

	status, body := doJSON(t, app, "GET", "/api/admin/ratelimit/stats", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["auth_buckets"])
	assert.Equal(t, float64(2), data["general_buckets"])
}

func TestRateLimitAdmin_Config(t *testing.T) {
	app, _ := setupRateLimitTestApp(t)

	status, body := doJSON(t, app, "GET", "/api/admin/ratelimit/config", "", nil)
	require.Equal(t, fiber.StatusOK, status)

	config := body["config"].(map[string]interface{})
	assert.Equal(t, true, config["enabled"])
	assert.Equal(t, "1h0m0s", config["idle_ttl"])
	auth := config["auth"].(map[string]interface{})
	assert.Equal(t, float64(5), auth["capacity"])
	general := config["general"].(map[string]interface{})
	assert.Equal(t, float64(100), general["capacity"])
}

func TestRateLimitAdmin_Clients(t *testing.T) {
	app, svc := setupRateLimitTestApp(t)
	admit(t, svc, "10.0.0.5", ratelimit.ClassAuth)
	admit(t, svc, "10.0.0.5", ratelimit.ClassGeneral)

	status, body := doJSON(t, app, "GET", "/api/admin/ratelimit/clients", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(2), body["count"])

	status, body = doJSON(t, app, "GET", "/api/admin/ratelimit/clients?type=auth", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])

	status, _ = doJSON(t, app, "GET", "/api/admin/ratelimit/clients?type=bogus", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRateLimitAdmin_ClientStatus(t *testing.T) {
	app, svc := setupRateLimitTestApp(t)
	admit(t, svc, "10.0.0.5", ratelimit.ClassAuth)

	status, body := doJSON(t, app, "GET", "/api/admin/ratelimit/client/10.0.0.5", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	buckets := body["buckets"].([]interface{})
	require.Len(t, buckets, 1)
	bucket := buckets[0].(map[string]interface{})
	assert.Equal(t, "auth", bucket["class"])
	assert.Equal(t, float64(5), bucket["capacity"])

	status, _ = doJSON(t, app, "GET", "/api/admin/ratelimit/client/10.9.9.9", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestRateLimitAdmin_ResetClient(t *testing.T) {
	app, svc := setupRateLimitTestApp(t)
	for i := 0; i < 5; i++ {
		admit(t, svc, "10.0.0.5", ratelimit.ClassAuth)
	}
	d, err := svc.Admit(context.Background(), "10.0.0.5", ratelimit.ClassAuth, time.Now())
	require.NoError(t, err)
	require.False(t, d.Allowed)

	status, body := doJSON(t, app, "POST", "/api/admin/ratelimit/reset/auth/10.0.0.5", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "auth", body["class"])

	d, err = svc.Admit(context.Background(), "10.0.0.5", ratelimit.ClassAuth, time.Now())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)

	status, _ = doJSON(t, app, "POST", "/api/admin/ratelimit/reset/auth/10.9.9.9", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, _ = doJSON(t, app, "POST", "/api/admin/ratelimit/reset/bogus/10.0.0.5", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRateLimitAdmin_ResetAll(t *testing.T) {
	app, svc := setupRateLimitTestApp(t)
	admit(t, svc, "10.0.0.5", ratelimit.ClassAuth)
	admit(t, svc, "10.0.0.5", ratelimit.ClassGeneral)

	status, _ := doJSON(t, app, "POST", "/api/admin/ratelimit/reset?type=general", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 1, svc.Store(ratelimit.ClassAuth).Count())
	assert.Equal(t, 0, svc.Store(ratelimit.ClassGeneral).Count())

	status, _ = doJSON(t, app, "POST", "/api/admin/ratelimit/reset", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 0, svc.Store(ratelimit.ClassAuth).Count())

	status, _ = doJSON(t, app, "POST", "/api/admin/ratelimit/reset?type=bogus", "", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}
