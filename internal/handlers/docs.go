package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Endpoint describes one route in the API index.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Auth        string `json:"auth"`
}

// DocsHandler serves a static index of the API.
type DocsHandler struct {
	version   string
	endpoints []Endpoint
}

func NewDocsHandler(version string) *DocsHandler {
	return &DocsHandler{
		version: version,
		endpoints: []Endpoint{
			{"POST", "/api/auth/login", "Exchange username and password for a bearer token", "none"},
			{"GET", "/api/me", "Current principal", "optional"},
			{"GET", "/api/cars", "List cars", "optional"},
			{"GET", "/api/cars/:id", "Find a car", "optional"},
			{"POST", "/api/cars", "Register a car", "ROLE_ADMIN"},
			{"PUT", "/api/cars/:id/price", "Change the daily price", "ROLE_ADMIN"},
			{"DELETE", "/api/cars/:id", "Remove a car", "ROLE_ADMIN"},
			{"GET", "/api/audit", "Query the audit trail", "ROLE_ADMIN"},
			{"GET", "/api/admin/ratelimit/stats", "Bucket counts per class", "ROLE_ADMIN"},
			{"GET", "/api/admin/ratelimit/config", "Active rate limit policies", "ROLE_ADMIN"},
			{"GET", "/api/admin/ratelimit/clients", "Tracked buckets", "ROLE_ADMIN"},
			{"GET", "/api/admin/ratelimit/client/:identifier", "Buckets of one client", "ROLE_ADMIN"},
			{"POST", "/api/admin/ratelimit/reset/:class/:identifier", "Reset one bucket", "ROLE_ADMIN"},
			{"POST", "/api/admin/ratelimit/reset", "Reset all buckets", "ROLE_ADMIN"},
			{"GET", "/health", "Health summary", "none"},
			{"GET", "/health/live", "Liveness probe", "none"},
			{"GET", "/health/ready", "Readiness probe", "none"},
			{"GET", "/api/test/ping", "Connectivity check", "none"},
			{"GET", "/metrics", "Prometheus metrics", "none"},
		},
	}
}

// Index lists the API
// GET /api/docs
func (h *DocsHandler) Index(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service":   "rentguard",
		"version":   h.version,
		"endpoints": h.endpoints,
	})
}

// Ping answers without touching any dependency
// GET /api/test/ping
func (h *DocsHandler) Ping(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message":   "pong",
		"timestamp": time.Now(),
	})
}
