package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
	System     SystemHealth      `json:"system"`
}

type SystemHealth struct {
	Goroutines  int    `json:"goroutines"`
	MemoryAlloc uint64 `json:"memory_alloc_bytes"`
	MemorySys   uint64 `json:"memory_sys_bytes"`
	NumGC       uint32 `json:"num_gc"`
}

// Check is a named dependency probe, e.g. the redis limiter or the audit store.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// HealthHandler handles health check operations
type HealthHandler struct {
	checks    []Check
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, checks ...Check) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		startTime: time.Now(),
		version:   version,
		timeout:   2 * time.Second,
	}
}

// run probes every dependency and reports whether all passed.
func (h *HealthHandler) run(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ok := true
	for _, check := range h.checks {
		if err := check.Probe(ctx); err != nil {
			results[check.Name] = "unhealthy: " + err.Error()
			ok = false
			continue
		}
		results[check.Name] = "healthy"
	}
	return results, ok
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	components, ok := h.run(c.UserContext())
	status := HealthStatus{
		Status:     "healthy",
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
		Timestamp:  time.Now(),
		Components: components,
		System: SystemHealth{
			Goroutines:  runtime.NumGoroutine(),
			MemoryAlloc: m.Alloc,
			MemorySys:   m.Sys,
			NumGC:       m.NumGC,
		},
	}
	if !ok {
		status.Status = "degraded"
	}

	return c.JSON(status)
}

// Liveness is a simple liveness probe
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// Readiness checks if the service is ready to accept traffic
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	components, ok := h.run(c.UserContext())
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":     "not_ready",
			"components": components,
			"timestamp":  time.Now(),
		})
	}

	return c.JSON(fiber.Map{
		"status":     "ready",
		"components": components,
		"timestamp":  time.Now(),
	})
}
