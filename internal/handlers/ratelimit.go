package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/middleware"
	"github.com/neogan74/rentguard/internal/ratelimit"
)

// RateLimitHandler handles rate limit administration endpoints
type RateLimitHandler struct {
	service *ratelimit.Service
	log     logger.Logger
	now     func() time.Time
}

// NewRateLimitHandler creates a new rate limit admin handler
func NewRateLimitHandler(service *ratelimit.Service, log logger.Logger) *RateLimitHandler {
	return &RateLimitHandler{
		service: service,
		log:     log,
		now:     time.Now,
	}
}

// GetStats returns current rate limiting statistics
// GET /api/admin/ratelimit/stats
func (h *RateLimitHandler) GetStats(c *fiber.Ctx) error {
	stats := h.service.Stats()

	h.log.Debug("Rate limit stats retrieved",
		logger.Int("auth_buckets", getIntStat(stats, "auth_buckets")),
		logger.Int("general_buckets", getIntStat(stats, "general_buckets")))

	return c.JSON(fiber.Map{
		"success": true,
		"data":    stats,
	})
}

// GetConfig returns current rate limit configuration
// GET /api/admin/ratelimit/config
func (h *RateLimitHandler) GetConfig(c *fiber.Ctx) error {
	config := h.service.GetConfig()

	return c.JSON(fiber.Map{
		"success": true,
		"config": fiber.Map{
			"enabled":       config.Enabled,
			"auth":          policyMap(config.Auth),
			"general":       policyMap(config.General),
			"auth_prefixes": config.AuthPrefixes,
			"idle_ttl":      config.IdleTTL.String(),
		},
	})
}

func policyMap(p ratelimit.Policy) fiber.Map {
	return fiber.Map{
		"capacity":          p.Capacity,
		"refill_per_second": p.RefillPerSecond,
	}
}

// GetActiveClients returns the tracked buckets
// GET /api/admin/ratelimit/clients?type=all|auth|general
func (h *RateLimitHandler) GetActiveClients(c *fiber.Ctx) error {
	filter := c.Query("type", "all")
	if filter != "all" {
		if _, err := ratelimit.ParseClass(filter); err != nil {
			return middleware.BadRequest(c, "type must be one of: all, auth, general")
		}
	}

	clients := h.service.GetActiveClients(filter, h.now())

	return c.JSON(fiber.Map{
		"success": true,
		"count":   len(clients),
		"clients": clients,
	})
}

// GetClientStatus returns the buckets held for one client
// GET /api/admin/ratelimit/client/:identifier
func (h *RateLimitHandler) GetClientStatus(c *fiber.Ctx) error {
	identifier := c.Params("identifier")
	if identifier == "" {
		return middleware.BadRequest(c, "client identifier is required")
	}

	status := h.service.GetClientStatus(identifier, h.now())
	if len(status) == 0 {
		return middleware.NotFound(c, "client not found")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"buckets": status,
	})
}

// ResetClient drops the bucket of one client in one class
// POST /api/admin/ratelimit/reset/:class/:identifier
func (h *RateLimitHandler) ResetClient(c *fiber.Ctx) error {
	class, err := ratelimit.ParseClass(c.Params("class"))
	if err != nil {
		return middleware.BadRequest(c, err.Error())
	}
	identifier := c.Params("identifier")
	if identifier == "" {
		return middleware.BadRequest(c, "client identifier is required")
	}

	if !h.service.Reset(class, identifier) {
		return middleware.NotFound(c, "client not found")
	}

	h.log.Info("Rate limit reset for client",
		logger.String("class", string(class)),
		logger.String("identifier", identifier),
		logger.String("admin_user", getAdminUser(c)))

	return c.JSON(fiber.Map{
		"success":    true,
		"message":    "Rate limit reset successfully",
		"class":      class,
		"identifier": identifier,
	})
}

// ResetAll drops every bucket, optionally of one class
// POST /api/admin/ratelimit/reset?type=all|auth|general
func (h *RateLimitHandler) ResetAll(c *fiber.Ctx) error {
	limiterType := c.Query("type", "all")

	var class ratelimit.Class
	if limiterType != "all" {
		parsed, err := ratelimit.ParseClass(limiterType)
		if err != nil {
			return middleware.BadRequest(c, "type must be one of: all, auth, general")
		}
		class = parsed
	}

	h.service.ResetAll(class)

	h.log.Warn("All rate limiters reset",
		logger.String("type", limiterType),
		logger.String("admin_user", getAdminUser(c)))

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Rate limiters reset",
		"type":    limiterType,
	})
}

// Helper functions

func getIntStat(stats map[string]interface{}, key string) int {
	if val, ok := stats[key].(int); ok {
		return val
	}
	return 0
}

func getAdminUser(c *fiber.Ctx) string {
	if p := middleware.GetPrincipal(c); !p.IsAnonymous() {
		return p.Subject
	}
	return "unknown"
}
