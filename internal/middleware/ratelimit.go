package middleware

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/metrics"
	"github.com/neogan74/rentguard/internal/ratelimit"
)

// Rate limit response headers.
const (
	HeaderRateLimitRemaining = "X-Rate-Limit-Remaining"
	HeaderRateLimitReset     = "X-Rate-Limit-Reset"
)

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	Limiter    ratelimit.Limiter
	Classifier *ratelimit.Classifier
	// Backend labels backend error metrics.
	Backend string
	// Clock defaults to time.Now.
	Clock func() time.Time
	// SkipPrefixes are never limited, e.g. /metrics and /health.
	SkipPrefixes []string
}

// RateLimit admits each request against the bucket of its client address and
// endpoint class. Denied requests get 429 and never reach later handlers.
// When the limiter itself fails the request is admitted.
func RateLimit(cfg RateLimitConfig) fiber.Handler {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = ratelimit.NewClassifier(nil)
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "memory"
	}

	return func(c *fiber.Ctx) error {
		path := c.Path()
		for _, prefix := range cfg.SkipPrefixes {
			if strings.HasPrefix(path, prefix) {
				return c.Next()
			}
		}

		class := classifier.Classify(path)
		client := ClientAddress(c)

		decision, err := cfg.Limiter.Admit(c.UserContext(), client, class, clock())
		if err != nil {
			metrics.RateLimitBackendErrors.WithLabelValues(backend).Inc()
			GetLogger(c).Warn("Rate limiter unavailable, admitting request",
				logger.String("client", client),
				logger.String("endpoint_class", string(class)),
				logger.Error(err))
			return c.Next()
		}

		if !decision.Allowed {
			metrics.RateLimitExceeded.WithLabelValues(string(class)).Inc()
			metrics.RateLimitRequestsTotal.WithLabelValues(string(class), "exceeded").Inc()

			GetLogger(c).Warn("Rate limit exceeded",
				logger.String("client", client),
				logger.String("endpoint_class", string(class)),
				logger.Int64("retry_after", decision.RetryAfterSeconds))

			c.Set(fiber.HeaderRetryAfter, strconv.FormatInt(decision.RetryAfterSeconds, 10))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":      "Rate limit exceeded",
				"message":    fmt.Sprintf("Too many requests. Please try again in %d seconds.", decision.RetryAfterSeconds),
				"retryAfter": decision.RetryAfterSeconds,
			})
		}

		metrics.RateLimitRequestsTotal.WithLabelValues(string(class), "allowed").Inc()

		c.Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
		c.Set(HeaderRateLimitReset, strconv.FormatInt(decision.ResetSeconds, 10))

		return c.Next()
	}
}

// ClientAddress returns the first X-Forwarded-For entry, or the peer address.
// The result is a copy and may outlive the request.
func ClientAddress(c *fiber.Ctx) string {
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return utils.CopyString(first)
		}
	}
	return utils.CopyString(c.IP())
}
