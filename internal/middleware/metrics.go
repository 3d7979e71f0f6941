package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/neogan74/rentguard/internal/metrics"
)

// MetricsMiddleware records request count, latency and in-flight gauge,
// labelled by route pattern so ids in paths do not multiply series.
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}

		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()
		err := c.Next()

		labels := []string{c.Method(), routePath(c), strconv.Itoa(responseStatus(c, err))}
		metrics.HTTPRequestsTotal.WithLabelValues(labels...).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		return err
	}
}

// responseStatus is the status the client will see once an error returned
// down the chain has been rendered by the error handler.
func responseStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		return ferr.Code
	}
	return fiber.StatusInternalServerError
}

// unroutedPath labels requests answered before any route handler matched:
// unknown paths and requests stopped by middleware such as the rate limiter.
const unroutedPath = "unrouted"

// routePath returns the route pattern that handled the request. It is only
// meaningful after c.Next has returned.
func routePath(c *fiber.Ctx) string {
	r := c.Route()
	if r == nil || r.Path == "" {
		return unroutedPath
	}
	if r.Path == "/" && c.Path() != "/" {
		return unroutedPath
	}
	return r.Path
}
