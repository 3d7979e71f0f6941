package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"

	"github.com/neogan74/rentguard/internal/identity"
	"github.com/neogan74/rentguard/internal/logger"
)

// Locals keys set by RequestLogging.
const (
	RequestIDKey = "request_id"
	LoggerKey    = "logger"
)

// RequestIDHeader carries the correlation id in both directions.
const RequestIDHeader = "X-Request-Id"

const maxRequestIDLen = 128

// RequestLogging assigns the correlation id (reusing a sane inbound
// X-Request-Id), stores a request-scoped logger and logs one line per
// completed request at a level derived from the status code.
func RequestLogging(log logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := utils.CopyString(c.Get(RequestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.NewString()
		}
		c.Locals(RequestIDKey, requestID)
		c.Set(RequestIDHeader, requestID)

		reqLog := log.WithRequest(requestID)
		c.Locals(LoggerKey, reqLog)

		start := time.Now()
		err := c.Next()
		if err != nil {
			// Let fiber render the error now so the logged status is the one sent.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				reqLog.Error("Error handler failed", logger.Error(herr))
			}
		}

		status := c.Response().StatusCode()
		fields := []logger.Field{
			logger.String("method", c.Method()),
			logger.String("path", c.Path()),
			logger.Int("status", status),
			logger.Duration("duration", time.Since(start)),
			logger.Int("bytes", len(c.Response().Body())),
			logger.String("client", ClientAddress(c)),
		}
		if p := identity.FromContext(c.UserContext()); !p.IsAnonymous() {
			fields = append(fields, logger.String("subject", p.Subject))
		}
		if err != nil {
			fields = append(fields, logger.Error(err))
		}

		switch {
		case status >= fiber.StatusInternalServerError:
			reqLog.Error("Request completed", fields...)
		case status >= fiber.StatusBadRequest:
			reqLog.Warn("Request completed", fields...)
		default:
			reqLog.Info("Request completed", fields...)
		}
		return nil
	}
}

// GetRequestID returns the correlation id, or "" outside RequestLogging.
func GetRequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(RequestIDKey).(string)
	return id
}

// GetLogger returns the request-scoped logger, falling back to the default.
func GetLogger(c *fiber.Ctx) logger.Logger {
	if log, ok := c.Locals(LoggerKey).(logger.Logger); ok {
		return log
	}
	return logger.GetDefault()
}
