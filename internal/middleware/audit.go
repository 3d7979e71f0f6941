package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/neogan74/rentguard/internal/audit"
)

// SessionIDHeader lets clients correlate several requests in the audit trail.
const SessionIDHeader = "X-Session-Id"

// AuditRequestContext publishes the request metadata audited operations copy
// into their records. The session id is the X-Session-Id header when present,
// otherwise the request id. Every string is copied out of fiber's request
// buffers because records are written after the request has been recycled.
func AuditRequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := GetRequestID(c)
		sessionID := utils.CopyString(c.Get(SessionIDHeader))
		if sessionID == "" {
			sessionID = requestID
		}

		info := audit.RequestInfo{
			Method:        utils.CopyString(c.Method()),
			URL:           utils.CopyString(c.OriginalURL()),
			ClientAddress: ClientAddress(c),
			UserAgent:     utils.CopyString(c.Get(fiber.HeaderUserAgent)),
			SessionID:     sessionID,
			RequestID:     requestID,
			TraceID:       GetTraceID(c),
		}
		c.SetUserContext(audit.WithRequest(c.UserContext(), info))
		return c.Next()
	}
}
