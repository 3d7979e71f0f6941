package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/neogan74/rentguard/internal/identity"
	"github.com/neogan74/rentguard/internal/logger"
)

// ErrorResponse is the JSON body of every non-2xx answer produced by handlers.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Fail(c, fiber.StatusBadRequest, message)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Fail(c, fiber.StatusUnauthorized, message)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Fail(c, fiber.StatusForbidden, message)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Fail(c, fiber.StatusNotFound, message)
}

func UnprocessableEntity(c *fiber.Ctx, message string) error {
	return Fail(c, fiber.StatusUnprocessableEntity, message)
}

func InternalServerError(c *fiber.Ctx, message string) error {
	return Fail(c, fiber.StatusInternalServerError, message)
}

func NotImplemented(c *fiber.Ctx, message string) error {
	return Fail(c, fiber.StatusNotImplemented, message)
}

// Fail writes an ErrorResponse whose error title is the standard reason
// phrase for status. 5xx answers are logged at error level, the rest at warn.
func Fail(c *fiber.Ctx, status int, message string) error {
	title := utils.StatusMessage(status)

	fields := []logger.Field{
		logger.Int("status", status),
		logger.String("message", message),
		logger.String("route", c.Method()+" "+c.Path()),
		logger.String("client", ClientAddress(c)),
	}
	if p := identity.FromContext(c.UserContext()); !p.IsAnonymous() {
		fields = append(fields, logger.String("subject", p.Subject))
	}
	if status >= fiber.StatusInternalServerError {
		GetLogger(c).Error(title, fields...)
	} else {
		GetLogger(c).Warn(title, fields...)
	}

	return c.Status(status).JSON(ErrorResponse{
		Error:     title,
		Message:   message,
		RequestID: GetRequestID(c),
		Timestamp: time.Now().UTC(),
		Path:      c.Path(),
	})
}
