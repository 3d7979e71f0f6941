package handlers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/neogan74/rentguard/internal/audit"
	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/middleware"
)

// AuditQuerier reads audit records back. *audit.Manager satisfies it.
type AuditQuerier interface {
	Query(ctx context.Context, q audit.Query) ([]audit.Record, error)
}

// AuditHandler serves the audit trail.
type AuditHandler struct {
	querier AuditQuerier
}

func NewAuditHandler(querier AuditQuerier) *AuditHandler {
	return &AuditHandler{querier: querier}
}

// Query returns records matching the filters, oldest first
// GET /api/audit?entity=&entityId=&actor=&from=&to=&limit=
func (h *AuditHandler) Query(c *fiber.Ctx) error {
	q := audit.Query{
		EntityName: c.Query("entity"),
		EntityID:   c.Query("entityId"),
		ActorID:    c.Query("actor"),
	}

	var err error
	if q.From, err = parseTime(c.Query("from")); err != nil {
		return middleware.BadRequest(c, "from must be an RFC3339 timestamp")
	}
	if q.To, err = parseTime(c.Query("to")); err != nil {
		return middleware.BadRequest(c, "to must be an RFC3339 timestamp")
	}
	if raw := c.Query("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil || q.Limit < 0 {
			return middleware.BadRequest(c, "limit must be a non-negative integer")
		}
	}
	q = q.Normalize()

	records, err := h.querier.Query(c.UserContext(), q)
	if err != nil {
		if errors.Is(err, audit.ErrQueryUnsupported) {
			return middleware.NotImplemented(c, err.Error())
		}
		middleware.GetLogger(c).Error("Audit query failed", logger.Error(err))
		return middleware.InternalServerError(c, "audit query failed")
	}
	if records == nil {
		records = []audit.Record{}
	}

	return c.JSON(fiber.Map{
		"count":   len(records),
		"limit":   q.Limit,
		"records": records,
	})
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
