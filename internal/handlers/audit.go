package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/claraverse/mcp-gateway/internal/audit"
	"github.com/claraverse/mcp-gateway/internal/jobs"
)

// AuditSource returns the newest audit events
type AuditSource interface {
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

// AuditHandler exposes the audit trail and the maintenance jobs that trim it
type AuditHandler struct {
	source    AuditSource
	scheduler *jobs.JobScheduler
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(source AuditSource, scheduler *jobs.JobScheduler) *AuditHandler {
	return &AuditHandler{source: source, scheduler: scheduler}
}

// ListEvents returns the newest audit events
// GET /api/mcp/audit?limit=
func (h *AuditHandler) ListEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit > 500 {
		limit = 500
	}

	events, err := h.source.Recent(c.UserContext(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read audit log",
		})
	}

	return c.JSON(fiber.Map{
		"events": events,
		"count":  len(events),
	})
}

// JobStatus reports the scheduled maintenance jobs
// GET /api/mcp/jobs
func (h *AuditHandler) JobStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"jobs": h.scheduler.GetStatus(),
	})
}
