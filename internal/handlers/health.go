package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/claraverse/mcp-gateway/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	manager *services.MCPConnectionManager
	hub     *services.LauncherHub
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(manager *services.MCPConnectionManager, hub *services.LauncherHub) *HealthHandler {
	return &HealthHandler{manager: manager, hub: hub}
}

// Handle responds with gateway health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"connections": h.manager.Count(),
		"launcher":    h.hub.Status(),
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}
