package handlers

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/claraverse/mcp-gateway/internal/models"
	"github.com/claraverse/mcp-gateway/internal/security"
	"github.com/claraverse/mcp-gateway/internal/services"
	"github.com/claraverse/mcp-gateway/internal/tools"
)

// MCPHandler exposes the connection manager, tool catalog and executor over HTTP
type MCPHandler struct {
	manager  *services.MCPConnectionManager
	catalog  *services.ToolCatalog
	executor *services.ToolExecutor
}

// NewMCPHandler creates a new MCP handler
func NewMCPHandler(manager *services.MCPConnectionManager, catalog *services.ToolCatalog, executor *services.ToolExecutor) *MCPHandler {
	return &MCPHandler{
		manager:  manager,
		catalog:  catalog,
		executor: executor,
	}
}

// ToolCallsRequest carries a raw model response in a vendor's wire shape
type ToolCallsRequest struct {
	Vendor   string          `json:"vendor"`
	Response json.RawMessage `json:"response"`
}

// ExecuteRequest carries provider-neutral tool calls
type ExecuteRequest struct {
	Calls []models.ToolCall `json:"calls"`
}

// ConnectServer connects a server
// POST /api/mcp/servers
func (h *MCPHandler) ConnectServer(c *fiber.Ctx) error {
	var cfg models.ServerConfig
	if err := c.BodyParser(&cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	conn, err := h.manager.Connect(c.UserContext(), cfg)
	if err != nil {
		return connectError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(conn)
}

// connectError maps a Connect failure onto an HTTP status
func connectError(c *fiber.Ctx, err error) error {
	var vErr *security.ValidationError
	switch {
	case errors.As(err, &vErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
			"code":  vErr.Code,
		})
	case errors.Is(err, services.ErrInvalidConfig):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, services.ErrLauncherUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	default:
		log.Printf("❌ [MCP] Connect failed: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

// ListServers returns every registry entry
// GET /api/mcp/servers
func (h *MCPHandler) ListServers(c *fiber.Ctx) error {
	servers := h.manager.Statuses()
	return c.JSON(fiber.Map{
		"servers":   servers,
		"total":     len(servers),
		"connected": h.manager.Count(),
	})
}

// DisconnectServer disconnects a server
// DELETE /api/mcp/servers/:id
func (h *MCPHandler) DisconnectServer(c *fiber.Ctx) error {
	serverID := c.Params("id")

	if err := h.manager.Disconnect(c.UserContext(), serverID); err != nil {
		if errors.Is(err, services.ErrServerNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"server_id": serverID,
	})
}

// ReadResource reads a resource from a connected server
// GET /api/mcp/servers/:id/resources?uri=
func (h *MCPHandler) ReadResource(c *fiber.Ctx) error {
	uri := c.Query("uri")
	if uri == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "uri query parameter is required",
		})
	}

	result, err := h.manager.ReadResource(c.UserContext(), c.Params("id"), uri)
	if err != nil {
		return c.Status(lookupStatus(err)).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(result)
}

func lookupStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrServerNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrServerNotConnected):
		return fiber.StatusConflict
	default:
		return fiber.StatusBadGateway
	}
}

// ListTools returns the aggregated tool list, optionally in a vendor's format
// GET /api/mcp/tools?vendor=
func (h *MCPHandler) ListTools(c *fiber.Ctx) error {
	vendorName := c.Query("vendor")
	if vendorName == "" {
		list := h.catalog.Tools()
		return c.JSON(fiber.Map{
			"tools": list,
			"count": len(list),
		})
	}

	vendor, err := tools.ParseVendor(vendorName)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	formatted, err := h.catalog.Formatted(vendor)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"vendor": vendor,
		"tools":  formatted,
	})
}

// ExecuteToolCalls parses a model response, runs every tool call it holds and
// returns the results in the same vendor's format
// POST /api/mcp/tool-calls
func (h *MCPHandler) ExecuteToolCalls(c *fiber.Ctx) error {
	var req ToolCallsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	vendor, err := tools.ParseVendor(req.Vendor)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	calls, err := tools.ParseToolCallsFrom(vendor, req.Response)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	results := h.executor.ExecuteToolCalls(c.UserContext(), calls, h.catalog.Tools())

	formatted := make([]interface{}, 0, len(results))
	for _, result := range results {
		f, err := tools.FormatToolResultFor(vendor, result)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		formatted = append(formatted, f)
	}

	summary := services.Summarize(results)
	return c.JSON(fiber.Map{
		"vendor":    vendor,
		"results":   formatted,
		"summary":   summary.String(),
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	})
}

// Execute runs provider-neutral tool calls
// POST /api/mcp/execute
func (h *MCPHandler) Execute(c *fiber.Ctx) error {
	var req ExecuteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	results := h.executor.ExecuteToolCalls(c.UserContext(), req.Calls, h.catalog.Tools())
	summary := services.Summarize(results)

	return c.JSON(fiber.Map{
		"results": results,
		"summary": summary.String(),
	})
}

// RegisterRoutes mounts the MCP API on router
func (h *MCPHandler) RegisterRoutes(router fiber.Router) {
	mcp := router.Group("/mcp")
	mcp.Post("/servers", h.ConnectServer)
	mcp.Get("/servers", h.ListServers)
	mcp.Delete("/servers/:id", h.DisconnectServer)
	mcp.Get("/servers/:id/resources", h.ReadResource)
	mcp.Get("/tools", h.ListTools)
	mcp.Post("/tool-calls", h.ExecuteToolCalls)
	mcp.Post("/execute", h.Execute)
}
