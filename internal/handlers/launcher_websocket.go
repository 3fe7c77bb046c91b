package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/claraverse/mcp-gateway/internal/models"
	"github.com/claraverse/mcp-gateway/internal/services"
	"github.com/claraverse/mcp-gateway/pkg/auth"
)

const launcherReadTimeout = 90 * time.Second

// LauncherWebSocketHandler accepts the privileged launcher's attach link
type LauncherWebSocketHandler struct {
	hub  *services.LauncherHub
	auth *auth.LauncherAuth
}

// NewLauncherWebSocketHandler creates a new launcher WebSocket handler
func NewLauncherWebSocketHandler(hub *services.LauncherHub, launcherAuth *auth.LauncherAuth) *LauncherWebSocketHandler {
	return &LauncherWebSocketHandler{hub: hub, auth: launcherAuth}
}

// Upgrade verifies the launcher's bearer token before the websocket upgrade
func (h *LauncherWebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	token, err := auth.ExtractToken(c.Get("Authorization"))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Launcher token required",
		})
	}

	claims, err := h.auth.VerifyToken(token)
	if err != nil {
		log.Printf("❌ [LAUNCHER] Rejected attach: %v", err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid launcher token",
		})
	}

	c.Locals("launcher_id", claims.LauncherID)
	return c.Next()
}

// HandleConnection serves an attached launcher until it goes away
func (h *LauncherWebSocketHandler) HandleConnection(c *websocket.Conn) {
	launcherID, _ := c.Locals("launcher_id").(string)

	c.SetReadDeadline(time.Now().Add(launcherReadTimeout))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(launcherReadTimeout))
		return nil
	})

	conn := &launcherConn{conn: c, launcherID: launcherID}
	if err := h.hub.Serve(conn); err != nil {
		log.Printf("⚠️  [LAUNCHER] Link %s ended: %v", launcherID, err)
	}
}

// launcherConn adapts the websocket to services.LauncherConn. Every read
// extends the deadline, and the hello must name the launcher the token was issued to.
type launcherConn struct {
	conn       *websocket.Conn
	launcherID string
	helloSeen  bool
}

func (l *launcherConn) ReadJSON(v interface{}) error {
	if err := l.conn.ReadJSON(v); err != nil {
		return err
	}
	l.conn.SetReadDeadline(time.Now().Add(launcherReadTimeout))

	if l.helloSeen {
		return nil
	}
	l.helloSeen = true

	msg, ok := v.(*models.LauncherMessage)
	if !ok || msg.Type != models.LauncherMsgHello {
		return nil
	}
	var hello models.LauncherHello
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		return nil
	}
	if hello.LauncherID != l.launcherID {
		return fmt.Errorf("hello names launcher %q but token was issued to %q", hello.LauncherID, l.launcherID)
	}
	return nil
}

func (l *launcherConn) WriteJSON(v interface{}) error {
	return l.conn.WriteJSON(v)
}

func (l *launcherConn) Close() error {
	return l.conn.Close()
}
