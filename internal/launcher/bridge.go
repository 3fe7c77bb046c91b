package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// ErrAuthenticationFailed indicates the gateway rejected the launcher token
var ErrAuthenticationFailed = errors.New("authentication failed")

// RequestHandler answers gateway requests
type RequestHandler interface {
	HandleRequest(ctx context.Context, req models.LauncherRequest) models.LauncherResponse
}

// TokenSource returns a fresh bearer token for each attach
type TokenSource func() (string, error)

// BridgeOptions configures a Bridge
type BridgeOptions struct {
	GatewayURL        string
	Token             TokenSource
	Hello             models.LauncherHello
	Handler           RequestHandler
	RequestTimeout    time.Duration
	HeartbeatInterval time.Duration
	PingInterval      time.Duration
	Verbose           bool
}

// Bridge keeps the launcher attached to the gateway and serves its requests
type Bridge struct {
	opts           BridgeOptions
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	minReconnect   time.Duration
	maxReconnect   time.Duration
	onDisconnect   func()

	mutex     sync.RWMutex
	connected bool
}

// NewBridge creates a new WebSocket bridge
func NewBridge(opts BridgeOptions) *Bridge {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.PingInterval <= 0 {
		// Keeps the gateway's read deadline alive
		opts.PingInterval = 45 * time.Second
	}

	return &Bridge{
		opts:           opts,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: 1 * time.Second,
		minReconnect:   1 * time.Second,
		maxReconnect:   60 * time.Second,
	}
}

// SetDisconnectHandler sets the callback for when the connection is lost (called before reconnect attempt)
func (b *Bridge) SetDisconnectHandler(handler func()) {
	b.onDisconnect = handler
}

// IsConnected returns whether the bridge is currently connected
func (b *Bridge) IsConnected() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.connected
}

// Run attaches to the gateway and reconnects with exponential backoff until ctx is done.
// It returns nil on shutdown and ErrAuthenticationFailed when the token is refused.
func (b *Bridge) Run(ctx context.Context) error {
	attempt := 0
	for {
		served, err := b.serveOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrAuthenticationFailed) {
			log.Println("❌ Gateway rejected the launcher token. Check the shared secret.")
			return err
		}

		if served {
			attempt = 0
			b.reconnectDelay = b.minReconnect
			log.Println("🔌 Disconnected from gateway")
			if b.onDisconnect != nil {
				b.onDisconnect()
			}
		} else {
			attempt++
			log.Printf("❌ Connection failed (attempt %d): %v", attempt, err)
		}

		log.Printf("🔄 Retrying in %v...", b.reconnectDelay)
		select {
		case <-time.After(b.reconnectDelay):
		case <-ctx.Done():
			return nil
		}

		// Exponential backoff
		b.reconnectDelay = time.Duration(math.Min(
			float64(b.reconnectDelay*2),
			float64(b.maxReconnect),
		))
	}
}

// serveOnce dials, says hello, and serves until the link drops.
// served reports whether the link was established.
func (b *Bridge) serveOnce(ctx context.Context) (served bool, err error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return false, err
	}

	b.mutex.Lock()
	b.connected = true
	b.mutex.Unlock()
	defer func() {
		b.mutex.Lock()
		b.connected = false
		b.mutex.Unlock()
	}()

	log.Println("✅ Connected to gateway")

	hello, _ := json.Marshal(b.opts.Hello)
	if err := conn.WriteJSON(models.LauncherMessage{Type: models.LauncherMsgHello, Payload: hello}); err != nil {
		conn.Close()
		return true, fmt.Errorf("failed to send hello: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	writeChan := make(chan models.LauncherMessage, 100)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.writeLoop(connCtx, conn, writeChan)
		// A failed write ends the link
		conn.Close()
	}()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	err = b.readLoop(connCtx, conn, writeChan)
	cancel()
	wg.Wait()
	return true, err
}

func (b *Bridge) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := b.opts.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to issue launcher token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	if b.opts.Verbose {
		log.Printf("[Bridge] Connecting to %s", b.opts.GatewayURL)
	}

	conn, resp, err := b.dialer.DialContext(ctx, b.opts.GatewayURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

// readLoop handles incoming messages
func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn, writeChan chan<- models.LauncherMessage) error {
	for {
		var msg models.LauncherMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if b.opts.Verbose {
				log.Printf("[Bridge] Read error: %v", err)
			}
			return err
		}

		switch msg.Type {
		case models.LauncherMsgRequest:
			var req models.LauncherRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil || req.RequestID == "" {
				log.Printf("[Bridge] request missing request_id, ignoring")
				continue
			}
			if b.opts.Verbose {
				log.Printf("[Bridge] Request %s: %s %s %s", req.RequestID, req.Action, req.ServerID, req.Method)
			}
			go b.handle(ctx, req, writeChan)

		case models.LauncherMsgError:
			log.Printf("❌ Error from gateway: %s", string(msg.Payload))

		default:
			if b.opts.Verbose {
				log.Printf("[Bridge] Unknown message type: %s", msg.Type)
			}
		}
	}
}

func (b *Bridge) handle(ctx context.Context, req models.LauncherRequest, writeChan chan<- models.LauncherMessage) {
	reqCtx, cancel := context.WithTimeout(ctx, b.opts.RequestTimeout)
	defer cancel()

	resp := b.opts.Handler.HandleRequest(reqCtx, req)
	resp.RequestID = req.RequestID
	if resp.Error != "" {
		log.Printf("❌ [LAUNCHER] %s %s failed: %s", req.Action, req.ServerID, resp.Error)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		log.Printf("❌ [LAUNCHER] failed to encode response %s: %v", req.RequestID, err)
		return
	}

	select {
	case writeChan <- models.LauncherMessage{Type: models.LauncherMsgResponse, Payload: payload}:
	case <-ctx.Done():
	}
}

// writeLoop handles outgoing messages, heartbeats and pings
func (b *Bridge) writeLoop(ctx context.Context, conn *websocket.Conn, writeChan <-chan models.LauncherMessage) {
	heartbeatTicker := time.NewTicker(b.opts.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	pingTicker := time.NewTicker(b.opts.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case msg := <-writeChan:
			if err := conn.WriteJSON(msg); err != nil {
				if b.opts.Verbose {
					log.Printf("[Bridge] Write error: %v", err)
				}
				return
			}

		case <-heartbeatTicker.C:
			if err := conn.WriteJSON(models.LauncherMessage{Type: models.LauncherMsgHeartbeat}); err != nil {
				return
			}

		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				if b.opts.Verbose {
					log.Printf("[Bridge] Ping write error: %v", err)
				}
				return
			}

		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}
