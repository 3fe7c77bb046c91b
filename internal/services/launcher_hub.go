package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// ErrLauncherUnavailable is returned when no launcher is attached
var ErrLauncherUnavailable = errors.New("no launcher attached")

// LauncherConn is the websocket the launcher attached over
type LauncherConn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// LauncherStatus describes the attached launcher
type LauncherStatus struct {
	Attached      bool      `json:"attached"`
	LauncherID    string    `json:"launcher_id,omitempty"`
	Version       string    `json:"version,omitempty"`
	Platform      string    `json:"platform,omitempty"`
	AttachedAt    time.Time `json:"attached_at,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
}

// LauncherHub keeps the link to the privileged launcher and implements
// LauncherProxy on top of it. Only one launcher is attached at a time.
type LauncherHub struct {
	mu       sync.RWMutex
	link     *launcherLink
	metrics  *Metrics
	onDetach func(reason string)
}

type launcherLink struct {
	hello      models.LauncherHello
	conn       LauncherConn
	attachedAt time.Time

	writeMu sync.Mutex

	mu            sync.Mutex
	pending       map[string]chan models.LauncherResponse
	lastHeartbeat time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewLauncherHub creates a hub. onDetach (may be nil) runs whenever the
// attached launcher goes away, so its servers can be marked lost.
func NewLauncherHub(metrics *Metrics, onDetach func(reason string)) *LauncherHub {
	return &LauncherHub{metrics: metrics, onDetach: onDetach}
}

// Serve runs an attached launcher until its connection drops. The first
// message must be a hello. A newer launcher replaces the current one.
func (h *LauncherHub) Serve(conn LauncherConn) error {
	var msg models.LauncherMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("failed to read launcher hello: %w", err)
	}
	if msg.Type != models.LauncherMsgHello {
		_ = conn.WriteJSON(models.LauncherMessage{Type: models.LauncherMsgError})
		return fmt.Errorf("expected hello, got %q", msg.Type)
	}
	var hello models.LauncherHello
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		return fmt.Errorf("invalid launcher hello: %w", err)
	}

	link := &launcherLink{
		hello:         hello,
		conn:          conn,
		attachedAt:    time.Now(),
		lastHeartbeat: time.Now(),
		pending:       make(map[string]chan models.LauncherResponse),
		done:          make(chan struct{}),
	}
	h.attach(link)

	err := link.readLoop()
	h.detach(link, "launcher disconnected")
	return err
}

func (h *LauncherHub) attach(link *launcherLink) {
	h.mu.Lock()
	old := h.link
	h.link = link
	h.mu.Unlock()

	if old != nil {
		log.Printf("⚠️  [LAUNCHER] Replacing launcher %s with %s", old.hello.LauncherID, link.hello.LauncherID)
		old.close()
		// Servers owned by the old launcher died with it
		h.notifyDetach("launcher replaced")
	}

	h.metrics.RecordLauncherAttached(true)
	log.Printf("✅ [LAUNCHER] Attached: id=%s version=%s platform=%s",
		link.hello.LauncherID, link.hello.Version, link.hello.Platform)
}

func (h *LauncherHub) detach(link *launcherLink, reason string) {
	link.close()

	h.mu.Lock()
	current := h.link == link
	if current {
		h.link = nil
	}
	h.mu.Unlock()

	if !current {
		return
	}
	h.metrics.RecordLauncherAttached(false)
	log.Printf("🔌 [LAUNCHER] Detached: id=%s", link.hello.LauncherID)
	h.notifyDetach(reason)
}

func (h *LauncherHub) notifyDetach(reason string) {
	h.mu.RLock()
	fn := h.onDetach
	h.mu.RUnlock()
	if fn != nil {
		fn(reason)
	}
}

// SetOnDetach replaces the detach callback
func (h *LauncherHub) SetOnDetach(fn func(reason string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onDetach = fn
}

// Status reports the attached launcher, if any
func (h *LauncherHub) Status() LauncherStatus {
	link := h.current()
	if link == nil {
		return LauncherStatus{}
	}
	link.mu.Lock()
	defer link.mu.Unlock()
	return LauncherStatus{
		Attached:      true,
		LauncherID:    link.hello.LauncherID,
		Version:       link.hello.Version,
		Platform:      link.hello.Platform,
		AttachedAt:    link.attachedAt,
		LastHeartbeat: link.lastHeartbeat,
	}
}

// Close detaches the current launcher
func (h *LauncherHub) Close() {
	if link := h.current(); link != nil {
		link.close()
	}
}

func (h *LauncherHub) current() *launcherLink {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.link
}

// Connect asks the launcher to spawn a validated server and returns its initial capabilities
func (h *LauncherHub) Connect(ctx context.Context, serverID, serverName string, cfg *models.LaunchConfig) (*models.CapabilitySet, error) {
	resp, err := h.send(ctx, models.LauncherRequest{
		Action:     models.LauncherActionConnect,
		ServerID:   serverID,
		ServerName: serverName,
		Config:     cfg,
	})
	if err != nil {
		return nil, err
	}
	if resp.Capabilities == nil {
		return &models.CapabilitySet{}, nil
	}
	return resp.Capabilities, nil
}

// Request routes one protocol request to a server owned by the launcher
func (h *LauncherHub) Request(ctx context.Context, serverID, method string, params interface{}) (json.RawMessage, error) {
	req := models.LauncherRequest{
		Action:   models.LauncherActionRequest,
		ServerID: serverID,
		Method:   method,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s params: %w", method, err)
		}
		req.Params = data
	}

	resp, err := h.send(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Disconnect asks the launcher to stop a server. With no launcher attached
// there is nothing left to stop.
func (h *LauncherHub) Disconnect(ctx context.Context, serverID string) error {
	_, err := h.send(ctx, models.LauncherRequest{
		Action:   models.LauncherActionDisconnect,
		ServerID: serverID,
	})
	if errors.Is(err, ErrLauncherUnavailable) {
		return nil
	}
	return err
}

func (h *LauncherHub) send(ctx context.Context, req models.LauncherRequest) (models.LauncherResponse, error) {
	link := h.current()
	if link == nil {
		return models.LauncherResponse{}, ErrLauncherUnavailable
	}

	req.RequestID = uuid.New().String()
	resultChan := make(chan models.LauncherResponse, 1)
	link.addPending(req.RequestID, resultChan)
	defer link.removePending(req.RequestID)

	payload, err := json.Marshal(req)
	if err != nil {
		return models.LauncherResponse{}, fmt.Errorf("failed to encode launcher request: %w", err)
	}
	if err := link.write(models.LauncherMessage{Type: models.LauncherMsgRequest, Payload: payload}); err != nil {
		h.metrics.RecordLauncherRequest(req.Action, false)
		return models.LauncherResponse{}, fmt.Errorf("failed to send to launcher: %w", err)
	}

	select {
	case resp := <-resultChan:
		if resp.Error != "" {
			h.metrics.RecordLauncherRequest(req.Action, false)
			return resp, errors.New(resp.Error)
		}
		h.metrics.RecordLauncherRequest(req.Action, true)
		return resp, nil
	case <-link.done:
		h.metrics.RecordLauncherRequest(req.Action, false)
		return models.LauncherResponse{}, fmt.Errorf("%w: link closed before response", ErrLauncherUnavailable)
	case <-ctx.Done():
		h.metrics.RecordLauncherRequest(req.Action, false)
		return models.LauncherResponse{}, fmt.Errorf("launcher %s %s: %w", req.Action, req.ServerID, ctx.Err())
	}
}

func (l *launcherLink) readLoop() error {
	for {
		var msg models.LauncherMessage
		if err := l.conn.ReadJSON(&msg); err != nil {
			select {
			case <-l.done:
				return nil
			default:
				return err
			}
		}

		switch msg.Type {
		case models.LauncherMsgResponse:
			var resp models.LauncherResponse
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				log.Printf("⚠️  [LAUNCHER] Invalid response payload: %v", err)
				continue
			}
			l.deliver(resp)
		case models.LauncherMsgHeartbeat:
			l.mu.Lock()
			l.lastHeartbeat = time.Now()
			l.mu.Unlock()
		default:
			log.Printf("⚠️  [LAUNCHER] Unknown message type: %s", msg.Type)
		}
	}
}

func (l *launcherLink) write(msg models.LauncherMessage) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteJSON(msg)
}

func (l *launcherLink) addPending(id string, ch chan models.LauncherResponse) {
	l.mu.Lock()
	l.pending[id] = ch
	l.mu.Unlock()
}

func (l *launcherLink) removePending(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

func (l *launcherLink) deliver(resp models.LauncherResponse) {
	l.mu.Lock()
	ch, ok := l.pending[resp.RequestID]
	l.mu.Unlock()
	if !ok {
		log.Printf("⚠️  [LAUNCHER] Response for unknown request %s", resp.RequestID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func (l *launcherLink) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}
