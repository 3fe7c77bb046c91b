package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"github.com/claraverse/mcp-gateway/internal/audit"
	"github.com/claraverse/mcp-gateway/internal/logging"
	"github.com/claraverse/mcp-gateway/internal/models"
	"github.com/claraverse/mcp-gateway/internal/security"
)

var (
	// ErrInvalidConfig wraps a ServerConfig that is missing required fields
	ErrInvalidConfig = errors.New("invalid server config")
	// ErrServerNotFound is returned for an identity with no registry entry
	ErrServerNotFound = errors.New("server not found")
	// ErrServerNotConnected is returned when the entry exists but is not connected
	ErrServerNotConnected = errors.New("server not connected")
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultCallTimeout    = 60 * time.Second
)

// LauncherProxy is the privileged out-of-process launcher that owns local
// subprocesses. The gateway never spawns a process itself.
type LauncherProxy interface {
	Connect(ctx context.Context, serverID, serverName string, cfg *models.LaunchConfig) (*models.CapabilitySet, error)
	Request(ctx context.Context, serverID, method string, params interface{}) (json.RawMessage, error)
	Disconnect(ctx context.Context, serverID string) error
}

// transportHandle is the live handle of a connection. It is one of
// localProcessHandle or streamingEndpointHandle.
type transportHandle interface {
	transportKind() models.TransportKind
}

type localProcessHandle struct {
	serverID string
	proxy    LauncherProxy
}

func (localProcessHandle) transportKind() models.TransportKind {
	return models.TransportLocalProcess
}

type streamingEndpointHandle struct {
	session MCPSession
}

func (streamingEndpointHandle) transportKind() models.TransportKind {
	return models.TransportStreamingEndpoint
}

type connectionEntry struct {
	conn   models.Connection
	handle transportHandle
}

// ManagerOptions configures an MCPConnectionManager
type ManagerOptions struct {
	Launcher  LauncherProxy
	Dialer    SessionDialer
	Validator *security.LaunchValidator
	Recorder  audit.Recorder
	Metrics   *Metrics

	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	// AllowPrivateEndpoints permits streaming endpoints on loopback and private networks
	AllowPrivateEndpoints bool
}

// MCPConnectionManager owns the registry of tool server connections
type MCPConnectionManager struct {
	launcher     LauncherProxy
	dialer       SessionDialer
	validator    *security.LaunchValidator
	recorder     audit.Recorder
	metrics      *Metrics
	allowPrivate bool

	connectTimeout time.Duration
	callTimeout    time.Duration

	locks      *keyedMutex
	mu         sync.RWMutex
	entries    map[string]*connectionEntry
	generation atomic.Uint64
}

// NewMCPConnectionManager creates a connection manager
func NewMCPConnectionManager(opts ManagerOptions) *MCPConnectionManager {
	if opts.Recorder == nil {
		opts.Recorder = audit.Nop{}
	}
	if opts.Validator == nil {
		opts.Validator = security.NewLaunchValidator(opts.Recorder)
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}

	return &MCPConnectionManager{
		launcher:       opts.Launcher,
		dialer:         opts.Dialer,
		validator:      opts.Validator,
		recorder:       opts.Recorder,
		metrics:        opts.Metrics,
		allowPrivate:   opts.AllowPrivateEndpoints,
		connectTimeout: opts.ConnectTimeout,
		callTimeout:    opts.CallTimeout,
		locks:          newKeyedMutex(),
		entries:        make(map[string]*connectionEntry),
	}
}

// Connect opens a connection to the server described by cfg and discovers
// its capabilities. An existing connected entry is returned unchanged; a
// stale or failed entry is torn down first.
func (m *MCPConnectionManager) Connect(ctx context.Context, cfg models.ServerConfig) (*models.Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	unlock := m.locks.Lock(cfg.ID)
	defer unlock()

	if existing, ok := m.entry(cfg.ID); ok {
		if existing.conn.Status == models.StatusConnected {
			conn := existing.conn
			return &conn, nil
		}
		if err := m.remove(ctx, cfg.ID); err != nil {
			log.Printf("⚠️  [MCP] Failed to close stale handle for %s: %v", cfg.ID, err)
		}
	}

	pending := &connectionEntry{conn: models.Connection{
		ServerID:   cfg.ID,
		ServerName: cfg.DisplayName(),
		Transport:  cfg.Type,
		Status:     models.StatusConnecting,
		UpdatedAt:  time.Now(),
	}}
	m.store(cfg.ID, pending)

	connectCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	handle, snapshot, err := m.open(connectCtx, cfg)
	if err != nil {
		m.markFailed(ctx, cfg, err)
		return nil, fmt.Errorf("failed to connect server %s: %w", cfg.ID, err)
	}

	caps := m.discover(connectCtx, cfg, handle, snapshot)

	now := time.Now()
	entry := &connectionEntry{
		conn: models.Connection{
			ServerID:     cfg.ID,
			ServerName:   cfg.DisplayName(),
			Transport:    cfg.Type,
			Status:       models.StatusConnected,
			Capabilities: caps,
			ConnectedAt:  now,
			UpdatedAt:    now,
		},
		handle: handle,
	}
	if !m.commit(cfg.ID, pending, entry) {
		// The transport went away while discovery ran; the launcher has already stopped the server
		if err := m.closeHandle(ctx, handle); err != nil {
			log.Printf("⚠️  [MCP] Failed to close abandoned handle for %s: %v", cfg.ID, err)
		}
		err := fmt.Errorf("%w: link lost while connecting", ErrLauncherUnavailable)
		m.markFailed(ctx, cfg, err)
		return nil, fmt.Errorf("failed to connect server %s: %w", cfg.ID, err)
	}

	m.metrics.RecordConnectionAttempt(string(cfg.Type), true)
	event := audit.NewEvent(audit.KindConnection, true, "connected")
	event.ServerID = cfg.ID
	event.ServerName = cfg.DisplayName()
	event.Details = map[string]string{"transport": string(cfg.Type)}
	m.recorder.Record(ctx, event)

	log.Printf("✅ [MCP] Connected %s (%s): %d tools, %d resources, %d prompts",
		cfg.DisplayName(), cfg.Type, len(caps.Tools), len(caps.Resources), len(caps.Prompts))

	conn := entry.conn
	return &conn, nil
}

// open establishes the transport. For local-process servers it also returns
// the launcher's initial capability snapshot.
func (m *MCPConnectionManager) open(ctx context.Context, cfg models.ServerConfig) (transportHandle, *models.CapabilitySet, error) {
	switch cfg.Type {
	case models.TransportLocalProcess:
		launch, err := m.validator.Validate(ctx, cfg)
		if err != nil {
			var vErr *security.ValidationError
			if errors.As(err, &vErr) {
				m.metrics.RecordSandboxRejection(string(vErr.Code))
			}
			return nil, nil, err
		}
		if m.launcher == nil {
			return nil, nil, ErrLauncherUnavailable
		}
		snapshot, err := m.launcher.Connect(ctx, cfg.ID, cfg.DisplayName(), launch)
		if err != nil {
			if !errors.Is(err, ErrLauncherUnavailable) {
				// The launcher may still be starting the process after we gave up on it
				m.abandonLaunch(ctx, cfg.ID)
			}
			return nil, nil, err
		}
		return localProcessHandle{serverID: cfg.ID, proxy: m.launcher}, snapshot, nil

	case models.TransportStreamingEndpoint:
		if err := security.ValidateEndpointURL(cfg.URL, m.allowPrivate); err != nil {
			return nil, nil, err
		}
		if m.dialer == nil {
			return nil, nil, fmt.Errorf("no session dialer configured")
		}
		session, err := m.dialer.Dial(ctx, cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		return streamingEndpointHandle{session: session}, nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported transport %q", cfg.Type)
}

// discover lists tools, resources and prompts concurrently. A failed list
// falls back to the launcher snapshot, or to empty.
func (m *MCPConnectionManager) discover(ctx context.Context, cfg models.ServerConfig, handle transportHandle, snapshot *models.CapabilitySet) models.CapabilitySet {
	if snapshot == nil {
		snapshot = &models.CapabilitySet{}
	}
	logger := logging.WithServer(cfg.ID, cfg.DisplayName())

	var caps models.CapabilitySet
	p := pool.New()

	p.Go(func() {
		tools, err := discoverList(func() ([]models.Tool, error) { return m.listTools(ctx, handle) })
		if err != nil {
			logger.Warn("tool discovery failed", "error", err)
			tools = snapshot.Tools
		}
		caps.Tools = nonNil(tools)
	})
	p.Go(func() {
		resources, err := discoverList(func() ([]models.Resource, error) { return m.listResources(ctx, handle) })
		if err != nil {
			logger.Warn("resource discovery failed", "error", err)
			resources = snapshot.Resources
		}
		caps.Resources = nonNil(resources)
	})
	p.Go(func() {
		prompts, err := discoverList(func() ([]models.Prompt, error) { return m.listPrompts(ctx, handle) })
		if err != nil {
			logger.Warn("prompt discovery failed", "error", err)
			prompts = snapshot.Prompts
		}
		caps.Prompts = nonNil(prompts)
	})

	p.Wait()
	return caps
}

// discoverList runs one list request, turning a panic into an error
func discoverList[T any](list func() ([]T, error)) (items []T, err error) {
	if r := panics.Try(func() { items, err = list() }); r != nil {
		return nil, r.AsError()
	}
	return items, err
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (m *MCPConnectionManager) listTools(ctx context.Context, handle transportHandle) ([]models.Tool, error) {
	switch h := handle.(type) {
	case localProcessHandle:
		var res struct {
			Tools []models.Tool `json:"tools"`
		}
		if err := h.request(ctx, models.MethodToolsList, nil, &res); err != nil {
			return nil, err
		}
		return res.Tools, nil
	case streamingEndpointHandle:
		return h.session.ListTools(ctx)
	}
	return nil, unknownHandle(handle)
}

func (m *MCPConnectionManager) listResources(ctx context.Context, handle transportHandle) ([]models.Resource, error) {
	switch h := handle.(type) {
	case localProcessHandle:
		var res struct {
			Resources []models.Resource `json:"resources"`
		}
		if err := h.request(ctx, models.MethodResourcesList, nil, &res); err != nil {
			return nil, err
		}
		return res.Resources, nil
	case streamingEndpointHandle:
		return h.session.ListResources(ctx)
	}
	return nil, unknownHandle(handle)
}

func (m *MCPConnectionManager) listPrompts(ctx context.Context, handle transportHandle) ([]models.Prompt, error) {
	switch h := handle.(type) {
	case localProcessHandle:
		var res struct {
			Prompts []models.Prompt `json:"prompts"`
		}
		if err := h.request(ctx, models.MethodPromptsList, nil, &res); err != nil {
			return nil, err
		}
		return res.Prompts, nil
	case streamingEndpointHandle:
		return h.session.ListPrompts(ctx)
	}
	return nil, unknownHandle(handle)
}

// request sends one protocol request through the launcher and decodes the result into out
func (h localProcessHandle) request(ctx context.Context, method string, params, out interface{}) error {
	raw, err := h.proxy.Request(ctx, h.serverID, method, params)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("%s: empty result", method)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: invalid result: %w", method, err)
	}
	return nil
}

// abandonLaunch asks the launcher to stop a server whose connect failed or timed out
func (m *MCPConnectionManager) abandonLaunch(ctx context.Context, serverID string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.callTimeout)
	defer cancel()

	if err := m.launcher.Disconnect(stopCtx, serverID); err != nil {
		log.Printf("⚠️  [LAUNCHER] Failed to stop abandoned server %s: %v", serverID, err)
	}
}

// commit replaces the pending entry with the connected one, unless the
// pending entry was marked lost in the meantime
func (m *MCPConnectionManager) commit(serverID string, pending, entry *connectionEntry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries[serverID] != pending || pending.conn.Status != models.StatusConnecting {
		return false
	}
	m.entries[serverID] = entry
	m.generation.Add(1)
	return true
}

func unknownHandle(handle transportHandle) error {
	return fmt.Errorf("unknown transport handle %T", handle)
}

func (m *MCPConnectionManager) markFailed(ctx context.Context, cfg models.ServerConfig, cause error) {
	m.store(cfg.ID, &connectionEntry{conn: models.Connection{
		ServerID:   cfg.ID,
		ServerName: cfg.DisplayName(),
		Transport:  cfg.Type,
		Status:     models.StatusError,
		Error:      cause.Error(),
		UpdatedAt:  time.Now(),
	}})

	m.metrics.RecordConnectionAttempt(string(cfg.Type), false)
	event := audit.NewEvent(audit.KindConnection, false, cause.Error())
	event.ServerID = cfg.ID
	event.ServerName = cfg.DisplayName()
	event.Details = map[string]string{"transport": string(cfg.Type)}
	m.recorder.Record(ctx, event)

	log.Printf("❌ [MCP] Failed to connect %s: %v", cfg.DisplayName(), cause)
}

// Disconnect closes the connection and removes it from the registry.
// Close errors are logged, not returned.
func (m *MCPConnectionManager) Disconnect(ctx context.Context, serverID string) error {
	unlock := m.locks.Lock(serverID)
	defer unlock()

	if _, ok := m.entry(serverID); !ok {
		return fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}
	if err := m.remove(ctx, serverID); err != nil {
		log.Printf("⚠️  [MCP] Error closing %s: %v", serverID, err)
	}
	return nil
}

// DisconnectAll attempts every disconnect and returns the joined close errors
func (m *MCPConnectionManager) DisconnectAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	p := pool.New().WithErrors()
	for _, id := range ids {
		p.Go(func() error {
			var err error
			recovered := panics.Try(func() {
				unlock := m.locks.Lock(id)
				defer unlock()
				err = m.remove(ctx, id)
			})
			if recovered != nil {
				return fmt.Errorf("disconnect %s: %w", id, recovered.AsError())
			}
			if err != nil {
				return fmt.Errorf("disconnect %s: %w", id, err)
			}
			return nil
		})
	}

	err := p.Wait()
	if err != nil {
		log.Printf("⚠️  [MCP] DisconnectAll finished with errors: %v", err)
	} else if len(ids) > 0 {
		log.Printf("🔌 [MCP] Disconnected all %d servers", len(ids))
	}
	return err
}

// remove closes the entry's handle and deletes it. Callers hold the identity lock.
func (m *MCPConnectionManager) remove(ctx context.Context, serverID string) error {
	m.mu.Lock()
	entry, ok := m.entries[serverID]
	if ok {
		delete(m.entries, serverID)
		m.generation.Add(1)
	}
	m.mu.Unlock()

	if !ok || entry.handle == nil {
		return nil
	}

	err := m.closeHandle(ctx, entry.handle)
	log.Printf("🔌 [MCP] Disconnected %s", entry.conn.ServerName)
	return err
}

func (m *MCPConnectionManager) closeHandle(ctx context.Context, handle transportHandle) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.callTimeout)
	defer cancel()

	switch h := handle.(type) {
	case localProcessHandle:
		return h.proxy.Disconnect(closeCtx, h.serverID)
	case streamingEndpointHandle:
		return h.session.Close()
	}
	return unknownHandle(handle)
}

// MarkTransportLost moves every connected or connecting entry of the given
// transport to the error state, for example when the launcher link drops.
// A connect still in flight for such an entry fails instead of registering.
func (m *MCPConnectionManager) MarkTransportLost(kind models.TransportKind, reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	now := time.Now()
	for _, entry := range m.entries {
		if entry.conn.Transport != kind {
			continue
		}
		if entry.conn.Status != models.StatusConnected && entry.conn.Status != models.StatusConnecting {
			continue
		}
		entry.conn.Status = models.StatusError
		entry.conn.Error = reason
		entry.conn.UpdatedAt = now
		entry.handle = nil
		count++
	}
	if count > 0 {
		m.generation.Add(1)
		log.Printf("⚠️  [MCP] %d %s connections lost: %s", count, kind, reason)
	}
	return count
}

// GetAllTools returns the tools of every connected server, ordered by
// connection time and then server id. Earlier servers win name lookups.
func (m *MCPConnectionManager) GetAllTools() []models.ServerTool {
	m.mu.RLock()
	connected := make([]models.Connection, 0, len(m.entries))
	for _, entry := range m.entries {
		if entry.conn.Status == models.StatusConnected {
			connected = append(connected, entry.conn)
		}
	}
	m.mu.RUnlock()

	sort.Slice(connected, func(i, j int) bool {
		if !connected[i].ConnectedAt.Equal(connected[j].ConnectedAt) {
			return connected[i].ConnectedAt.Before(connected[j].ConnectedAt)
		}
		return connected[i].ServerID < connected[j].ServerID
	})

	var tools []models.ServerTool
	for _, conn := range connected {
		for _, tool := range conn.Capabilities.Tools {
			tools = append(tools, models.ServerTool{
				Tool:       tool,
				ServerID:   conn.ServerID,
				ServerName: conn.ServerName,
			})
		}
	}
	return tools
}

// CallTool invokes a tool on a connected server and returns its raw result
func (m *MCPConnectionManager) CallTool(ctx context.Context, serverID, name string, args map[string]interface{}) (*models.CallToolResult, error) {
	handle, err := m.connectedHandle(serverID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	switch h := handle.(type) {
	case localProcessHandle:
		var result models.CallToolResult
		params := models.CallToolParams{Name: name, Arguments: args}
		if err := h.request(ctx, models.MethodToolsCall, params, &result); err != nil {
			return nil, err
		}
		return &result, nil
	case streamingEndpointHandle:
		return h.session.CallTool(ctx, name, args)
	}
	return nil, unknownHandle(handle)
}

// ReadResource reads a resource from a connected server
func (m *MCPConnectionManager) ReadResource(ctx context.Context, serverID, uri string) (*models.ReadResourceResult, error) {
	handle, err := m.connectedHandle(serverID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	switch h := handle.(type) {
	case localProcessHandle:
		var result models.ReadResourceResult
		if err := h.request(ctx, models.MethodResourcesRead, models.ReadResourceParams{URI: uri}, &result); err != nil {
			return nil, err
		}
		return &result, nil
	case streamingEndpointHandle:
		return h.session.ReadResource(ctx, uri)
	}
	return nil, unknownHandle(handle)
}

func (m *MCPConnectionManager) connectedHandle(serverID string) (transportHandle, error) {
	entry, ok := m.entry(serverID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, serverID)
	}
	if entry.conn.Status != models.StatusConnected || entry.handle == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrServerNotConnected, serverID, entry.conn.Status)
	}
	return entry.handle, nil
}

// Get returns a copy of the connection for serverID
func (m *MCPConnectionManager) Get(serverID string) (models.Connection, bool) {
	entry, ok := m.entry(serverID)
	if !ok {
		return models.Connection{}, false
	}
	return entry.conn, true
}

// Statuses returns every registry entry ordered by server id
func (m *MCPConnectionManager) Statuses() []models.Connection {
	m.mu.RLock()
	out := make([]models.Connection, 0, len(m.entries))
	for _, entry := range m.entries {
		out = append(out, entry.conn)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

// Count returns the number of connected servers
func (m *MCPConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, entry := range m.entries {
		if entry.conn.Status == models.StatusConnected {
			n++
		}
	}
	return n
}

// Generation changes every time the registry is modified
func (m *MCPConnectionManager) Generation() uint64 {
	return m.generation.Load()
}

// entry returns a snapshot of the registry entry
func (m *MCPConnectionManager) entry(serverID string) (connectionEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[serverID]
	if !ok {
		return connectionEntry{}, false
	}
	return *entry, true
}

func (m *MCPConnectionManager) store(serverID string, entry *connectionEntry) {
	m.mu.Lock()
	m.entries[serverID] = entry
	m.mu.Unlock()
	m.generation.Add(1)
}

// keyedMutex serializes work per key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock acquires the lock for key and returns its unlock function
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
