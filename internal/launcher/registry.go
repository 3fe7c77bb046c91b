package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/claraverse/mcp-gateway/internal/audit"
	"github.com/claraverse/mcp-gateway/internal/models"
	"github.com/claraverse/mcp-gateway/internal/security"
)

var (
	ErrServerNotRunning = errors.New("server is not running")
	ErrTooManyServers   = errors.New("maximum number of servers reached")
	ErrMethodNotRouted  = errors.New("method is not routed to local servers")
)

// routedMethods are the only protocol methods the gateway may forward
var routedMethods = map[string]bool{
	models.MethodToolsList:     true,
	models.MethodResourcesList: true,
	models.MethodPromptsList:   true,
	models.MethodToolsCall:     true,
	models.MethodResourcesRead: true,
}

// SpawnFunc starts a tool server from a validated launch config
type SpawnFunc func(ctx context.Context, serverID string, cfg *models.LaunchConfig, verbose bool) (ServerClient, error)

// RegistryOptions configures a Registry. Zero values fall back to defaults.
type RegistryOptions struct {
	MaxServers int
	SpawnRate  float64 // spawns per second
	SpawnBurst int
	Verbose    bool
	Recorder   audit.Recorder
	Spawn      SpawnFunc
}

// ServerInstance represents a running tool server
type ServerInstance struct {
	ID     string
	Name   string
	Client ServerClient
	Tools  int
}

// Registry manages the tool server processes this launcher owns
type Registry struct {
	servers map[string]*ServerInstance
	// starts in flight, cancelled by StopServer for the same id
	starting   map[string]*pendingStart
	mutex      sync.RWMutex
	validator  *security.LaunchValidator
	limiter    *rate.Limiter
	maxServers int
	spawn      SpawnFunc
	verbose    bool
}

// NewRegistry creates a new server registry
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.MaxServers <= 0 {
		opts.MaxServers = DefaultMaxServers
	}
	if opts.SpawnRate <= 0 {
		opts.SpawnRate = DefaultSpawnRate
	}
	if opts.SpawnBurst <= 0 {
		opts.SpawnBurst = DefaultSpawnBurst
	}
	if opts.Spawn == nil {
		opts.Spawn = func(ctx context.Context, serverID string, cfg *models.LaunchConfig, verbose bool) (ServerClient, error) {
			return StartStdioClient(ctx, serverID, cfg, verbose)
		}
	}

	return &Registry{
		servers:    make(map[string]*ServerInstance),
		starting:   make(map[string]*pendingStart),
		validator:  security.NewLaunchValidator(opts.Recorder),
		limiter:    rate.NewLimiter(rate.Limit(opts.SpawnRate), opts.SpawnBurst),
		maxServers: opts.MaxServers,
		spawn:      opts.Spawn,
		verbose:    opts.Verbose,
	}
}

type pendingStart struct {
	cancel context.CancelFunc
}

// StartServer validates cfg again, spawns the server and returns its capability snapshot.
// A server already running under the same id is replaced.
func (r *Registry) StartServer(ctx context.Context, serverID, serverName string, cfg *models.LaunchConfig) (*models.CapabilitySet, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server %s: launch config is required", serverID)
	}

	launch, err := r.validator.Validate(ctx, models.ServerConfig{
		ID:      serverID,
		Name:    serverName,
		Type:    models.TransportLocalProcess,
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     cfg.Env,
	})
	if err != nil {
		log.Printf("❌ [LAUNCHER] Rejected %s: %v", serverID, err)
		return nil, fmt.Errorf("launch rejected: %w", err)
	}

	if err := r.StopServer(serverID); err != nil && !errors.Is(err, ErrServerNotRunning) {
		log.Printf("⚠️  [LAUNCHER] Error stopping previous instance of %s: %v", serverID, err)
	}

	if r.GetServerCount() >= r.maxServers {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyServers, r.maxServers)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	start := &pendingStart{cancel: cancel}
	r.mutex.Lock()
	r.starting[serverID] = start
	r.mutex.Unlock()
	defer func() {
		r.mutex.Lock()
		if r.starting[serverID] == start {
			delete(r.starting, serverID)
		}
		r.mutex.Unlock()
	}()

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("spawn rate limit: %w", err)
	}

	log.Printf("🚀 Starting MCP server: %s (%s)", serverID, serverName)

	client, err := r.spawn(ctx, serverID, launch, r.verbose)
	if err != nil {
		return nil, fmt.Errorf("failed to start server %s: %w", serverID, err)
	}

	caps := r.snapshot(ctx, serverID, client)

	r.mutex.Lock()
	// The gateway link dropped or the gateway gave up on this server while it was starting
	if err := ctx.Err(); err != nil {
		r.mutex.Unlock()
		client.Close()
		return nil, fmt.Errorf("connect for %s abandoned: %w", serverID, err)
	}
	if len(r.servers) >= r.maxServers {
		r.mutex.Unlock()
		client.Close()
		return nil, fmt.Errorf("%w (%d)", ErrTooManyServers, r.maxServers)
	}
	r.servers[serverID] = &ServerInstance{
		ID:     serverID,
		Name:   serverName,
		Client: client,
		Tools:  len(caps.Tools),
	}
	r.mutex.Unlock()

	log.Printf("✅ Server %s started with %d tools", serverID, len(caps.Tools))
	return caps, nil
}

// snapshot lists the server's capabilities. A list the server does not support is empty.
func (r *Registry) snapshot(ctx context.Context, serverID string, client ServerClient) *models.CapabilitySet {
	caps := &models.CapabilitySet{
		Tools:     []models.Tool{},
		Resources: []models.Resource{},
		Prompts:   []models.Prompt{},
	}

	if tools, err := ListTools(ctx, client); err != nil {
		log.Printf("⚠️  [LAUNCHER] %s: failed to list tools: %v", serverID, err)
	} else if tools != nil {
		caps.Tools = tools
	}
	if resources, err := ListResources(ctx, client); err != nil {
		if r.verbose {
			log.Printf("[LAUNCHER] %s: no resources: %v", serverID, err)
		}
	} else if resources != nil {
		caps.Resources = resources
	}
	if prompts, err := ListPrompts(ctx, client); err != nil {
		if r.verbose {
			log.Printf("[LAUNCHER] %s: no prompts: %v", serverID, err)
		}
	} else if prompts != nil {
		caps.Prompts = prompts
	}

	return caps
}

// Request forwards one protocol request to a running server
func (r *Registry) Request(ctx context.Context, serverID, method string, params json.RawMessage) (json.RawMessage, error) {
	if !routedMethods[method] {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotRouted, method)
	}

	r.mutex.RLock()
	instance, exists := r.servers[serverID]
	r.mutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrServerNotRunning, serverID)
	}

	var p interface{}
	if len(params) > 0 {
		p = params
	}

	if method == models.MethodToolsCall {
		log.Printf("🔧 Executing tool on server %s", serverID)
	}
	return instance.Client.Call(ctx, method, p)
}

// StopServer stops a running server, or cancels its start if one is in flight
func (r *Registry) StopServer(serverID string) error {
	r.mutex.Lock()
	if start, ok := r.starting[serverID]; ok {
		delete(r.starting, serverID)
		start.cancel()
		log.Printf("🛑 Cancelled start of MCP server: %s", serverID)
	}
	instance, exists := r.servers[serverID]
	if !exists {
		r.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrServerNotRunning, serverID)
	}
	delete(r.servers, serverID)
	r.mutex.Unlock()

	log.Printf("🛑 Stopping MCP server: %s", serverID)
	return instance.Client.Close()
}

// StopAll stops all running servers
func (r *Registry) StopAll() {
	r.mutex.Lock()
	servers := r.servers
	r.servers = make(map[string]*ServerInstance)
	for id, start := range r.starting {
		start.cancel()
		delete(r.starting, id)
	}
	r.mutex.Unlock()

	for id, instance := range servers {
		log.Printf("🛑 Stopping server: %s", id)
		if err := instance.Client.Close(); err != nil {
			log.Printf("⚠️  [LAUNCHER] Error stopping %s: %v", id, err)
		}
	}
}

// GetServerCount returns the number of running servers
func (r *Registry) GetServerCount() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.servers)
}

// GetServerIDs returns the ids of all running servers, sorted
func (r *Registry) GetServerIDs() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HandleRequest answers one gateway request
func (r *Registry) HandleRequest(ctx context.Context, req models.LauncherRequest) models.LauncherResponse {
	resp := models.LauncherResponse{RequestID: req.RequestID}

	switch req.Action {
	case models.LauncherActionConnect:
		caps, err := r.StartServer(ctx, req.ServerID, req.ServerName, req.Config)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Capabilities = caps

	case models.LauncherActionRequest:
		result, err := r.Request(ctx, req.ServerID, req.Method, req.Params)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Result = result

	case models.LauncherActionDisconnect:
		if err := r.StopServer(req.ServerID); err != nil && !errors.Is(err, ErrServerNotRunning) {
			resp.Error = err.Error()
		}

	default:
		resp.Error = fmt.Sprintf("unsupported action %q", req.Action)
	}

	return resp
}
