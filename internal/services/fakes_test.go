package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// fakeLauncher records what the manager sends to the launcher
type fakeLauncher struct {
	mu sync.Mutex

	snapshot   *models.CapabilitySet
	connectErr error
	// blockConnect makes Connect wait for the context, like a slow spawn
	blockConnect bool
	// onConnect runs after the spawn request is recorded
	onConnect func()
	// results by method; a missing method fails
	results map[string]json.RawMessage

	connects    []models.LaunchConfig
	requests    []fakeRequest
	disconnects []string
}

type fakeRequest struct {
	serverID string
	method   string
	params   json.RawMessage
}

func (f *fakeLauncher) Connect(ctx context.Context, serverID, _ string, cfg *models.LaunchConfig) (*models.CapabilitySet, error) {
	f.mu.Lock()
	f.connects = append(f.connects, *cfg)
	f.mu.Unlock()

	if f.onConnect != nil {
		f.onConnect()
	}
	if f.blockConnect {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.snapshot, nil
}

func (f *fakeLauncher) Request(_ context.Context, serverID, method string, params interface{}) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, fakeRequest{serverID: serverID, method: method, params: raw})
	result, ok := f.results[method]
	if !ok {
		return nil, fmt.Errorf("method %s not supported", method)
	}
	return result, nil
}

func (f *fakeLauncher) Disconnect(_ context.Context, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, serverID)
	return nil
}

func (f *fakeLauncher) disconnected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.disconnects...)
}

func (f *fakeLauncher) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeLauncher) requestsFor(method string) []fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fakeRequest
	for _, r := range f.requests {
		if r.method == method {
			out = append(out, r)
		}
	}
	return out
}

// fakeSession is a scripted streaming-endpoint session
type fakeSession struct {
	tools     []models.Tool
	toolsErr  error
	resources []models.Resource
	prompts   []models.Prompt

	callResult *models.CallToolResult
	callErr    error
	// block makes CallTool wait for the context
	block bool

	closeErr   error
	closePanic bool

	mu     sync.Mutex
	calls  []string
	closed bool
}

func (s *fakeSession) ListTools(context.Context) ([]models.Tool, error) {
	return s.tools, s.toolsErr
}

func (s *fakeSession) ListResources(context.Context) ([]models.Resource, error) {
	if s.resources == nil {
		return nil, errors.New("resources not supported")
	}
	return s.resources, nil
}

func (s *fakeSession) ListPrompts(context.Context) ([]models.Prompt, error) {
	return s.prompts, nil
}

func (s *fakeSession) CallTool(ctx context.Context, name string, _ map[string]interface{}) (*models.CallToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.callErr != nil {
		return nil, s.callErr
	}
	return s.callResult, nil
}

func (s *fakeSession) ReadResource(_ context.Context, uri string) (*models.ReadResourceResult, error) {
	return &models.ReadResourceResult{Contents: []models.ResourceContents{{URI: uri, Text: "contents of " + uri}}}, nil
}

func (s *fakeSession) Close() error {
	if s.closePanic {
		panic("close exploded")
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.closeErr
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// fakeDialer hands out sessions by endpoint
type fakeDialer struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	errs     map[string]error
	dials    int
}

func (d *fakeDialer) Dial(_ context.Context, endpoint string) (MCPSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if err, ok := d.errs[endpoint]; ok && err != nil {
		return nil, err
	}
	session, ok := d.sessions[endpoint]
	if !ok {
		return nil, fmt.Errorf("no server at %s", endpoint)
	}
	return session, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func rawJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func streamingConfig(id, url string) models.ServerConfig {
	return models.ServerConfig{ID: id, Name: id, Type: models.TransportStreamingEndpoint, URL: url, Enabled: true}
}
