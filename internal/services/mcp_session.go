package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// MCPSession is a live protocol session with a streaming-endpoint server
type MCPSession interface {
	ListTools(ctx context.Context) ([]models.Tool, error)
	ListResources(ctx context.Context) ([]models.Resource, error)
	ListPrompts(ctx context.Context) ([]models.Prompt, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*models.CallToolResult, error)
	ReadResource(ctx context.Context, uri string) (*models.ReadResourceResult, error)
	Close() error
}

// SessionDialer opens sessions to streaming endpoints
type SessionDialer interface {
	Dial(ctx context.Context, endpoint string) (MCPSession, error)
}

// SDKDialer dials SSE endpoints with the official protocol SDK
type SDKDialer struct {
	client     *mcp.Client
	httpClient *http.Client
}

// NewSDKDialer creates a dialer that identifies itself as name/version
func NewSDKDialer(name, version string) *SDKDialer {
	return &SDKDialer{
		client: mcp.NewClient(&mcp.Implementation{
			Name:    name,
			Version: version,
		}, nil),
		// No overall timeout: the SSE stream stays open for the life of the session
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
	}
}

func (d *SDKDialer) Dial(ctx context.Context, endpoint string) (MCPSession, error) {
	transport := &mcp.SSEClientTransport{
		Endpoint:   endpoint,
		HTTPClient: d.httpClient,
	}
	session, err := d.client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return &sdkSession{session: session}, nil
}

// sdkSession adapts an SDK client session to MCPSession
type sdkSession struct {
	session *mcp.ClientSession
}

func (s *sdkSession) ListTools(ctx context.Context) ([]models.Tool, error) {
	res, err := s.session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, err
	}
	var tools []models.Tool
	if err := convertJSON(res.Tools, &tools); err != nil {
		return nil, fmt.Errorf("failed to decode tools: %w", err)
	}
	return tools, nil
}

func (s *sdkSession) ListResources(ctx context.Context) ([]models.Resource, error) {
	res, err := s.session.ListResources(ctx, &mcp.ListResourcesParams{})
	if err != nil {
		return nil, err
	}
	var resources []models.Resource
	if err := convertJSON(res.Resources, &resources); err != nil {
		return nil, fmt.Errorf("failed to decode resources: %w", err)
	}
	return resources, nil
}

func (s *sdkSession) ListPrompts(ctx context.Context) ([]models.Prompt, error) {
	res, err := s.session.ListPrompts(ctx, &mcp.ListPromptsParams{})
	if err != nil {
		return nil, err
	}
	var prompts []models.Prompt
	if err := convertJSON(res.Prompts, &prompts); err != nil {
		return nil, fmt.Errorf("failed to decode prompts: %w", err)
	}
	return prompts, nil
}

func (s *sdkSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (*models.CallToolResult, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}
	var out models.CallToolResult
	if err := convertJSON(res, &out); err != nil {
		return nil, fmt.Errorf("failed to decode tool result: %w", err)
	}
	return &out, nil
}

func (s *sdkSession) ReadResource(ctx context.Context, uri string) (*models.ReadResourceResult, error) {
	res, err := s.session.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var out models.ReadResourceResult
	if err := convertJSON(res, &out); err != nil {
		return nil, fmt.Errorf("failed to decode resource: %w", err)
	}
	return &out, nil
}

func (s *sdkSession) Close() error {
	return s.session.Close()
}

// convertJSON moves a value between SDK and gateway types through their shared wire form
func convertJSON(in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
