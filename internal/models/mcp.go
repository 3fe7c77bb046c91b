package models

import (
	"fmt"
	"time"
)

// TransportKind selects how the gateway talks to a tool server
type TransportKind string

const (
	// TransportLocalProcess servers run as a subprocess owned by the launcher and speak over stdio
	TransportLocalProcess TransportKind = "stdio"
	// TransportStreamingEndpoint servers are reached over a long-lived SSE session
	TransportStreamingEndpoint TransportKind = "sse"
)

// ConnectionStatus is the lifecycle state of a server connection
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// ServerConfig describes a tool server the gateway can connect to
type ServerConfig struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Type        TransportKind     `json:"type"`
	Command     string            `json:"command,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	URL         string            `json:"url,omitempty"`
	Description string            `json:"description,omitempty"`
	Enabled     bool              `json:"enabled"`
}

// Validate checks the fields required by the configured transport
func (c ServerConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("server id is required")
	}
	switch c.Type {
	case TransportLocalProcess:
		if c.Command == "" {
			return fmt.Errorf("server %s: command is required for stdio transport", c.ID)
		}
	case TransportStreamingEndpoint:
		if c.URL == "" {
			return fmt.Errorf("server %s: url is required for sse transport", c.ID)
		}
	default:
		return fmt.Errorf("server %s: unsupported transport %q", c.ID, c.Type)
	}
	return nil
}

// DisplayName returns the human-readable name, falling back to the id
func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// InputSchema is the JSON Schema object describing a tool's arguments
type InputSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
	Required   []string               `json:"required,omitempty"`
}

// Tool is a tool advertised by a server
type Tool struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	InputSchema *InputSchema `json:"inputSchema,omitempty"`
}

// Resource is a readable resource advertised by a server
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// PromptArgument describes one argument of a prompt template
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Prompt is a prompt template advertised by a server
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// CapabilitySet is everything a server advertised during discovery
type CapabilitySet struct {
	Tools     []Tool     `json:"tools"`
	Resources []Resource `json:"resources"`
	Prompts   []Prompt   `json:"prompts"`
}

// Connection is the public view of a registry entry.
// The live transport handle is kept private to the connection manager.
type Connection struct {
	ServerID     string           `json:"server_id"`
	ServerName   string           `json:"server_name"`
	Transport    TransportKind    `json:"transport"`
	Status       ConnectionStatus `json:"status"`
	Capabilities CapabilitySet    `json:"capabilities"`
	Error        string           `json:"error,omitempty"`
	ConnectedAt  time.Time        `json:"connected_at,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ServerTool is a tool tagged with the server that owns it
type ServerTool struct {
	Tool
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name"`
}

// ToolCall is a provider-neutral tool invocation parsed from a model response.
// InputError is set when the arguments could not be decoded; such a call
// fails on its own without affecting the rest of the batch.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Input      map[string]interface{} `json:"input"`
	InputError string                 `json:"input_error,omitempty"`
}

// ToolResult is the outcome of executing one ToolCall
type ToolResult struct {
	ToolCallID string      `json:"tool_call_id"`
	ToolName   string      `json:"tool_name"`
	ServerID   string      `json:"server_id,omitempty"`
	Result     interface{} `json:"result"`
	IsError    bool        `json:"is_error"`
}

// ContentItem is one element of a tool result's content list
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	URI      string `json:"uri,omitempty"`
	// Resource is set for embedded resources
	Resource *ResourceContents `json:"resource,omitempty"`
}

// CallToolResult is the raw result of tools/call, normalized across transports
type CallToolResult struct {
	Content           []ContentItem `json:"content"`
	StructuredContent interface{}   `json:"structuredContent,omitempty"`
	IsError           bool          `json:"isError,omitempty"`
}

// ResourceContents is one item returned from resources/read
type ResourceContents struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the result of resources/read
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}
