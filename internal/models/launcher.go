package models

import "encoding/json"

// Message types exchanged between the gateway and the launcher
const (
	LauncherMsgHello     = "hello"
	LauncherMsgRequest   = "request"
	LauncherMsgResponse  = "response"
	LauncherMsgHeartbeat = "heartbeat"
	LauncherMsgError     = "error"
)

// Launcher actions carried in a LauncherRequest
const (
	LauncherActionConnect    = "connect"
	LauncherActionRequest    = "request"
	LauncherActionDisconnect = "disconnect"
)

// Protocol methods the gateway routes through the launcher
const (
	MethodToolsList     = "tools/list"
	MethodResourcesList = "resources/list"
	MethodPromptsList   = "prompts/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesRead = "resources/read"
)

// LauncherMessage is the envelope for every frame on the launcher link
type LauncherMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LauncherHello is sent by the launcher right after it attaches
type LauncherHello struct {
	LauncherID string `json:"launcher_id"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
}

// LaunchConfig is an already validated and sanitized spawn request
type LaunchConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// LauncherRequest is sent by the gateway to the launcher
type LauncherRequest struct {
	RequestID  string          `json:"request_id"`
	Action     string          `json:"action"`
	ServerID   string          `json:"server_id"`
	ServerName string          `json:"server_name,omitempty"`
	Config     *LaunchConfig   `json:"config,omitempty"`
	Method     string          `json:"method,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// LauncherResponse answers exactly one LauncherRequest
type LauncherResponse struct {
	RequestID    string          `json:"request_id"`
	Capabilities *CapabilitySet  `json:"capabilities,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// CallToolParams are the params of a tools/call request
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ReadResourceParams are the params of a resources/read request
type ReadResourceParams struct {
	URI string `json:"uri"`
}
