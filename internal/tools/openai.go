package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// openAIErrorPrefix marks failed results in tool message content
const openAIErrorPrefix = "Error: "

// OpenAITool is a function tool declaration in the Chat Completions API
type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

// OpenAIFunction is the function part of an OpenAITool
type OpenAIFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// OpenAIToolMessage is a role "tool" message carrying one result
type OpenAIToolMessage struct {
	Role       string `json:"role"`
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
		// Arguments is normally a JSON-encoded string; some compatible
		// servers send the object itself.
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type openAIMessage struct {
	Role      string           `json:"role"`
	ToolCalls []openAIToolCall `json:"tool_calls"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	// Set when the caller passes the assistant message on its own
	ToolCalls []openAIToolCall `json:"tool_calls"`
}

// OpenAIAdapter speaks the Chat Completions tool_calls dialect
type OpenAIAdapter struct{}

func (OpenAIAdapter) Vendor() Vendor { return VendorOpenAI }

func (OpenAIAdapter) FormatTools(tools []models.ServerTool) interface{} {
	out := make([]OpenAITool, 0, len(tools))
	for _, t := range tools {
		out = append(out, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        t.Name,
				Description: DescriptionFor(t),
				Parameters:  SchemaFor(t),
			},
		})
	}
	return out
}

func (OpenAIAdapter) ParseToolCalls(response []byte) ([]models.ToolCall, error) {
	var resp openAIResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("openai: invalid response: %w", err)
	}

	raw := resp.ToolCalls
	if len(resp.Choices) > 0 {
		raw = resp.Choices[0].Message.ToolCalls
	}

	calls := make([]models.ToolCall, 0, len(raw))
	for _, tc := range raw {
		input, inputErr := decodeOpenAIArguments(tc.Function.Arguments)
		calls = append(calls, models.ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Input:      input,
			InputError: inputErr,
		})
	}
	return calls, nil
}

// decodeOpenAIArguments decodes one call's arguments; failure is scoped to that call
func decodeOpenAIArguments(raw json.RawMessage) (map[string]interface{}, string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Sprintf("invalid tool arguments: %v", err)
		}
		return decodeArgumentString(s)
	}
	return decodeArguments(trimmed)
}

func (OpenAIAdapter) FormatToolResult(result models.ToolResult) interface{} {
	content := StringifyResult(result.Result)
	if result.IsError {
		content = openAIErrorPrefix + content
	}
	return OpenAIToolMessage{
		Role:       "tool",
		ToolCallID: result.ToolCallID,
		Name:       result.ToolName,
		Content:    content,
	}
}

// ParseToolResult reads a tool message back. The dialect has no error flag, so
// any content starting with "Error: " is read as a failure, including a
// successful result whose text happens to start that way.
func (OpenAIAdapter) ParseToolResult(envelope []byte) (models.ToolResult, error) {
	var msg OpenAIToolMessage
	if err := json.Unmarshal(envelope, &msg); err != nil {
		return models.ToolResult{}, fmt.Errorf("openai: invalid tool message: %w", err)
	}
	if msg.Role != "tool" {
		return models.ToolResult{}, fmt.Errorf("openai: expected role tool, got %q", msg.Role)
	}

	result := models.ToolResult{
		ToolCallID: msg.ToolCallID,
		ToolName:   msg.Name,
		Result:     msg.Content,
	}
	if strings.HasPrefix(msg.Content, openAIErrorPrefix) {
		result.IsError = true
		result.Result = strings.TrimPrefix(msg.Content, openAIErrorPrefix)
	}
	return result, nil
}
