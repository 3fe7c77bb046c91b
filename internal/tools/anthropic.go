package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// AnthropicTool is a tool declaration in the Messages API
type AnthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// AnthropicToolResult is a tool_result content block
type AnthropicToolResult struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
	Text  string          `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
}

// AnthropicAdapter speaks the Messages API tool_use / tool_result dialect
type AnthropicAdapter struct{}

func (AnthropicAdapter) Vendor() Vendor { return VendorAnthropic }

func (AnthropicAdapter) FormatTools(tools []models.ServerTool) interface{} {
	out := make([]AnthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, AnthropicTool{
			Name:        t.Name,
			Description: DescriptionFor(t),
			InputSchema: SchemaFor(t),
		})
	}
	return out
}

func (AnthropicAdapter) ParseToolCalls(response []byte) ([]models.ToolCall, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("anthropic: invalid response: %w", err)
	}

	var calls []models.ToolCall
	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		input, inputErr := decodeArguments(block.Input)
		calls = append(calls, models.ToolCall{
			ID:         block.ID,
			Name:       block.Name,
			Input:      input,
			InputError: inputErr,
		})
	}
	return calls, nil
}

func (AnthropicAdapter) FormatToolResult(result models.ToolResult) interface{} {
	return AnthropicToolResult{
		Type:      "tool_result",
		ToolUseID: result.ToolCallID,
		Content:   StringifyResult(result.Result),
		IsError:   result.IsError,
	}
}

func (AnthropicAdapter) ParseToolResult(envelope []byte) (models.ToolResult, error) {
	var block struct {
		Type      string          `json:"type"`
		ToolUseID string          `json:"tool_use_id"`
		Content   json.RawMessage `json:"content"`
		IsError   bool            `json:"is_error"`
	}
	if err := json.Unmarshal(envelope, &block); err != nil {
		return models.ToolResult{}, fmt.Errorf("anthropic: invalid tool_result: %w", err)
	}
	if block.Type != "tool_result" {
		return models.ToolResult{}, fmt.Errorf("anthropic: expected tool_result block, got %q", block.Type)
	}

	content, err := anthropicContentText(block.Content)
	if err != nil {
		return models.ToolResult{}, err
	}

	return models.ToolResult{
		ToolCallID: block.ToolUseID,
		Result:     content,
		IsError:    block.IsError,
	}, nil
}

// anthropicContentText accepts either a plain string or a list of text blocks
func anthropicContentText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var blocks []anthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", fmt.Errorf("anthropic: unsupported tool_result content: %w", err)
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}
