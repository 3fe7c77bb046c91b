package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// DescriptionFor returns the tool description, or a default naming the owning server
func DescriptionFor(tool models.ServerTool) string {
	if desc := strings.TrimSpace(tool.Description); desc != "" {
		return desc
	}
	server := tool.ServerName
	if server == "" {
		server = tool.ServerID
	}
	return fmt.Sprintf("Tool from %s", server)
}

// SchemaFor returns the tool's input schema as a plain JSON object.
// A missing schema becomes an empty object schema.
func SchemaFor(tool models.ServerTool) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}

	in := tool.InputSchema
	if in == nil {
		return schema
	}
	if in.Type != "" {
		schema["type"] = in.Type
	}
	if in.Properties != nil {
		schema["properties"] = in.Properties
	}
	if len(in.Required) > 0 {
		schema["required"] = append([]string(nil), in.Required...)
	}
	return schema
}

// StringifyResult renders a tool result as text for the model.
// Strings pass through; everything else becomes indented JSON.
func StringifyResult(result interface{}) string {
	switch r := result.(type) {
	case nil:
		return ""
	case string:
		return r
	case []byte:
		return string(r)
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Indent(&buf, r, "", "  "); err == nil {
			return buf.String()
		}
		return string(r)
	case error:
		return r.Error()
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}

// decodeArguments decodes a JSON object of call arguments.
// Absent or null arguments decode to an empty map.
func decodeArguments(raw json.RawMessage) (map[string]interface{}, string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]interface{}{}, ""
	}

	var args map[string]interface{}
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return nil, fmt.Sprintf("invalid tool arguments: %v", err)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, ""
}

// decodeArgumentString decodes arguments that arrive as a JSON-encoded string
func decodeArgumentString(s string) (map[string]interface{}, string) {
	if strings.TrimSpace(s) == "" {
		return map[string]interface{}{}, ""
	}
	return decodeArguments(json.RawMessage(s))
}
