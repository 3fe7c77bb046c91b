package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// FormatDisplayResult renders a raw tools/call result as text for the model
func FormatDisplayResult(result *models.CallToolResult) string {
	if result == nil {
		return "Tool executed successfully"
	}

	var parts []string
	for _, item := range result.Content {
		switch item.Type {
		case "text":
			parts = append(parts, item.Text)
		case "image":
			parts = append(parts, fmt.Sprintf("[Image: %s]", item.MIMEType))
		case "audio":
			parts = append(parts, fmt.Sprintf("[Audio: %s]", item.MIMEType))
		case "resource", "resource_link":
			text, uri := item.Text, item.URI
			if item.Resource != nil {
				text, uri = item.Resource.Text, item.Resource.URI
			}
			if text != "" {
				parts = append(parts, text)
			} else {
				parts = append(parts, fmt.Sprintf("[Resource: %s]", uri))
			}
		default:
			if data, err := json.MarshalIndent(item, "", "  "); err == nil {
				parts = append(parts, string(data))
			}
		}
	}

	if len(parts) == 0 && result.StructuredContent != nil {
		return StringifyResult(result.StructuredContent)
	}
	if len(parts) == 0 {
		return "Tool executed successfully"
	}
	return strings.Join(parts, "\n")
}
