package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// GeminiTool groups function declarations in the generateContent API
type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

// GeminiFunctionDeclaration declares one callable function
type GeminiFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// GeminiFunctionResponsePart is a content part answering a functionCall
type GeminiFunctionResponsePart struct {
	FunctionResponse GeminiFunctionResponse `json:"functionResponse"`
}

// GeminiFunctionResponse carries one result. Success is reported under
// "result" and failure under "error".
type GeminiFunctionResponse struct {
	ID       string                 `json:"id,omitempty"`
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response"`
}

type geminiFunctionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text         string              `json:"text"`
				FunctionCall *geminiFunctionCall `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// GeminiAdapter speaks the generateContent functionCall / functionResponse dialect.
// Declarations and responses are built with the Gemini SDK types and rendered
// to the REST shape.
type GeminiAdapter struct{}

func (GeminiAdapter) Vendor() Vendor { return VendorGemini }

func (GeminiAdapter) FormatTools(tools []models.ServerTool) interface{} {
	sdkTools := GenaiTools(tools)
	if len(sdkTools) == 0 {
		return []GeminiTool{}
	}

	decls := make([]GeminiFunctionDeclaration, 0, len(sdkTools[0].FunctionDeclarations))
	for _, d := range sdkTools[0].FunctionDeclarations {
		decl := GeminiFunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
		}
		if d.Parameters != nil {
			decl.Parameters = wireSchema(d.Parameters)
		}
		decls = append(decls, decl)
	}
	return []GeminiTool{{FunctionDeclarations: decls}}
}

// wireSchema renders an SDK schema in the REST API's OpenAPI subset
func wireSchema(schema *genai.Schema) map[string]interface{} {
	out := map[string]interface{}{
		"type": genaiTypeNames[schema.Type],
	}
	if schema.Format != "" {
		out["format"] = schema.Format
	}
	if schema.Description != "" {
		out["description"] = schema.Description
	}
	if schema.Nullable {
		out["nullable"] = true
	}
	if len(schema.Enum) > 0 {
		out["enum"] = schema.Enum
	}
	if schema.Items != nil {
		out["items"] = wireSchema(schema.Items)
	}
	if len(schema.Properties) > 0 {
		props := make(map[string]interface{}, len(schema.Properties))
		for name, prop := range schema.Properties {
			props[name] = wireSchema(prop)
		}
		out["properties"] = props
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}

// geminiType maps a JSON Schema type (string or list) to Gemini's enum name
func geminiType(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		if v == "null" {
			return "", true
		}
		return strings.ToUpper(v), false
	case []interface{}:
		typ, nullable := "", false
		for _, item := range v {
			s, _ := item.(string)
			if s == "null" {
				nullable = true
				continue
			}
			if typ == "" && s != "" {
				typ = strings.ToUpper(s)
			}
		}
		return typ, nullable
	case []string:
		items := make([]interface{}, len(v))
		for i, s := range v {
			items[i] = s
		}
		return geminiType(items)
	}
	return "", false
}

func (GeminiAdapter) ParseToolCalls(response []byte) ([]models.ToolCall, error) {
	var resp geminiResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("gemini: invalid response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, nil
	}

	// The SDK's FunctionCall has no id and no room for undecodable args, so both ride alongside
	content := &genai.Content{Role: "model"}
	var ids, inputErrs []string
	for _, part := range resp.Candidates[0].Content.Parts {
		fc := part.FunctionCall
		if fc == nil {
			if part.Text != "" {
				content.Parts = append(content.Parts, genai.Text(part.Text))
			}
			continue
		}
		input, inputErr := decodeArguments(fc.Args)
		content.Parts = append(content.Parts, genai.FunctionCall{Name: fc.Name, Args: input})
		ids = append(ids, fc.ID)
		inputErrs = append(inputErrs, inputErr)
	}

	calls := ToolCallsFromGenai(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: content}},
	})
	for i := range calls {
		calls[i].ID = geminiCallID(ids[i], calls[i].Name, i)
		calls[i].InputError = inputErrs[i]
	}
	return calls, nil
}

// geminiCallID keeps a server-assigned id or synthesizes one that is unique within the response
func geminiCallID(id, name string, index int) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("gemini-toolcall-%s-%d", name, index)
}

func (GeminiAdapter) FormatToolResult(result models.ToolResult) interface{} {
	fr := GenaiFunctionResponse(result)
	return GeminiFunctionResponsePart{FunctionResponse: GeminiFunctionResponse{
		ID:       result.ToolCallID,
		Name:     fr.Name,
		Response: fr.Response,
	}}
}

func (GeminiAdapter) ParseToolResult(envelope []byte) (models.ToolResult, error) {
	var part GeminiFunctionResponsePart
	if err := json.Unmarshal(envelope, &part); err != nil {
		return models.ToolResult{}, fmt.Errorf("gemini: invalid functionResponse: %w", err)
	}
	fr := part.FunctionResponse
	if fr.Name == "" && fr.ID == "" {
		return models.ToolResult{}, fmt.Errorf("gemini: functionResponse has no name or id")
	}

	result := models.ToolResult{
		ToolCallID: fr.ID,
		ToolName:   fr.Name,
	}
	if errValue, ok := fr.Response["error"]; ok {
		result.IsError = true
		result.Result = StringifyResult(errValue)
	} else {
		result.Result = StringifyResult(fr.Response["result"])
	}
	return result, nil
}
