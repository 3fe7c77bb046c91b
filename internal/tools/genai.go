package tools

import (
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// GenaiTools converts tools to SDK function declarations. Parameters are
// omitted for tools without properties, which the API rejects.
func GenaiTools(tools []models.ServerTool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}

	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: DescriptionFor(t),
		}
		schema := genaiSchema(SchemaFor(t))
		if len(schema.Properties) > 0 {
			decl.Parameters = schema
		}
		decls = append(decls, decl)
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func genaiSchema(schema map[string]interface{}) *genai.Schema {
	out := &genai.Schema{}

	typ, nullable := geminiType(schema["type"])
	out.Type = genaiType(typ)
	out.Nullable = nullable
	out.Description, _ = schema["description"].(string)
	out.Format, _ = schema["format"].(string)

	switch enum := schema["enum"].(type) {
	case []string:
		out.Enum = append(out.Enum, enum...)
	case []interface{}:
		for _, v := range enum {
			if s, ok := v.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}

	switch req := schema["required"].(type) {
	case []string:
		out.Required = append(out.Required, req...)
	case []interface{}:
		for _, v := range req {
			if s, ok := v.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok && len(props) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propSchema, ok := prop.(map[string]interface{}); ok {
				out.Properties[name] = genaiSchema(propSchema)
			}
		}
		if out.Type == genai.TypeUnspecified {
			out.Type = genai.TypeObject
		}
	}

	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = genaiSchema(items)
	}

	if out.Type == genai.TypeUnspecified {
		out.Type = genai.TypeString
	}
	return out
}

// genaiTypeNames are the enum names the REST API uses for SDK types
var genaiTypeNames = map[genai.Type]string{
	genai.TypeString:  "STRING",
	genai.TypeNumber:  "NUMBER",
	genai.TypeInteger: "INTEGER",
	genai.TypeBoolean: "BOOLEAN",
	genai.TypeArray:   "ARRAY",
	genai.TypeObject:  "OBJECT",
}

func genaiType(typ string) genai.Type {
	typ = strings.ToUpper(typ)
	for t, name := range genaiTypeNames {
		if name == typ {
			return t
		}
	}
	return genai.TypeUnspecified
}

// ToolCallsFromGenai extracts calls from an SDK response.
// The SDK drops call ids, so ids are synthesized the same way as the REST dialect.
func ToolCallsFromGenai(resp *genai.GenerateContentResponse) []models.ToolCall {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}

	var calls []models.ToolCall
	for i, fc := range resp.Candidates[0].FunctionCalls() {
		args := fc.Args
		if args == nil {
			args = map[string]interface{}{}
		}
		calls = append(calls, models.ToolCall{
			ID:    geminiCallID("", fc.Name, i),
			Name:  fc.Name,
			Input: args,
		})
	}
	return calls
}

// GenaiFunctionResponse builds the SDK part answering a call. Success is
// reported under "result" and failure under "error".
func GenaiFunctionResponse(result models.ToolResult) genai.FunctionResponse {
	key := "result"
	if result.IsError {
		key = "error"
	}
	return genai.FunctionResponse{
		Name: result.ToolName,
		Response: map[string]any{
			"name": result.ToolName,
			key:    StringifyResult(result.Result),
		},
	}
}
