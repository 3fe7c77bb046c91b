package tools

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/claraverse/mcp-gateway/internal/models"
)

func sampleTools() []models.ServerTool {
	return []models.ServerTool{
		{
			Tool: models.Tool{
				Name:        "search",
				Description: "Search the web",
				InputSchema: &models.InputSchema{
					Type: "object",
					Properties: map[string]interface{}{
						"query": map[string]interface{}{"type": "string", "description": "query text"},
						"limit": map[string]interface{}{"type": []interface{}{"integer", "null"}},
					},
					Required: []string{"query"},
				},
			},
			ServerID:   "srv-1",
			ServerName: "Brave",
		},
		{
			Tool:       models.Tool{Name: "now"},
			ServerID:   "srv-2",
			ServerName: "Clock",
		},
	}
}

func TestParseVendor(t *testing.T) {
	tests := []struct {
		in   string
		want Vendor
	}{
		{"anthropic", VendorAnthropic},
		{"Claude", VendorAnthropic},
		{" openai ", VendorOpenAI},
		{"ollama", VendorOpenAI},
		{"google", VendorGemini},
	}
	for _, tt := range tests {
		got, err := ParseVendor(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseVendor(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}

	if _, err := ParseVendor("cohere"); !errors.Is(err, ErrUnknownVendor) {
		t.Errorf("expected ErrUnknownVendor, got %v", err)
	}
	if _, err := AdapterFor("nope"); !errors.Is(err, ErrUnknownVendor) {
		t.Errorf("expected ErrUnknownVendor, got %v", err)
	}
}

func TestDefaultsForIncompleteTools(t *testing.T) {
	bare := sampleTools()[1]

	if got := DescriptionFor(bare); got != "Tool from Clock" {
		t.Errorf("DescriptionFor = %q", got)
	}

	schema := SchemaFor(bare)
	if schema["type"] != "object" {
		t.Errorf("default schema type = %v", schema["type"])
	}
	props, ok := schema["properties"].(map[string]interface{})
	if !ok || len(props) != 0 {
		t.Errorf("default schema properties = %v", schema["properties"])
	}

	noName := models.ServerTool{Tool: models.Tool{Name: "x"}, ServerID: "srv-9"}
	if got := DescriptionFor(noName); got != "Tool from srv-9" {
		t.Errorf("DescriptionFor without server name = %q", got)
	}
}

func TestFormatToolsAnthropic(t *testing.T) {
	out := AnthropicAdapter{}.FormatTools(sampleTools()).([]AnthropicTool)
	if len(out) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(out))
	}
	if out[0].Name != "search" || out[0].InputSchema["type"] != "object" {
		t.Errorf("unexpected tool: %+v", out[0])
	}
	if out[1].Description != "Tool from Clock" {
		t.Errorf("missing default description: %+v", out[1])
	}

	data, _ := json.Marshal(out[0])
	if !strings.Contains(string(data), `"input_schema"`) {
		t.Errorf("anthropic tools must use input_schema: %s", data)
	}
}

func TestFormatToolsOpenAI(t *testing.T) {
	out := OpenAIAdapter{}.FormatTools(sampleTools()).([]OpenAITool)
	if out[0].Type != "function" || out[0].Function.Name != "search" {
		t.Errorf("unexpected tool: %+v", out[0])
	}
	req, _ := out[0].Function.Parameters["required"].([]string)
	if len(req) != 1 || req[0] != "query" {
		t.Errorf("required not carried over: %v", out[0].Function.Parameters["required"])
	}
}

func TestFormatToolsGemini(t *testing.T) {
	out := GeminiAdapter{}.FormatTools(sampleTools()).([]GeminiTool)
	if len(out) != 1 || len(out[0].FunctionDeclarations) != 2 {
		t.Fatalf("expected one tool group with 2 declarations, got %+v", out)
	}

	search := out[0].FunctionDeclarations[0]
	if search.Parameters["type"] != "OBJECT" {
		t.Errorf("type should be upper-cased, got %v", search.Parameters["type"])
	}
	props := search.Parameters["properties"].(map[string]interface{})
	limit := props["limit"].(map[string]interface{})
	if limit["type"] != "INTEGER" || limit["nullable"] != true {
		t.Errorf("union type not collapsed: %v", limit)
	}

	if out[0].FunctionDeclarations[1].Parameters != nil {
		t.Error("tools without properties must omit parameters")
	}
}

func TestGeminiSchemaDropsUnsupportedKeys(t *testing.T) {
	got := wireSchema(genaiSchema(map[string]interface{}{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"tags": map[string]interface{}{
				"type":    "array",
				"default": []interface{}{},
				"items":   map[string]interface{}{"type": "string", "pattern": "^[a-z]+$"},
			},
		},
	}))

	if _, ok := got["$schema"]; ok {
		t.Error("$schema should be dropped")
	}
	if _, ok := got["additionalProperties"]; ok {
		t.Error("additionalProperties should be dropped")
	}
	tags := got["properties"].(map[string]interface{})["tags"].(map[string]interface{})
	if tags["type"] != "ARRAY" {
		t.Errorf("tags type = %v", tags["type"])
	}
	if _, ok := tags["default"]; ok {
		t.Error("default should be dropped")
	}
	items := tags["items"].(map[string]interface{})
	if items["type"] != "STRING" {
		t.Errorf("items type = %v", items["type"])
	}
	if _, ok := items["pattern"]; ok {
		t.Error("pattern should be dropped")
	}
}

func TestParseToolCallsAnthropic(t *testing.T) {
	resp := []byte(`{
		"content": [
			{"type": "text", "text": "Let me check."},
			{"type": "tool_use", "id": "toolu_1", "name": "search", "input": {"query": "go"}},
			{"type": "tool_use", "id": "toolu_2", "name": "now"}
		]
	}`)

	calls, err := AnthropicAdapter{}.ParseToolCalls(resp)
	if err != nil {
		t.Fatalf("ParseToolCalls failed: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "toolu_1" || calls[0].Input["query"] != "go" {
		t.Errorf("unexpected first call: %+v", calls[0])
	}
	if calls[1].Input == nil || len(calls[1].Input) != 0 || calls[1].InputError != "" {
		t.Errorf("missing input should decode to an empty map: %+v", calls[1])
	}
}

func TestParseToolCallsOpenAIMalformedArgumentsScopedToOneCall(t *testing.T) {
	resp := []byte(`{
		"choices": [{
			"message": {
				"role": "assistant",
				"tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "search", "arguments": "{\"query\":\"go\"}"}},
					{"id": "call_2", "type": "function", "function": {"name": "search", "arguments": "{\"query\": "}},
					{"id": "call_3", "type": "function", "function": {"name": "now", "arguments": ""}}
				]
			}
		}]
	}`)

	calls, err := OpenAIAdapter{}.ParseToolCalls(resp)
	if err != nil {
		t.Fatalf("a malformed argument string must not fail the batch: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}
	if calls[0].InputError != "" || calls[0].Input["query"] != "go" {
		t.Errorf("first call should decode: %+v", calls[0])
	}
	if calls[1].InputError == "" {
		t.Errorf("second call should carry an input error: %+v", calls[1])
	}
	if calls[2].InputError != "" || len(calls[2].Input) != 0 {
		t.Errorf("empty arguments should decode to an empty map: %+v", calls[2])
	}
}

func TestParseToolCallsOpenAIObjectArguments(t *testing.T) {
	resp := []byte(`{"tool_calls": [{"id": "c", "function": {"name": "search", "arguments": {"query": "x"}}}]}`)
	calls, err := OpenAIAdapter{}.ParseToolCalls(resp)
	if err != nil || len(calls) != 1 || calls[0].Input["query"] != "x" {
		t.Errorf("unexpected result: %+v, %v", calls, err)
	}
}

func TestParseToolCallsGemini(t *testing.T) {
	resp := []byte(`{
		"candidates": [{
			"content": {"parts": [
				{"text": "thinking"},
				{"functionCall": {"name": "search", "args": {"query": "go"}}},
				{"functionCall": {"id": "given", "name": "now"}}
			]}
		}]
	}`)

	calls, err := GeminiAdapter{}.ParseToolCalls(resp)
	if err != nil {
		t.Fatalf("ParseToolCalls failed: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "gemini-toolcall-search-0" {
		t.Errorf("synthesized id = %q", calls[0].ID)
	}
	if calls[1].ID != "given" {
		t.Errorf("server id should be kept, got %q", calls[1].ID)
	}
	if calls[0].Input["query"] != "go" || calls[1].Input == nil {
		t.Errorf("unexpected inputs: %+v", calls)
	}
}

func TestParseToolCallsGeminiInvalidArgs(t *testing.T) {
	resp := []byte(`{"candidates": [{"content": {"parts": [
		{"functionCall": {"name": "search", "args": "not an object"}},
		{"functionCall": {"name": "now", "args": {}}}
	]}}]}`)

	calls, err := GeminiAdapter{}.ParseToolCalls(resp)
	if err != nil || len(calls) != 2 {
		t.Fatalf("unexpected result: %+v, %v", calls, err)
	}
	if calls[0].InputError == "" {
		t.Error("undecodable args should be reported on the call")
	}
	if calls[1].InputError != "" || calls[1].ID != "gemini-toolcall-now-1" {
		t.Errorf("unexpected second call: %+v", calls[1])
	}
}

func TestParseToolCallsInvalidEnvelope(t *testing.T) {
	for _, v := range Vendors() {
		if _, err := ParseToolCallsFrom(v, []byte("not json")); err == nil {
			t.Errorf("%s: expected error for unreadable envelope", v)
		}
	}
}

func TestToolResultRoundTrip(t *testing.T) {
	result := models.ToolResult{
		ToolCallID: "t1",
		ToolName:   "x",
		Result:     map[string]interface{}{"a": 1},
		IsError:    false,
	}
	want := StringifyResult(map[string]interface{}{"a": 1})

	for _, v := range Vendors() {
		t.Run(string(v), func(t *testing.T) {
			adapter, _ := AdapterFor(v)
			envelope, err := json.Marshal(adapter.FormatToolResult(result))
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			got, err := adapter.ParseToolResult(envelope)
			if err != nil {
				t.Fatalf("ParseToolResult failed: %v", err)
			}
			if got.ToolCallID != "t1" {
				t.Errorf("tool call id = %q, want t1", got.ToolCallID)
			}
			if got.Result != want {
				t.Errorf("content = %v, want %q", got.Result, want)
			}
			if got.IsError {
				t.Error("success must not round-trip as an error")
			}
		})
	}
}

func TestToolResultErrorMarking(t *testing.T) {
	result := models.ToolResult{ToolCallID: "t2", ToolName: "x", Result: "boom", IsError: true}

	for _, v := range Vendors() {
		t.Run(string(v), func(t *testing.T) {
			adapter, _ := AdapterFor(v)
			envelope, _ := json.Marshal(adapter.FormatToolResult(result))

			got, err := adapter.ParseToolResult(envelope)
			if err != nil {
				t.Fatalf("ParseToolResult failed: %v", err)
			}
			if !got.IsError || got.Result != "boom" {
				t.Errorf("error not preserved: %+v (envelope %s)", got, envelope)
			}
		})
	}

	msg := OpenAIAdapter{}.FormatToolResult(result).(OpenAIToolMessage)
	if msg.Content != "Error: boom" {
		t.Errorf("openai error content = %q", msg.Content)
	}
}

func TestOpenAIErrorPrefixIsAmbiguous(t *testing.T) {
	// A success whose text starts with the error marker cannot be told apart on the way back
	success := models.ToolResult{ToolCallID: "t3", ToolName: "log", Result: "Error: none found"}
	envelope, _ := json.Marshal(OpenAIAdapter{}.FormatToolResult(success))

	got, err := OpenAIAdapter{}.ParseToolResult(envelope)
	if err != nil {
		t.Fatalf("ParseToolResult failed: %v", err)
	}
	if !got.IsError || got.Result != "none found" {
		t.Errorf("expected the marker to be read as a failure, got %+v", got)
	}

	// Other dialects carry the flag explicitly
	for _, v := range []Vendor{VendorAnthropic, VendorGemini} {
		adapter, _ := AdapterFor(v)
		envelope, _ := json.Marshal(adapter.FormatToolResult(success))
		got, err := adapter.ParseToolResult(envelope)
		if err != nil || got.IsError || got.Result != "Error: none found" {
			t.Errorf("%s: success misread: %+v, %v", v, got, err)
		}
	}
}

func TestStringifyResult(t *testing.T) {
	if got := StringifyResult("plain"); got != "plain" {
		t.Errorf("string result = %q", got)
	}
	if got := StringifyResult(nil); got != "" {
		t.Errorf("nil result = %q", got)
	}
	if got := StringifyResult(map[string]int{"a": 1}); got != "{\n  \"a\": 1\n}" {
		t.Errorf("map result = %q", got)
	}
}

func TestFormatDisplayResult(t *testing.T) {
	tests := []struct {
		name   string
		result *models.CallToolResult
		want   string
	}{
		{"nil", nil, "Tool executed successfully"},
		{"empty", &models.CallToolResult{}, "Tool executed successfully"},
		{
			"text and image",
			&models.CallToolResult{Content: []models.ContentItem{
				{Type: "text", Text: "hello"},
				{Type: "image", MIMEType: "image/png", Data: "AAAA"},
			}},
			"hello\n[Image: image/png]",
		},
		{
			"structured fallback",
			&models.CallToolResult{StructuredContent: map[string]interface{}{"ok": true}},
			"{\n  \"ok\": true\n}",
		},
		{
			"resource link",
			&models.CallToolResult{Content: []models.ContentItem{{Type: "resource_link", URI: "file:///a"}}},
			"[Resource: file:///a]",
		},
	}

	for _, tt := range tests {
		if got := FormatDisplayResult(tt.result); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}
