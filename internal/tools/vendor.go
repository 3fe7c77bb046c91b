// Package tools translates between the provider-neutral tool model and each
// LLM vendor's function-calling wire format. Every function here is pure.
package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/claraverse/mcp-gateway/internal/models"
)

// Vendor identifies an LLM provider's function-calling dialect
type Vendor string

const (
	VendorAnthropic Vendor = "anthropic"
	VendorOpenAI    Vendor = "openai"
	VendorGemini    Vendor = "gemini"
)

// ErrUnknownVendor is returned for a vendor name no adapter handles
var ErrUnknownVendor = errors.New("unknown vendor")

// Vendors lists every supported vendor
func Vendors() []Vendor {
	return []Vendor{VendorAnthropic, VendorOpenAI, VendorGemini}
}

// ParseVendor resolves a provider name to its dialect.
// OpenAI-compatible providers share the OpenAI adapter.
func ParseVendor(name string) (Vendor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "anthropic", "claude":
		return VendorAnthropic, nil
	case "openai", "azure", "azure-openai", "ollama", "groq", "openrouter", "lmstudio", "deepseek", "mistral":
		return VendorOpenAI, nil
	case "gemini", "google", "vertex":
		return VendorGemini, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVendor, name)
}

// Adapter converts tools, calls and results for one vendor
type Adapter interface {
	Vendor() Vendor
	// FormatTools returns the vendor's tool declarations, ready for json.Marshal
	FormatTools(tools []models.ServerTool) interface{}
	// ParseToolCalls extracts calls from a raw model response. It fails only
	// when the response envelope itself is unreadable; bad arguments are
	// reported per call through ToolCall.InputError.
	ParseToolCalls(response []byte) ([]models.ToolCall, error)
	// FormatToolResult wraps one result in the vendor's result envelope
	FormatToolResult(result models.ToolResult) interface{}
	// ParseToolResult reads back an envelope produced by FormatToolResult
	ParseToolResult(envelope []byte) (models.ToolResult, error)
}

var adapters = map[Vendor]Adapter{
	VendorAnthropic: AnthropicAdapter{},
	VendorOpenAI:    OpenAIAdapter{},
	VendorGemini:    GeminiAdapter{},
}

// AdapterFor returns the adapter for vendor
func AdapterFor(vendor Vendor) (Adapter, error) {
	adapter, ok := adapters[vendor]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVendor, vendor)
	}
	return adapter, nil
}

// FormatToolsFor formats tools for vendor
func FormatToolsFor(vendor Vendor, tools []models.ServerTool) (interface{}, error) {
	adapter, err := AdapterFor(vendor)
	if err != nil {
		return nil, err
	}
	return adapter.FormatTools(tools), nil
}

// ParseToolCallsFrom parses the tool calls in a vendor response
func ParseToolCallsFrom(vendor Vendor, response []byte) ([]models.ToolCall, error) {
	adapter, err := AdapterFor(vendor)
	if err != nil {
		return nil, err
	}
	return adapter.ParseToolCalls(response)
}

// FormatToolResultFor wraps result in vendor's envelope
func FormatToolResultFor(vendor Vendor, result models.ToolResult) (interface{}, error) {
	adapter, err := AdapterFor(vendor)
	if err != nil {
		return nil, err
	}
	return adapter.FormatToolResult(result), nil
}
