package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	slog.SetDefault(slog.New(NewHandler(os.Getenv("ENVIRONMENT"))))
}

// NewHandler returns the handler Init installs for the given environment
func NewHandler(environment string) slog.Handler {
	if strings.ToLower(environment) == "production" {
		return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
}

// WithServer returns a logger with tool server fields attached.
// Use this for everything logged about one connection.
func WithServer(serverID, serverName string) *slog.Logger {
	return slog.With(
		"server_id", serverID,
		"server_name", serverName,
	)
}

// WithToolCall returns a logger scoped to one tool invocation.
func WithToolCall(logger *slog.Logger, toolCallID, toolName string) *slog.Logger {
	return logger.With(
		"tool_call_id", toolCallID,
		"tool_name", toolName,
	)
}
