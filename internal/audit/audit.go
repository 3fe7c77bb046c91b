// Package audit records security-relevant decisions made by the gateway.
// Recording is observational: a failing sink is logged and never changes
// the outcome of the operation being audited.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an audit event
type Kind string

const (
	KindCommandValidation Kind = "command_validation"
	KindEnvSanitization   Kind = "env_sanitization"
	KindConnection        Kind = "connection"
	KindToolExecution     Kind = "tool_execution"
)

// Event is one audit record
type Event struct {
	ID         string            `json:"id"`
	Kind       Kind              `json:"kind"`
	ServerID   string            `json:"server_id,omitempty"`
	ServerName string            `json:"server_name,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
	Success    bool              `json:"success"`
	Reason     string            `json:"reason,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// NewEvent returns an event with a fresh id and timestamp
func NewEvent(kind Kind, success bool, reason string) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		Success:   success,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// Recorder receives audit events
type Recorder interface {
	Record(ctx context.Context, event Event)
}

// Nop discards every event
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// Multi fans an event out to several recorders
type Multi []Recorder

func (m Multi) Record(ctx context.Context, event Event) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, event)
		}
	}
}

// LogRecorder writes events to a structured logger
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a recorder on top of logger, or slog.Default when nil
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger.With("component", "audit")}
}

func (r *LogRecorder) Record(ctx context.Context, event Event) {
	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("audit_id", event.ID),
		slog.String("kind", string(event.Kind)),
		slog.Bool("success", event.Success),
	}
	if event.ServerID != "" {
		attrs = append(attrs, slog.String("server_id", event.ServerID))
	}
	if event.ServerName != "" {
		attrs = append(attrs, slog.String("server_name", event.ServerName))
	}
	if event.ToolName != "" {
		attrs = append(attrs, slog.String("tool_name", event.ToolName))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	for k, v := range event.Details {
		attrs = append(attrs, slog.String(k, v))
	}

	r.logger.LogAttrs(ctx, level, "audit event", attrs...)
}
