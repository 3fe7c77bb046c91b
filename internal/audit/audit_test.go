package audit

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/claraverse/mcp-gateway/internal/database"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureRecorder) Record(_ context.Context, e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &captureRecorder{}, &captureRecorder{}
	m := Multi{a, nil, b}

	m.Record(context.Background(), NewEvent(KindConnection, true, ""))

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both recorders to receive the event, got %d and %d", len(a.events), len(b.events))
	}
	if a.events[0].ID == "" {
		t.Error("event id should be set")
	}
}

func TestLogRecorderLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewLogRecorder(logger)

	ev := NewEvent(KindCommandValidation, false, "runner not allowed")
	ev.ServerID = "srv-1"
	r.Record(context.Background(), ev)

	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("failed event should log at warn, got %q", out)
	}
	if !strings.Contains(out, "server_id=srv-1") || !strings.Contains(out, "kind=command_validation") {
		t.Errorf("missing attributes in %q", out)
	}
}

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	return NewSQLStore(db)
}

func TestSQLStoreRecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := NewEvent(KindToolExecution, true, "")
	first.ToolName = "search"
	first.Timestamp = time.Now().Add(-time.Minute).UTC()
	second := NewEvent(KindCommandValidation, false, "path traversal")
	second.Details = map[string]string{"command": "npx"}

	store.Record(ctx, first)
	store.Record(ctx, second)

	events, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ID != second.ID {
		t.Errorf("expected newest event first, got %s", events[0].ID)
	}
	if events[0].Success || events[0].Reason != "path traversal" {
		t.Errorf("unexpected event: %+v", events[0])
	}
	if events[0].Details["command"] != "npx" {
		t.Errorf("details not round-tripped: %+v", events[0].Details)
	}
	if events[1].ToolName != "search" {
		t.Errorf("tool name not stored: %+v", events[1])
	}
}

func TestSQLStoreDeleteOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := NewEvent(KindConnection, true, "")
	old.Timestamp = time.Now().Add(-48 * time.Hour).UTC()
	fresh := NewEvent(KindConnection, true, "")

	store.Record(ctx, old)
	store.Record(ctx, fresh)

	deleted, err := store.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted row, got %d", deleted)
	}

	events, _ := store.Recent(ctx, 10)
	if len(events) != 1 || events[0].ID != fresh.ID {
		t.Errorf("expected only the fresh event to remain, got %+v", events)
	}
}
