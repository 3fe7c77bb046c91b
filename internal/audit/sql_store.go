package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/claraverse/mcp-gateway/internal/database"
)

// SQLStore persists audit events in the mcp_audit_log table
type SQLStore struct {
	db      *database.DB
	timeout time.Duration
}

// NewSQLStore creates a store on an initialized database
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db, timeout: 5 * time.Second}
}

func (s *SQLStore) Record(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	var details string
	if len(event.Details) > 0 {
		if data, err := json.Marshal(event.Details); err == nil {
			details = string(data)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mcp_audit_log (id, kind, server_id, server_name, tool_name, success, reason, details, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, string(event.Kind), event.ServerID, event.ServerName, event.ToolName,
		event.Success, event.Reason, details, event.Timestamp.UTC())

	if err != nil {
		log.Printf("⚠️  [AUDIT] Failed to persist audit event %s: %v", event.ID, err)
	}
}

// Recent returns the newest events, newest first
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, server_id, server_name, tool_name, success, reason, details, executed_at
		FROM mcp_audit_log
		ORDER BY executed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			kind    string
			reason  *string
			details *string
		)
		if err := rows.Scan(&e.ID, &kind, &e.ServerID, &e.ServerName, &e.ToolName, &e.Success, &reason, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		e.Kind = Kind(kind)
		if reason != nil {
			e.Reason = *reason
		}
		if details != nil && *details != "" {
			_ = json.Unmarshal([]byte(*details), &e.Details)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// DeleteOlderThan removes events recorded before cutoff and returns how many were deleted
func (s *SQLStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mcp_audit_log WHERE executed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit rows: %w", err)
	}
	return res.RowsAffected()
}
