package jobs

import (
	"context"
	"fmt"
	"log"
	"time"
)

// EventPruner deletes audit events recorded before cutoff
type EventPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditRetentionJob trims the audit trail to the configured retention window
type AuditRetentionJob struct {
	store     EventPruner
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewAuditRetentionJob creates a job that keeps retentionDays of audit events
// and runs every interval
func NewAuditRetentionJob(store EventPruner, retentionDays int, interval time.Duration) *AuditRetentionJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &AuditRetentionJob{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		now:       time.Now,
	}
}

// Run deletes every event older than the retention window
func (j *AuditRetentionJob) Run(ctx context.Context) error {
	if j.retention <= 0 {
		log.Println("[RETENTION] Audit retention disabled (AUDIT_RETENTION_DAYS <= 0)")
		return nil
	}

	cutoff := j.now().Add(-j.retention)
	deleted, err := j.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune audit events: %w", err)
	}

	if deleted > 0 {
		log.Printf("🧹 [RETENTION] Deleted %d audit events older than %s", deleted, cutoff.Format(time.RFC3339))
	}
	return nil
}

// GetNextRunTime returns when the job should run next
func (j *AuditRetentionJob) GetNextRunTime() time.Time {
	return j.now().Add(j.interval)
}
