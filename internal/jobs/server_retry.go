package jobs

import (
	"context"
	"log"
	"time"
)

// FailedServerRetrier reconnects servers whose last connect failed
type FailedServerRetrier interface {
	RetryFailed(ctx context.Context) int
}

// ServerRetryJob periodically retries servers from the bootstrap file that
// could not be connected, e.g. because the launcher was not attached yet
type ServerRetryJob struct {
	retrier  FailedServerRetrier
	interval time.Duration
}

// NewServerRetryJob creates a new server retry job
func NewServerRetryJob(retrier FailedServerRetrier, interval time.Duration) *ServerRetryJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ServerRetryJob{retrier: retrier, interval: interval}
}

// Run retries every failed server once
func (j *ServerRetryJob) Run(ctx context.Context) error {
	if still := j.retrier.RetryFailed(ctx); still > 0 {
		log.Printf("⚠️  [SCHEDULER] %d servers from the servers file are still unreachable", still)
	}
	return nil
}

// GetNextRunTime returns when the job should run next
func (j *ServerRetryJob) GetNextRunTime() time.Time {
	return time.Now().Add(j.interval)
}
