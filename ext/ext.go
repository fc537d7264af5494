// Package ext defines the extension system for the recognition engine.
// Extensions are notified of lifecycle events (job submitted, completed,
// failed, etc.) and can react to them — logging, metrics, notifications.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/ricmsdev/eventcad-sub001/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobSubmitted is called after a job is successfully persisted.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, rec *job.Record) error
}

// JobStarted is called when a worker claims a job and begins an attempt.
type JobStarted interface {
	OnJobStarted(ctx context.Context, rec *job.Record) error
}

// JobProgress is called when a runner reports progress.
type JobProgress interface {
	OnJobProgress(ctx context.Context, rec *job.Record, progress int, stage string) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, rec *job.Record, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, rec *job.Record, err error) error
}

// JobRetrying is called when an attempt fails but the job will be retried.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, rec *job.Record, attempt int, nextRetryAt time.Time) error
}

// JobCancelled is called after a job is cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, rec *job.Record, reason string) error
}

// JobTimedOut is called when the watchdog expires a processing job.
type JobTimedOut interface {
	OnJobTimedOut(ctx context.Context, rec *job.Record) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
