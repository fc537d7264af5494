package job

import (
	"time"

	"github.com/ricmsdev/eventcad-sub001/id"
)

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting to be picked up by a worker.
	StatusPending Status = "pending"
	// StatusQueued means the job has been handed to the dispatch layer
	// but not yet claimed.
	StatusQueued Status = "queued"
	// StatusProcessing means a worker holds the claim and is executing.
	StatusProcessing Status = "processing"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed; terminal once attempts are exhausted.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was explicitly cancelled.
	StatusCancelled Status = "cancelled"
	// StatusTimeout means the watchdog expired the job's processing budget.
	// Timeouts are terminal and never retried; resubmit explicitly.
	StatusTimeout Status = "timeout"
)

// Priority orders dispatch. Lower numbers are more urgent.
type Priority int

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityNormal   Priority = 3
	PriorityLow      Priority = 4
)

// Valid reports whether the priority is within the accepted 1–4 range.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// MaxAttemptsLimit is the largest accepted retry budget at submission.
const MaxAttemptsLimit = 10

// Record represents one unit of AI-recognition work.
//
// Identity and provenance fields are immutable after creation. All
// mutation goes through the state machine functions in machine.go;
// Version supports the stores' optimistic concurrency control.
type Record struct {
	ID               id.JobID  `json:"id"`
	TenantID         string    `json:"tenant_id"`
	InitiatedBy      string    `json:"initiated_by"`
	TargetResourceID string    `json:"target_resource_id,omitempty"`
	ModelType        ModelType `json:"model_type"`
	Priority         Priority  `json:"priority"`
	Status           Status    `json:"status"`

	// ScheduledFor is the earliest instant the job may be claimed.
	// Nil means immediately.
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Progress is clamped to [0,100]. CurrentStage is advisory only.
	Progress     int    `json:"progress"`
	CurrentStage string `json:"current_stage,omitempty"`

	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`

	ProcessingLog ProcessingLog `json:"processing_log,omitempty"`
	ErrorHistory  []ErrorEntry  `json:"error_history,omitempty"`

	// WorkerID and SessionID identify the current claimant.
	// Both are nil IDs unless Status is processing.
	WorkerID  id.WorkerID  `json:"worker_id,omitempty"`
	SessionID id.SessionID `json:"session_id,omitempty"`

	// Results is set exactly once on success and immutable thereafter.
	Results *Results `json:"results,omitempty"`

	// TimeoutBudget bounds a single processing attempt. Zero means the
	// engine default applies.
	TimeoutBudget time.Duration `json:"timeout_budget,omitempty"`

	// Version increments on every persisted mutation.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanRetry reports whether a failed job still has attempts left and its
// backoff gate has passed.
func (r *Record) CanRetry(now time.Time) bool {
	if r.Status != StatusFailed {
		return false
	}
	if r.AttemptCount >= r.MaxAttempts {
		return false
	}
	return r.NextRetryAt == nil || !r.NextRetryAt.After(now)
}

// CanExecute reports whether the job is eligible to be started.
func (r *Record) CanExecute(now time.Time) bool {
	if r.Status == StatusPending || r.Status == StatusQueued {
		return true
	}
	return r.CanRetry(now)
}

// IsTerminal reports whether no further transition is permitted.
func (r *Record) IsTerminal(now time.Time) bool {
	switch r.Status {
	case StatusCompleted, StatusCancelled, StatusTimeout:
		return true
	case StatusFailed:
		// A failed job with attempts left is not terminal: a pending
		// backoff gate only delays the retry, it does not forbid it.
		return r.AttemptCount >= r.MaxAttempts
	default:
		return false
	}
}

// Clone returns a deep copy of the record. Stores hand out clones so
// that callers never share slices or maps with persisted state.
func (r *Record) Clone() *Record {
	cp := *r
	if r.ScheduledFor != nil {
		t := *r.ScheduledFor
		cp.ScheduledFor = &t
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	if r.NextRetryAt != nil {
		t := *r.NextRetryAt
		cp.NextRetryAt = &t
	}
	if r.ProcessingLog != nil {
		cp.ProcessingLog = make(ProcessingLog, len(r.ProcessingLog))
		copy(cp.ProcessingLog, r.ProcessingLog)
	}
	if r.ErrorHistory != nil {
		cp.ErrorHistory = make([]ErrorEntry, len(r.ErrorHistory))
		copy(cp.ErrorHistory, r.ErrorHistory)
	}
	if r.Results != nil {
		res := *r.Results
		cp.Results = &res
	}
	return &cp
}
