package job

import (
	"context"
	"errors"
	"time"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/id"
)

// Filter narrows job list and count queries. Zero values match everything.
type Filter struct {
	TenantID  string
	Status    Status
	ModelType ModelType
}

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Page is one page of a job listing.
type Page struct {
	Jobs  []*Record
	Total int64
}

// Store defines the persistence contract for job records.
//
// Every mutating operation must be a single atomic read-modify-write:
// UpdateJob carries the version the caller read, and the store rejects
// the write with recq.ErrVersionConflict when the stored version has
// moved on. ClaimJob is the conditional claim — among concurrent
// claimants of the same job exactly one succeeds.
type Store interface {
	// CreateJob persists a new record in pending state.
	CreateJob(ctx context.Context, r *Record) error

	// GetJob retrieves a record by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Record, error)

	// UpdateJob persists a mutated record. The write succeeds only when
	// the stored version equals r.Version; on success the store bumps
	// r.Version and r.UpdatedAt in place.
	UpdateJob(ctx context.Context, r *Record) error

	// ClaimJob atomically claims an eligible job for the worker/session
	// pair, applying the Start transition. Returns recq.ErrAlreadyClaimed
	// when another claimant won or the job is no longer eligible.
	ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, sessionID id.SessionID, now time.Time) (*Record, error)

	// NextCandidates returns up to limit jobs eligible for dispatch at
	// now, in scheduler order (priority, schedule, age). The returned
	// jobs are candidates only; callers must still win ClaimJob.
	NextCandidates(ctx context.Context, now time.Time, limit int) ([]*Record, error)

	// ListJobs returns records matching the filter, ordered by creation
	// time ascending.
	ListJobs(ctx context.Context, f Filter, opts ListOpts) ([]*Record, error)

	// CountJobs returns the number of records matching the filter.
	CountJobs(ctx context.Context, f Filter) (int64, error)

	// OverdueJobs returns processing jobs whose attempt has outlived its
	// time budget (the record's own, or defaultBudget when unset).
	OverdueJobs(ctx context.Context, now time.Time, defaultBudget time.Duration) ([]*Record, error)
}

// applyRetries bounds the optimistic-concurrency loop in Apply. Version
// conflicts on a single record resolve quickly; persistent conflict
// means the transition lost a race it should not win (e.g. a concurrent
// cancel), and the machine error from the fresh snapshot is returned.
const applyRetries = 5

// Apply runs a state-machine transition against the store as an atomic
// read-modify-write: read the current snapshot, apply mutate, write back
// conditionally on the version read. On a version conflict it re-reads
// and retries; machine errors (ErrNotProcessing, ErrTerminalState, ...)
// propagate unchanged so callers can tell a lost race from a bug.
func Apply(ctx context.Context, s Store, jobID id.JobID, mutate func(*Record) (*Record, error)) (*Record, error) {
	var lastErr error
	for range applyRetries {
		r, err := s.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		next, err := mutate(r)
		if err != nil {
			return nil, err
		}

		if err := s.UpdateJob(ctx, next); err != nil {
			if errors.Is(err, recq.ErrVersionConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return next, nil
	}
	return nil, lastErr
}
