// Package memory provides a fully in-memory store implementation.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/id"
	"github.com/ricmsdev/eventcad-sub001/job"
	"github.com/ricmsdev/eventcad-sub001/scheduler"
	"github.com/ricmsdev/eventcad-sub001/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store. All atomicity
// comes from a single mutex: a claim is a read-check-write under the
// lock, so concurrent claimants of one job serialize and exactly one
// wins.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*job.Record
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Record),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new record.
func (m *Store) CreateJob(_ context.Context, r *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.jobs[key]; exists {
		return recq.ErrJobAlreadyExists
	}
	m.jobs[key] = r.Clone()
	return nil
}

// GetJob retrieves a record by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, recq.ErrJobNotFound
	}
	return r.Clone(), nil
}

// UpdateJob persists a mutated record, conditional on the version the
// caller read. On success the record's Version and UpdatedAt are bumped
// in place.
func (m *Store) UpdateJob(_ context.Context, r *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	stored, ok := m.jobs[key]
	if !ok {
		return recq.ErrJobNotFound
	}
	if stored.Version != r.Version {
		return recq.ErrVersionConflict
	}

	r.Version++
	r.UpdatedAt = time.Now().UTC()
	m.jobs[key] = r.Clone()
	return nil
}

// ClaimJob atomically claims an eligible job by applying the Start
// transition under the store lock.
func (m *Store) ClaimJob(_ context.Context, jobID id.JobID, workerID id.WorkerID, sessionID id.SessionID, now time.Time) (*job.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	stored, ok := m.jobs[key]
	if !ok {
		return nil, recq.ErrJobNotFound
	}

	started, err := job.Start(stored, workerID, sessionID, now)
	if err != nil {
		// Someone else won, or the job left the claimable window.
		return nil, recq.ErrAlreadyClaimed
	}

	started.Version = stored.Version + 1
	started.UpdatedAt = now
	m.jobs[key] = started
	return started.Clone(), nil
}

// NextCandidates returns up to limit dispatch-eligible jobs in
// scheduler order.
func (m *Store) NextCandidates(_ context.Context, now time.Time, limit int) ([]*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*job.Record, 0, len(m.jobs))
	for _, r := range m.jobs {
		if !scheduler.Eligible(r, now) {
			continue
		}
		candidates = append(candidates, r.Clone())
	}

	scheduler.Order(candidates)

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func matches(r *job.Record, f job.Filter) bool {
	if f.TenantID != "" && r.TenantID != f.TenantID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.ModelType != "" && r.ModelType != f.ModelType {
		return false
	}
	return true
}

// ListJobs returns records matching the filter, ordered by creation
// time ascending.
func (m *Store) ListJobs(_ context.Context, f job.Filter, opts job.ListOpts) ([]*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Record, 0, len(m.jobs))
	for _, r := range m.jobs {
		if !matches(r, f) {
			continue
		}
		result = append(result, r.Clone())
	}

	// Sort by CreatedAt for deterministic output; ID breaks exact ties.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	// Apply offset / limit.
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of records matching the filter.
func (m *Store) CountJobs(_ context.Context, f job.Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, r := range m.jobs {
		if matches(r, f) {
			count++
		}
	}
	return count, nil
}

// OverdueJobs returns processing jobs whose attempt has outlived its
// time budget.
func (m *Store) OverdueJobs(_ context.Context, now time.Time, defaultBudget time.Duration) ([]*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var overdue []*job.Record
	for _, r := range m.jobs {
		if r.Status != job.StatusProcessing || r.StartedAt == nil {
			continue
		}
		budget := r.TimeoutBudget
		if budget <= 0 {
			budget = defaultBudget
		}
		if budget <= 0 {
			continue
		}
		if now.Sub(*r.StartedAt) > budget {
			overdue = append(overdue, r.Clone())
		}
	}
	return overdue, nil
}
