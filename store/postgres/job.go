package postgres

import (
	"context"
	"fmt"
	"time"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/id"
	"github.com/ricmsdev/eventcad-sub001/job"
)

// updateJobSQL writes every mutable column, conditional on the version
// the caller read. Argument order matches updateArgs.
const updateJobSQL = `
	UPDATE recq_jobs SET
		tenant_id = $2, initiated_by = $3, target_resource_id = $4,
		model_type = $5, priority = $6, status = $7, scheduled_for = $8,
		started_at = $9, completed_at = $10, progress = $11,
		current_stage = $12, attempt_count = $13, max_attempts = $14,
		next_retry_at = $15, processing_log = $16, error_history = $17,
		worker_id = $18, session_id = $19, results = $20,
		timeout_budget = $21, version = $22, updated_at = $23
	WHERE id = $1 AND version = $24`

// updateArgs builds the argument list for updateJobSQL. The record
// already carries the new version and updated_at; oldVersion guards the
// conditional write.
func updateArgs(r *job.Record, oldVersion int64) ([]any, error) {
	logJSON, histJSON, resultsJSON, err := encodeJSON(r)
	if err != nil {
		return nil, err
	}

	return []any{
		r.ID.String(), r.TenantID, r.InitiatedBy, r.TargetResourceID,
		string(r.ModelType), int(r.Priority), string(r.Status), r.ScheduledFor,
		r.StartedAt, r.CompletedAt, r.Progress,
		r.CurrentStage, r.AttemptCount, r.MaxAttempts,
		r.NextRetryAt, logJSON, histJSON,
		r.WorkerID.String(), r.SessionID.String(), resultsJSON,
		r.TimeoutBudget.Nanoseconds(), r.Version, r.UpdatedAt,
		oldVersion,
	}, nil
}

// CreateJob persists a new record in pending state.
func (s *Store) CreateJob(ctx context.Context, r *job.Record) error {
	args, err := jobArgs(r)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO recq_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
		)`,
		args...,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return recq.ErrJobAlreadyExists
		}
		return fmt.Errorf("recq/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM recq_jobs WHERE id = $1`,
		jobID.String(),
	)

	r, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, recq.ErrJobNotFound
		}
		return nil, fmt.Errorf("recq/postgres: get job: %w", err)
	}
	return r, nil
}

// UpdateJob persists a mutated record, conditional on the version the
// caller read. On success the record's Version and UpdatedAt are bumped
// in place.
func (s *Store) UpdateJob(ctx context.Context, r *job.Record) error {
	oldVersion := r.Version
	oldUpdatedAt := r.UpdatedAt
	r.Version = oldVersion + 1
	r.UpdatedAt = time.Now().UTC()

	args, err := updateArgs(r, oldVersion)
	if err != nil {
		r.Version = oldVersion
		r.UpdatedAt = oldUpdatedAt
		return err
	}

	tag, err := s.pool.Exec(ctx, updateJobSQL, args...)
	if err != nil {
		r.Version = oldVersion
		r.UpdatedAt = oldUpdatedAt
		return fmt.Errorf("recq/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.Version = oldVersion
		r.UpdatedAt = oldUpdatedAt

		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM recq_jobs WHERE id = $1)`,
			r.ID.String(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("recq/postgres: update job: %w", err)
		}
		if !exists {
			return recq.ErrJobNotFound
		}
		return recq.ErrVersionConflict
	}
	return nil
}

// ClaimJob atomically claims an eligible job for the worker/session
// pair. The row lock serializes competing claimants; the loser sees the
// winner's processing state and fails the Start transition.
func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID, sessionID id.SessionID, now time.Time) (*job.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("recq/postgres: claim job: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM recq_jobs WHERE id = $1 FOR UPDATE`,
		jobID.String(),
	)
	cur, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, recq.ErrJobNotFound
		}
		return nil, fmt.Errorf("recq/postgres: claim job: %w", err)
	}

	started, err := job.Start(cur, workerID, sessionID, now)
	if err != nil {
		// Someone else won, or the job left the claimable window.
		return nil, recq.ErrAlreadyClaimed
	}

	started.Version = cur.Version + 1
	started.UpdatedAt = now

	args, err := updateArgs(started, cur.Version)
	if err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx, updateJobSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("recq/postgres: claim job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Unreachable while the row lock is held; keep the claim honest
		// anyway.
		return nil, recq.ErrAlreadyClaimed
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("recq/postgres: claim job: commit: %w", err)
	}
	return started, nil
}

// NextCandidates returns up to limit jobs eligible for dispatch at now,
// in scheduler order. Unscheduled jobs sort ahead of scheduled ones.
func (s *Store) NextCandidates(ctx context.Context, now time.Time, limit int) ([]*job.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM recq_jobs
		WHERE status IN ('pending', 'queued')
		  AND (scheduled_for IS NULL OR scheduled_for <= $1)
		  AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY priority ASC, scheduled_for ASC NULLS FIRST, created_at ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recq/postgres: next candidates: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// ListJobs returns records matching the filter, ordered by creation
// time ascending.
func (s *Store) ListJobs(ctx context.Context, f job.Filter, opts job.ListOpts) ([]*job.Record, error) {
	query := `SELECT ` + jobColumns + ` FROM recq_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, f.TenantID)
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.ModelType != "" {
		query += fmt.Sprintf(" AND model_type = $%d", argIdx)
		args = append(args, string(f.ModelType))
		argIdx++
	}

	query += " ORDER BY created_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recq/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of records matching the filter.
func (s *Store) CountJobs(ctx context.Context, f job.Filter) (int64, error) {
	query := `SELECT COUNT(*) FROM recq_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, f.TenantID)
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.ModelType != "" {
		query += fmt.Sprintf(" AND model_type = $%d", argIdx)
		args = append(args, string(f.ModelType))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("recq/postgres: count jobs: %w", err)
	}
	return count, nil
}

// OverdueJobs returns processing jobs whose attempt has outlived its
// time budget. Records with their own budget use it; the rest fall back
// to defaultBudget. When both are zero the job is never overdue.
func (s *Store) OverdueJobs(ctx context.Context, now time.Time, defaultBudget time.Duration) ([]*job.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM recq_jobs
		WHERE status = 'processing'
		  AND started_at IS NOT NULL
		  AND CASE
		        WHEN timeout_budget > 0 THEN started_at + (timeout_budget / 1000) * INTERVAL '1 microsecond' < $1
		        WHEN $2::bigint > 0 THEN started_at + ($2::bigint / 1000) * INTERVAL '1 microsecond' < $1
		        ELSE FALSE
		      END`,
		now, defaultBudget.Nanoseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("recq/postgres: overdue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}
