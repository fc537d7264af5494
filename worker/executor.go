// Package worker provides the job execution engine — a Coordinator
// that wins claims against competing workers, an Executor that drives a
// claimed job through middleware and its model runner, and a Pool that
// manages the concurrent claim loops.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/backoff"
	"github.com/ricmsdev/eventcad-sub001/ext"
	"github.com/ricmsdev/eventcad-sub001/id"
	"github.com/ricmsdev/eventcad-sub001/job"
	"github.com/ricmsdev/eventcad-sub001/middleware"
	"github.com/ricmsdev/eventcad-sub001/runner"
)

// Executor runs one claimed job through the middleware chain and its
// registered runner, then applies the matching transition — Complete,
// or Fail with backoff — and emits lifecycle hooks.
type Executor struct {
	runners    *runner.Registry
	extensions *ext.Registry
	store      job.Store
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger

	// cancelPoll is how often a held claim checks for a concurrent
	// cancellation. Zero disables the check.
	cancelPoll time.Duration
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	runners *runner.Registry,
	extensions *ext.Registry,
	store job.Store,
	bo backoff.Strategy,
	cancelPoll time.Duration,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		runners:    runners,
		extensions: extensions,
		store:      store,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
		cancelPoll: cancelPoll,
	}
}

// Execute runs a claimed job to its attempt outcome.
// On success: applies Complete and emits JobCompleted.
// On failure with attempts remaining: applies Fail (retry) and emits JobRetrying.
// On failure with attempts exhausted: applies Fail (terminal) and emits JobFailed.
// A claim lost to a concurrent cancel or timeout is logged and swallowed.
func (e *Executor) Execute(ctx context.Context, rec *job.Record) error {
	run, err := e.runners.Get(rec.ModelType)
	if err != nil {
		// A deployment gap, not a processing failure: spending the
		// job's retry budget on it would destroy the job before a
		// runner ever sees it. The pool filters such candidates before
		// claiming; a claim that slips through falls to the watchdog.
		e.logger.Error("no runner registered for claimed job",
			slog.String("job_id", rec.ID.String()),
			slog.String("model_type", string(rec.ModelType)),
		)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if e.cancelPoll > 0 {
		go e.watchCancellation(runCtx, cancel, rec.ID)
	}

	report := func(ctx context.Context, progress int, stage, detail string) error {
		return e.reportProgress(ctx, rec.ID, progress, stage, detail)
	}

	var results *job.Results
	terminal := func(ctx context.Context) error {
		var runErr error
		results, runErr = run.Run(ctx, rec, report)
		return runErr
	}

	start := time.Now()
	execErr := e.mw(runCtx, rec, terminal)
	elapsed := time.Since(start)

	if execErr != nil {
		return e.handleFailure(ctx, rec, execErr)
	}
	return e.handleSuccess(ctx, rec, results, elapsed)
}

// watchCancellation polls the store and cancels the attempt context
// when the job leaves processing underneath the worker.
func (e *Executor) watchCancellation(ctx context.Context, cancel context.CancelFunc, jobID id.JobID) {
	ticker := time.NewTicker(e.cancelPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur, err := e.store.GetJob(ctx, jobID)
			if err != nil {
				continue
			}
			if cur.Status != job.StatusProcessing {
				e.logger.Info("claim revoked mid-attempt, cancelling",
					slog.String("job_id", jobID.String()),
					slog.String("status", string(cur.Status)),
				)
				cancel()
				return
			}
		}
	}
}

// reportProgress persists a progress update and emits the hook.
func (e *Executor) reportProgress(ctx context.Context, jobID id.JobID, progress int, stage, detail string) error {
	updated, err := job.Apply(ctx, e.store, jobID, func(cur *job.Record) (*job.Record, error) {
		return job.UpdateProgress(cur, progress, stage, detail, time.Now().UTC())
	})
	if err != nil {
		return err
	}

	e.extensions.EmitJobProgress(ctx, updated, updated.Progress, stage)
	return nil
}

// handleSuccess applies the Complete transition and emits JobCompleted.
func (e *Executor) handleSuccess(ctx context.Context, rec *job.Record, results *job.Results, elapsed time.Duration) error {
	completed, err := job.Apply(ctx, e.store, rec.ID, func(cur *job.Record) (*job.Record, error) {
		return job.Complete(cur, results, time.Now().UTC())
	})
	if err != nil {
		if errors.Is(err, recq.ErrNotProcessing) {
			// Cancelled or timed out while the runner was finishing.
			e.logger.Info("discarding result for revoked claim",
				slog.String("job_id", rec.ID.String()),
			)
			return nil
		}
		e.logger.Error("failed to complete job",
			slog.String("job_id", rec.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, completed, elapsed)
	return nil
}

// handleFailure applies the Fail transition, which either schedules a
// retry or exhausts the job, and emits the matching hook.
func (e *Executor) handleFailure(ctx context.Context, rec *job.Record, runErr error) error {
	failed, err := job.Apply(ctx, e.store, rec.ID, func(cur *job.Record) (*job.Record, error) {
		return job.Fail(cur, runErr.Error(), nil, e.backoff, time.Now().UTC())
	})
	if err != nil {
		if errors.Is(err, recq.ErrNotProcessing) {
			e.logger.Info("discarding failure for revoked claim",
				slog.String("job_id", rec.ID.String()),
			)
			return nil
		}
		e.logger.Error("failed to record job failure",
			slog.String("job_id", rec.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if failed.Status == job.StatusPending && failed.NextRetryAt != nil {
		e.extensions.EmitJobRetrying(ctx, failed, failed.AttemptCount, *failed.NextRetryAt)

		e.logger.Info("job scheduled for retry",
			slog.String("job_id", failed.ID.String()),
			slog.String("model_type", string(failed.ModelType)),
			slog.Int("attempt", failed.AttemptCount),
			slog.Int("max_attempts", failed.MaxAttempts),
			slog.Time("next_retry_at", *failed.NextRetryAt),
		)
		return fmt.Errorf("attempt %d/%d failed: %w", failed.AttemptCount, failed.MaxAttempts, runErr)
	}

	e.extensions.EmitJobFailed(ctx, failed, runErr)

	e.logger.Warn("job failed after exhausting attempts",
		slog.String("job_id", failed.ID.String()),
		slog.String("model_type", string(failed.ModelType)),
		slog.Int("attempts", failed.AttemptCount),
		slog.String("error", runErr.Error()),
	)
	return runErr
}
