package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/backoff"
	"github.com/ricmsdev/eventcad-sub001/ext"
	"github.com/ricmsdev/eventcad-sub001/id"
	"github.com/ricmsdev/eventcad-sub001/job"
	"github.com/ricmsdev/eventcad-sub001/runner"
	"github.com/ricmsdev/eventcad-sub001/store/memory"
	"github.com/ricmsdev/eventcad-sub001/worker"
)

func setupExecutor(t *testing.T, runners *runner.Registry) (*worker.Executor, *memory.Store) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	extensions := ext.NewRegistry(logger)
	bo := backoff.NewConstant(time.Minute)
	return worker.NewExecutor(runners, extensions, s, bo, 0, logger), s
}

func claimTestJob(t *testing.T, s *memory.Store, model job.ModelType, maxAttempts int) *job.Record {
	t.Helper()
	r := submitTestJob(t, s, model, maxAttempts)
	claimed, err := s.ClaimJob(context.Background(), r.ID, id.NewWorkerID(), id.NewSessionID(), time.Now().UTC())
	if err != nil {
		t.Fatalf("claim job: %v", err)
	}
	return claimed
}

func TestExecutor_ProgressReporting(t *testing.T) {
	runners := runner.NewRegistry()
	if err := runners.Register(job.ModelTextExtraction, runner.RunnerFunc(
		func(ctx context.Context, _ *job.Record, report runner.ProgressFunc) (*job.Results, error) {
			if err := report(ctx, 40, "ocr", "page 2 of 5"); err != nil {
				return nil, err
			}
			return &job.Results{
				Kind:       job.ModelTextExtraction,
				Extraction: &job.ExtractionResults{Blocks: []job.TextBlock{{Text: "ROOM 101"}}},
			}, nil
		},
	)); err != nil {
		t.Fatalf("register runner: %v", err)
	}

	executor, s := setupExecutor(t, runners)
	claimed := claimTestJob(t, s, job.ModelTextExtraction, 3)

	if err := executor.Execute(context.Background(), claimed); err != nil {
		t.Fatalf("execute error: %v", err)
	}

	got, err := s.GetJob(context.Background(), claimed.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}

	var sawStage bool
	for _, e := range got.ProcessingLog {
		if e.Stage == "ocr" {
			sawStage = true
		}
	}
	if !sawStage {
		t.Error("expected a processing log entry for the ocr stage")
	}
}

func TestExecutor_NoRunnerPreservesRetryBudget(t *testing.T) {
	executor, s := setupExecutor(t, runner.NewRegistry())
	claimed := claimTestJob(t, s, job.ModelObjectDetection, 1)

	// A missing runner is a deployment gap, not a processing failure:
	// the attempt must not be failed away.
	if err := executor.Execute(context.Background(), claimed); !errors.Is(err, recq.ErrNoRunner) {
		t.Fatalf("err = %v, want ErrNoRunner", err)
	}

	got, err := s.GetJob(context.Background(), claimed.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.Status != job.StatusProcessing {
		t.Errorf("status = %q, want processing (left to the watchdog)", got.Status)
	}
	if len(got.ErrorHistory) != 0 {
		t.Errorf("error history = %d entries, want none", len(got.ErrorHistory))
	}
}

func TestExecutor_RetrySchedulesBackoff(t *testing.T) {
	runners := runner.NewRegistry()
	wantErr := errors.New("inference backend unavailable")
	if err := runners.Register(job.ModelObjectDetection, runner.RunnerFunc(
		func(_ context.Context, _ *job.Record, _ runner.ProgressFunc) (*job.Results, error) {
			return nil, wantErr
		},
	)); err != nil {
		t.Fatalf("register runner: %v", err)
	}

	executor, s := setupExecutor(t, runners)
	claimed := claimTestJob(t, s, job.ModelObjectDetection, 3)

	if err := executor.Execute(context.Background(), claimed); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}

	got, err := s.GetJob(context.Background(), claimed.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.Status != job.StatusPending {
		t.Errorf("status = %q, want pending (retry scheduled)", got.Status)
	}
	if got.NextRetryAt == nil {
		t.Error("expected NextRetryAt to be set")
	}
	if got.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", got.AttemptCount)
	}
}

func TestExecutor_RevokedClaimDiscardsResult(t *testing.T) {
	runners := runner.NewRegistry()
	executor, s := setupExecutor(t, runners)
	claimed := claimTestJob(t, s, job.ModelObjectDetection, 3)

	// Cancellation arrives while the runner is working.
	if err := runners.Register(job.ModelObjectDetection, runner.RunnerFunc(
		func(ctx context.Context, rec *job.Record, _ runner.ProgressFunc) (*job.Results, error) {
			_, cancelErr := job.Apply(ctx, s, rec.ID, func(cur *job.Record) (*job.Record, error) {
				return job.Cancel(cur, "user aborted the session", time.Now().UTC())
			})
			if cancelErr != nil {
				t.Errorf("cancel error: %v", cancelErr)
			}
			return &job.Results{
				Kind:      job.ModelObjectDetection,
				Detection: &job.DetectionResults{},
			}, nil
		},
	)); err != nil {
		t.Fatalf("register runner: %v", err)
	}

	// A stale success must not overwrite the cancellation.
	if err := executor.Execute(context.Background(), claimed); err != nil {
		t.Fatalf("execute error: %v", err)
	}

	got, err := s.GetJob(context.Background(), claimed.ID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
	if got.Results != nil {
		t.Error("expected results to be discarded for the cancelled job")
	}
}
