package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/backoff"
	"github.com/ricmsdev/eventcad-sub001/engine"
	"github.com/ricmsdev/eventcad-sub001/id"
	"github.com/ricmsdev/eventcad-sub001/job"
	"github.com/ricmsdev/eventcad-sub001/runner"
	"github.com/ricmsdev/eventcad-sub001/scope"
	"github.com/ricmsdev/eventcad-sub001/store/memory"
	"github.com/ricmsdev/eventcad-sub001/throttle"
)

func testConfig() recq.Config {
	cfg := recq.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.CancelPollInterval = 10 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	eng, err := engine.New(s, testConfig(), opts...)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	return eng, s
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := engine.New(nil, testConfig())
	if !errors.Is(err, recq.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestSubmit_Defaults(t *testing.T) {
	eng, _ := newTestEngine(t)

	rec, err := eng.Submit(context.Background(), engine.Submission{
		TenantID:    "tenant-a",
		InitiatedBy: "user-1",
		ModelType:   job.ModelObjectDetection,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if rec.Status != job.StatusPending {
		t.Errorf("status = %q, want pending", rec.Status)
	}
	if rec.Priority != job.PriorityNormal {
		t.Errorf("priority = %d, want normal", rec.Priority)
	}
	if rec.MaxAttempts != 3 {
		t.Errorf("maxAttempts = %d, want 3", rec.MaxAttempts)
	}
	if rec.ID.IsNil() {
		t.Error("expected a job ID to be assigned")
	}
}

func TestSubmit_Validation(t *testing.T) {
	eng, _ := newTestEngine(t)

	tests := []struct {
		name    string
		sub     engine.Submission
		wantErr error
	}{
		{
			name:    "missing tenant",
			sub:     engine.Submission{ModelType: job.ModelObjectDetection},
			wantErr: recq.ErrMissingTenant,
		},
		{
			name:    "unknown model type",
			sub:     engine.Submission{TenantID: "tenant-a", ModelType: "face_recognition"},
			wantErr: recq.ErrInvalidModelType,
		},
		{
			name: "priority out of range",
			sub: engine.Submission{
				TenantID: "tenant-a", ModelType: job.ModelObjectDetection, Priority: 5,
			},
			wantErr: recq.ErrInvalidPriority,
		},
		{
			name: "max attempts over limit",
			sub: engine.Submission{
				TenantID: "tenant-a", ModelType: job.ModelObjectDetection, MaxAttempts: 11,
			},
			wantErr: recq.ErrInvalidMaxAttempts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Submit(context.Background(), tt.sub)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubmit_CapturesScope(t *testing.T) {
	eng, _ := newTestEngine(t)

	ctx := scope.WithUser(scope.WithTenant(context.Background(), "tenant-ctx"), "user-ctx")
	rec, err := eng.Submit(ctx, engine.Submission{ModelType: job.ModelClassification})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if rec.TenantID != "tenant-ctx" {
		t.Errorf("tenantID = %q, want tenant-ctx", rec.TenantID)
	}
	if rec.InitiatedBy != "user-ctx" {
		t.Errorf("initiatedBy = %q, want user-ctx", rec.InitiatedBy)
	}
}

func TestGetAndList(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var first *job.Record
	for i := 0; i < 3; i++ {
		rec, err := eng.Submit(ctx, engine.Submission{
			TenantID:  "tenant-a",
			ModelType: job.ModelObjectDetection,
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if i == 0 {
			first = rec
		}
	}
	if _, err := eng.Submit(ctx, engine.Submission{
		TenantID:  "tenant-b",
		ModelType: job.ModelTextExtraction,
	}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	got, err := eng.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID.String() != first.ID.String() {
		t.Errorf("Get returned %s, want %s", got.ID, first.ID)
	}

	page, err := eng.List(ctx, job.Filter{TenantID: "tenant-a"}, job.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Jobs) != 2 {
		t.Errorf("page size = %d, want 2", len(page.Jobs))
	}
	if page.Total != 3 {
		t.Errorf("total = %d, want 3", page.Total)
	}
}

func TestCancel(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	rec, err := eng.Submit(ctx, engine.Submission{
		TenantID:  "tenant-a",
		ModelType: job.ModelObjectDetection,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	cancelled, err := eng.Cancel(ctx, rec.ID, "no longer needed")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != job.StatusCancelled {
		t.Errorf("status = %q, want cancelled", cancelled.Status)
	}

	// Cancelling again is a no-op.
	if _, err := eng.Cancel(ctx, rec.ID, "again"); err != nil {
		t.Fatalf("second Cancel failed: %v", err)
	}
}

func TestCancel_CompletedJobRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	rec, err := eng.Submit(ctx, engine.Submission{
		TenantID:  "tenant-a",
		ModelType: job.ModelObjectDetection,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := eng.ClaimNext(ctx, id.NewWorkerID()); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if _, err := eng.ReportSuccess(ctx, rec.ID, &job.Results{
		Kind:      job.ModelObjectDetection,
		Detection: &job.DetectionResults{},
	}); err != nil {
		t.Fatalf("ReportSuccess failed: %v", err)
	}

	if _, err := eng.Cancel(ctx, rec.ID, "too late"); !errors.Is(err, recq.ErrTerminalState) {
		t.Fatalf("err = %v, want ErrTerminalState", err)
	}
}

func TestClaimAndReportLifecycle(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	rec, err := eng.Submit(ctx, engine.Submission{
		TenantID:  "tenant-a",
		ModelType: job.ModelTextExtraction,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	claimed, err := eng.ClaimNext(ctx, id.NewWorkerID())
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed.ID.String() != rec.ID.String() {
		t.Fatalf("claimed %s, want %s", claimed.ID, rec.ID)
	}
	if claimed.Status != job.StatusProcessing {
		t.Fatalf("status = %q, want processing", claimed.Status)
	}

	progressed, err := eng.ReportProgress(ctx, rec.ID, 60, "ocr", "page 3 of 5")
	if err != nil {
		t.Fatalf("ReportProgress failed: %v", err)
	}
	if progressed.Progress != 60 {
		t.Errorf("progress = %d, want 60", progressed.Progress)
	}

	completed, err := eng.ReportSuccess(ctx, rec.ID, &job.Results{
		Kind:       job.ModelTextExtraction,
		Extraction: &job.ExtractionResults{Blocks: []job.TextBlock{{Text: "A-101"}}},
	})
	if err != nil {
		t.Fatalf("ReportSuccess failed: %v", err)
	}
	if completed.Status != job.StatusCompleted {
		t.Errorf("status = %q, want completed", completed.Status)
	}
	if completed.Progress != 100 {
		t.Errorf("progress = %d, want 100", completed.Progress)
	}
}

func TestReportFailure_RetryThenExhaust(t *testing.T) {
	// Zero backoff so retries become eligible immediately.
	eng, _ := newTestEngine(t, engine.WithBackoff(backoff.NewConstant(0)))
	ctx := context.Background()

	rec, err := eng.Submit(ctx, engine.Submission{
		TenantID:    "tenant-a",
		ModelType:   job.ModelObjectDetection,
		MaxAttempts: 2,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := eng.ClaimNext(ctx, id.NewWorkerID()); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	failed, err := eng.ReportFailure(ctx, rec.ID, "gpu out of memory", map[string]any{"device": "cuda:0"})
	if err != nil {
		t.Fatalf("ReportFailure failed: %v", err)
	}
	if failed.Status != job.StatusPending {
		t.Fatalf("status = %q, want pending for retry", failed.Status)
	}

	if _, err := eng.ClaimNext(ctx, id.NewWorkerID()); err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	exhausted, err := eng.ReportFailure(ctx, rec.ID, "gpu out of memory", nil)
	if err != nil {
		t.Fatalf("ReportFailure failed: %v", err)
	}
	if exhausted.Status != job.StatusFailed {
		t.Errorf("status = %q, want failed", exhausted.Status)
	}
	if len(exhausted.ErrorHistory) != 2 {
		t.Errorf("error history = %d entries, want 2", len(exhausted.ErrorHistory))
	}
	if exhausted.ErrorHistory[0].Context["device"] != "cuda:0" {
		t.Error("expected error context to be preserved")
	}
}

func TestClaimNext_ThrottleReleasedOnCancel(t *testing.T) {
	eng, _ := newTestEngine(t, engine.WithThrottle(throttle.Config{
		Model:          job.ModelObjectDetection,
		MaxConcurrency: 1,
	}))
	ctx := context.Background()

	var first *job.Record
	for i := 0; i < 2; i++ {
		rec, err := eng.Submit(ctx, engine.Submission{
			TenantID:  "tenant-a",
			ModelType: job.ModelObjectDetection,
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if i == 0 {
			first = rec
		}
	}

	claimed, err := eng.ClaimNext(ctx, id.NewWorkerID())
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if claimed.ID.String() != first.ID.String() {
		t.Fatalf("claimed %s, want %s", claimed.ID, first.ID)
	}

	// The single model slot is held by the first claim.
	if _, err := eng.ClaimNext(ctx, id.NewWorkerID()); !errors.Is(err, recq.ErrNoneAvailable) {
		t.Fatalf("err = %v, want ErrNoneAvailable while the slot is held", err)
	}

	// Cancelling the claimed job must return its slot even though the
	// worker never reports back.
	if _, err := eng.Cancel(ctx, claimed.ID, "worker went away"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if got := eng.Throttle().ActiveCount(job.ModelObjectDetection); got != 0 {
		t.Fatalf("active count after cancel = %d, want 0", got)
	}

	if _, err := eng.ClaimNext(ctx, id.NewWorkerID()); err != nil {
		t.Fatalf("claim after cancel failed: %v", err)
	}
}

func TestClaimNext_ThrottleReleasedOnTimeout(t *testing.T) {
	eng, s := newTestEngine(t, engine.WithThrottle(throttle.Config{
		Model:          job.ModelTextExtraction,
		MaxConcurrency: 1,
	}))
	ctx := context.Background()

	rec, err := eng.Submit(ctx, engine.Submission{
		TenantID:      "tenant-a",
		ModelType:     job.ModelTextExtraction,
		TimeoutBudget: time.Hour,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if _, err := eng.ClaimNext(ctx, id.NewWorkerID()); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	// Expire the attempt the way the watchdog would after the worker
	// stops reporting.
	if _, err := job.Apply(ctx, s, rec.ID, func(cur *job.Record) (*job.Record, error) {
		return job.Timeout(cur, time.Now().UTC())
	}); err != nil {
		t.Fatalf("timeout transition failed: %v", err)
	}
	timedOut, err := eng.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	eng.Extensions().EmitJobTimedOut(ctx, timedOut)

	if got := eng.Throttle().ActiveCount(job.ModelTextExtraction); got != 0 {
		t.Fatalf("active count after timeout = %d, want 0", got)
	}
}

func TestEngine_NoRunnerLeavesJobClaimable(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	rec, err := eng.Submit(ctx, engine.Submission{
		TenantID:  "tenant-a",
		ModelType: job.ModelObjectDetection,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// No runner is registered: the pool must leave the job alone
	// rather than burn its attempts on a deployment gap.
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	got, err := eng.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != job.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.AttemptCount != 0 {
		t.Errorf("attempt count = %d, want 0", got.AttemptCount)
	}
	if len(got.ErrorHistory) != 0 {
		t.Errorf("error history = %d entries, want none", len(got.ErrorHistory))
	}
}

func TestEngine_ProcessesSubmittedJob(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	var processed atomic.Bool
	err := eng.Runners().Register(job.ModelClassification, runner.RunnerFunc(
		func(_ context.Context, _ *job.Record, _ runner.ProgressFunc) (*job.Results, error) {
			processed.Store(true)
			return &job.Results{
				Kind: job.ModelClassification,
				Classification: &job.ClassificationResults{
					Labels: []job.ClassLabel{{Name: "floor_plan", Confidence: 0.98}},
				},
			}, nil
		},
	))
	if err != nil {
		t.Fatalf("register runner: %v", err)
	}

	rec, err := eng.Submit(ctx, engine.Submission{
		TenantID:  "tenant-a",
		ModelType: job.ModelClassification,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		got, getErr := eng.Get(ctx, rec.ID)
		if getErr == nil && got.Status == job.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the job to complete")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if !processed.Load() {
		t.Error("expected the runner to be invoked")
	}

	got, err := eng.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Results == nil || got.Results.Classification == nil {
		t.Fatal("expected classification results to be persisted")
	}
	if got.Results.Classification.Labels[0].Name != "floor_plan" {
		t.Errorf("label = %q, want floor_plan", got.Results.Classification.Labels[0].Name)
	}
}
