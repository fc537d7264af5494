package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ricmsdev/eventcad-sub001/id"
	"github.com/ricmsdev/eventcad-sub001/job"
	"github.com/ricmsdev/eventcad-sub001/middleware"
	"github.com/ricmsdev/eventcad-sub001/scope"
)

func newTestRecord() *job.Record {
	return &job.Record{
		ID:           id.NewJobID(),
		TenantID:     "tenant-a",
		InitiatedBy:  "user-1",
		ModelType:    job.ModelObjectDetection,
		Priority:     job.PriorityNormal,
		Status:       job.StatusProcessing,
		AttemptCount: 1,
		MaxAttempts:  3,
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *job.Record, next middleware.Handler) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *job.Record, next middleware.Handler) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := middleware.Chain(mw1, mw2)
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	err := chain(context.Background(), newTestRecord(), handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := middleware.Chain()
	called := false
	handler := func(_ context.Context) error {
		called = true
		return nil
	}

	err := chain(context.Background(), newTestRecord(), handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *job.Record, next middleware.Handler) error {
		return next(ctx)
	}
	chain := middleware.Chain(mw)
	want := errors.New("handler error")

	err := chain(context.Background(), newTestRecord(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)
	rec := newTestRecord()

	err := mw(context.Background(), rec, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if !strings.Contains(err.Error(), "test panic") {
		t.Errorf("unexpected error message: %q", err)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Recover(logger)

	called := false
	err := mw(context.Background(), newTestRecord(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Success(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)

	called := false
	err := mw(context.Background(), newTestRecord(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_Error(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Logging(logger)
	want := errors.New("fail")

	err := mw(context.Background(), newTestRecord(), func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_JobBudget(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger, time.Hour)
	rec := newTestRecord()
	rec.TimeoutBudget = 10 * time.Millisecond

	err := mw(context.Background(), rec, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_DefaultBudget(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger, 10*time.Millisecond)
	rec := newTestRecord() // zero TimeoutBudget, default applies

	err := mw(context.Background(), rec, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_WithinBudget(t *testing.T) {
	logger := slog.Default()
	mw := middleware.Timeout(logger, time.Hour)

	err := mw(context.Background(), newTestRecord(), func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScope_RestoresFromRecord(t *testing.T) {
	mw := middleware.Scope()
	rec := newTestRecord()

	err := mw(context.Background(), rec, func(ctx context.Context) error {
		tenant, user := scope.Capture(ctx)
		if tenant != "tenant-a" {
			t.Errorf("tenant = %q, want %q", tenant, "tenant-a")
		}
		if user != "user-1" {
			t.Errorf("user = %q, want %q", user, "user-1")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScope_NoOpWhenEmpty(t *testing.T) {
	mw := middleware.Scope()
	rec := newTestRecord()
	rec.TenantID = ""
	rec.InitiatedBy = ""

	err := mw(context.Background(), rec, func(ctx context.Context) error {
		tenant, user := scope.Capture(ctx)
		if tenant != "" || user != "" {
			t.Errorf("expected empty scope, got tenant=%q user=%q", tenant, user)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
