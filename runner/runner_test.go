package runner_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/job"
	"github.com/ricmsdev/eventcad-sub001/runner"
)

func noopRunner(results *job.Results, err error) runner.Runner {
	return runner.RunnerFunc(func(_ context.Context, _ *job.Record, _ runner.ProgressFunc) (*job.Results, error) {
		return results, err
	})
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := runner.NewRegistry()

	want := &job.Results{
		Kind:      job.ModelObjectDetection,
		Detection: &job.DetectionResults{Objects: []job.DetectedObject{{Label: "door"}}},
	}
	if err := r.Register(job.ModelObjectDetection, noopRunner(want, nil)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	run, err := r.Get(job.ModelObjectDetection)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	got, err := run.Run(context.Background(), &job.Record{}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got.Count() != 1 {
		t.Errorf("count = %d, want 1", got.Count())
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := runner.NewRegistry()
	if _, err := r.Get(job.ModelTextExtraction); !errors.Is(err, recq.ErrNoRunner) {
		t.Fatalf("err = %v, want ErrNoRunner", err)
	}
}

func TestRegistry_RejectsInvalidModel(t *testing.T) {
	r := runner.NewRegistry()
	err := r.Register("face_recognition", noopRunner(nil, nil))
	if !errors.Is(err, recq.ErrInvalidModelType) {
		t.Fatalf("err = %v, want ErrInvalidModelType", err)
	}
}

func TestRegistry_RejectsNilRunner(t *testing.T) {
	r := runner.NewRegistry()
	if err := r.Register(job.ModelClassification, nil); err == nil {
		t.Fatal("expected error for nil runner")
	}
}

func TestRegistry_Models(t *testing.T) {
	r := runner.NewRegistry()

	for _, m := range []job.ModelType{job.ModelObjectDetection, job.ModelTextExtraction, job.ModelClassification} {
		if err := r.Register(m, noopRunner(nil, nil)); err != nil {
			t.Fatalf("Register(%q) failed: %v", m, err)
		}
	}

	models := r.Models()
	sort.Slice(models, func(i, j int) bool { return models[i] < models[j] })
	want := []job.ModelType{job.ModelClassification, job.ModelObjectDetection, job.ModelTextExtraction}
	if len(models) != len(want) {
		t.Fatalf("expected %d models, got %d", len(want), len(models))
	}
	for i := range want {
		if models[i] != want[i] {
			t.Errorf("models[%d] = %q, want %q", i, models[i], want[i])
		}
	}
}

func TestRegistry_OverwriteRunner(t *testing.T) {
	r := runner.NewRegistry()

	if err := r.Register(job.ModelClassification, noopRunner(nil, errors.New("old"))); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(job.ModelClassification, noopRunner(nil, errors.New("new"))); err != nil {
		t.Fatal(err)
	}

	run, _ := r.Get(job.ModelClassification)
	_, err := run.Run(context.Background(), &job.Record{}, nil)
	if err == nil || err.Error() != "new" {
		t.Fatalf("expected 'new' error, got %v", err)
	}
}
