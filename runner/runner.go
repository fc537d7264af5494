// Package runner defines the inference runner contract and the registry
// that maps model types to runner implementations.
package runner

import (
	"context"
	"fmt"
	"sync"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/job"
)

// ProgressFunc reports inference progress back to the engine. Progress
// is a percentage; stage and detail are free-form labels surfaced in
// the job's processing log. Implementations must tolerate being called
// after the job has been cancelled underneath the runner.
type ProgressFunc func(ctx context.Context, progress int, stage, detail string) error

// Runner executes one inference attempt for a job. It must honor ctx
// cancellation promptly: the engine cancels the context when the job is
// cancelled or its time budget expires. On success the returned results
// must match the job's model type.
type Runner interface {
	Run(ctx context.Context, rec *job.Record, report ProgressFunc) (*job.Results, error)
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context, rec *job.Record, report ProgressFunc) (*job.Results, error)

func (f RunnerFunc) Run(ctx context.Context, rec *job.Record, report ProgressFunc) (*job.Results, error) {
	return f(ctx, rec, report)
}

// Registry maps model types to runner implementations.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	runners map[job.ModelType]Runner
}

// NewRegistry creates an empty runner registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[job.ModelType]Runner),
	}
}

// Register binds a runner to a model type, replacing any previous
// binding. Unknown model types are rejected.
func (r *Registry) Register(model job.ModelType, run Runner) error {
	if !model.Valid() {
		return fmt.Errorf("%w: %q", recq.ErrInvalidModelType, model)
	}
	if run == nil {
		return fmt.Errorf("runner: nil runner for model %q", model)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[model] = run
	return nil
}

// Get returns the runner for the given model type.
// Returns ErrNoRunner when no runner is registered.
func (r *Registry) Get(model job.ModelType) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runners[model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", recq.ErrNoRunner, model)
	}
	return run, nil
}

// Has reports whether a runner is registered for the given model type.
func (r *Registry) Has(model job.ModelType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.runners[model]
	return ok
}

// Models returns all model types with a registered runner.
func (r *Registry) Models() []job.ModelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]job.ModelType, 0, len(r.runners))
	for m := range r.runners {
		models = append(models, m)
	}
	return models
}
