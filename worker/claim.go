package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/id"
	"github.com/ricmsdev/eventcad-sub001/job"
	"github.com/ricmsdev/eventcad-sub001/throttle"
)

// Coordinator turns store candidates into won claims. Candidates are
// advisory, so the coordinator races other workers for each one and
// moves down the list until a claim sticks or the list runs out.
type Coordinator struct {
	store    job.Store
	throttle *throttle.Manager
	batch    int
	accept   func(*job.Record) bool
	logger   *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCandidateFilter restricts which candidates the coordinator will
// claim. Candidates rejected by the filter are passed over without
// being claimed, so another worker that can run them picks them up.
func WithCandidateFilter(accept func(*job.Record) bool) CoordinatorOption {
	return func(c *Coordinator) { c.accept = accept }
}

// NewCoordinator creates a Coordinator. The throttle manager may be nil
// to disable model and tenant limits. batch is how many candidates are
// fetched per attempt.
func NewCoordinator(store job.Store, tm *throttle.Manager, batch int, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if batch < 1 {
		batch = 1
	}
	c := &Coordinator{
		store:    store,
		throttle: tm,
		batch:    batch,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClaimNext claims the best eligible job for the worker. It returns the
// claimed record and a release function that must be called once the
// attempt finishes. Returns recq.ErrNoneAvailable when no candidate
// could be claimed.
func (c *Coordinator) ClaimNext(ctx context.Context, workerID id.WorkerID) (*job.Record, func(), error) {
	now := time.Now().UTC()

	candidates, err := c.store.NextCandidates(ctx, now, c.batch)
	if err != nil {
		return nil, nil, err
	}

	for _, cand := range candidates {
		if c.accept != nil && !c.accept(cand) {
			continue
		}
		if c.throttle != nil && !c.throttle.Acquire(cand.ModelType, cand.TenantID) {
			continue
		}

		claimed, claimErr := c.store.ClaimJob(ctx, cand.ID, workerID, id.NewSessionID(), time.Now().UTC())
		if claimErr != nil {
			if c.throttle != nil {
				c.throttle.Release(cand.ModelType, cand.TenantID)
			}
			if errors.Is(claimErr, recq.ErrAlreadyClaimed) || errors.Is(claimErr, recq.ErrJobNotFound) {
				// Lost the race; try the next candidate.
				continue
			}
			return nil, nil, claimErr
		}

		release := func() {}
		if c.throttle != nil {
			model, tenant := claimed.ModelType, claimed.TenantID
			release = func() { c.throttle.Release(model, tenant) }
		}
		return claimed, release, nil
	}

	return nil, nil, recq.ErrNoneAvailable
}
