// Package watchdog expires processing jobs that have outlived their
// time budget. Workers report completions and failures themselves; the
// watchdog exists for claims that will never report back — crashed
// workers, wedged runners, lost machines.
package watchdog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/ext"
	"github.com/ricmsdev/eventcad-sub001/job"
)

// Watchdog periodically sweeps the store for overdue processing jobs
// and forces them through the timeout transition.
type Watchdog struct {
	store         job.Store
	extensions    *ext.Registry
	interval      time.Duration
	defaultBudget time.Duration
	logger        *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a Watchdog sweeping every interval. Jobs without their
// own timeout budget are measured against defaultBudget.
func New(store job.Store, extensions *ext.Registry, interval, defaultBudget time.Duration, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		store:         store,
		extensions:    extensions,
		interval:      interval,
		defaultBudget: defaultBudget,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately.
func (w *Watchdog) Start(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}
	w.running = true

	w.logger.Info("watchdog starting",
		slog.Duration("interval", w.interval),
		slog.Duration("default_budget", w.defaultBudget),
	)

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (w *Watchdog) Stop(_ context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("watchdog stopped")
	return nil
}

func (w *Watchdog) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Sweep(context.Background())
		}
	}
}

// Sweep expires every overdue job once. Exposed so operators and tests
// can force a sweep outside the timer.
func (w *Watchdog) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	overdue, err := w.store.OverdueJobs(ctx, now, w.defaultBudget)
	if err != nil {
		w.logger.Error("overdue sweep failed", slog.String("error", err.Error()))
		return
	}

	for _, rec := range overdue {
		timedOut, applyErr := job.Apply(ctx, w.store, rec.ID, func(cur *job.Record) (*job.Record, error) {
			return job.Timeout(cur, time.Now().UTC())
		})
		if applyErr != nil {
			// The worker finished or a cancel landed between the query
			// and the transition; nothing left to expire.
			if errors.Is(applyErr, recq.ErrNotProcessing) || errors.Is(applyErr, recq.ErrJobNotFound) {
				continue
			}
			w.logger.Error("failed to time out job",
				slog.String("job_id", rec.ID.String()),
				slog.String("error", applyErr.Error()),
			)
			continue
		}

		w.extensions.EmitJobTimedOut(ctx, timedOut)

		w.logger.Warn("job timed out",
			slog.String("job_id", timedOut.ID.String()),
			slog.String("model_type", string(timedOut.ModelType)),
			slog.Int("attempt", timedOut.AttemptCount),
			slog.Duration("budget", w.budgetFor(rec)),
		)
	}
}

func (w *Watchdog) budgetFor(rec *job.Record) time.Duration {
	if rec.TimeoutBudget > 0 {
		return rec.TimeoutBudget
	}
	return w.defaultBudget
}
