package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ricmsdev/eventcad-sub001/ext"
	"github.com/ricmsdev/eventcad-sub001/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Notifier)(nil)
	_ ext.JobCompleted = (*Notifier)(nil)
	_ ext.JobFailed    = (*Notifier)(nil)
	_ ext.JobCancelled = (*Notifier)(nil)
	_ ext.JobTimedOut  = (*Notifier)(nil)
	_ ext.Shutdown     = (*Notifier)(nil)
)

// queueCapacity bounds the async delivery queue. When the queue is full
// new events are dropped with a warning rather than blocking job
// processing.
const queueCapacity = 256

// deliverTimeout bounds one fan-out across all sinks.
const deliverTimeout = 30 * time.Second

// Notifier is an engine extension that forwards terminal-state events
// to its sinks from a background goroutine. Delivery errors are logged
// per sink and never affect the job lifecycle.
type Notifier struct {
	sinks  []Sink
	logger *slog.Logger

	events chan Event
	done   chan struct{}
	once   sync.Once
}

// NewNotifier creates a notifier delivering to the given sinks and
// starts its delivery goroutine.
func NewNotifier(logger *slog.Logger, sinks ...Sink) *Notifier {
	n := &Notifier{
		sinks:  sinks,
		logger: logger,
		events: make(chan Event, queueCapacity),
		done:   make(chan struct{}),
	}
	go n.run()
	return n
}

// Name implements ext.Extension.
func (n *Notifier) Name() string { return "notify" }

func (n *Notifier) run() {
	defer close(n.done)
	for ev := range n.events {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		for _, s := range n.sinks {
			if err := s.Deliver(ctx, ev); err != nil {
				n.logger.Warn("notification delivery failed",
					slog.String("job_id", ev.JobID),
					slog.String("status", string(ev.Status)),
					slog.String("error", err.Error()),
				)
			}
		}
		cancel()
	}
}

// enqueue hands an event to the delivery goroutine without blocking.
func (n *Notifier) enqueue(ev Event) {
	select {
	case n.events <- ev:
	default:
		n.logger.Warn("notification queue full, dropping event",
			slog.String("job_id", ev.JobID),
			slog.String("status", string(ev.Status)),
		)
	}
}

// OnJobCompleted implements ext.JobCompleted.
func (n *Notifier) OnJobCompleted(_ context.Context, rec *job.Record, _ time.Duration) error {
	n.enqueue(EventFromRecord(rec, time.Now().UTC()))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (n *Notifier) OnJobFailed(_ context.Context, rec *job.Record, _ error) error {
	n.enqueue(EventFromRecord(rec, time.Now().UTC()))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (n *Notifier) OnJobCancelled(_ context.Context, rec *job.Record, _ string) error {
	n.enqueue(EventFromRecord(rec, time.Now().UTC()))
	return nil
}

// OnJobTimedOut implements ext.JobTimedOut.
func (n *Notifier) OnJobTimedOut(_ context.Context, rec *job.Record) error {
	n.enqueue(EventFromRecord(rec, time.Now().UTC()))
	return nil
}

// OnShutdown implements ext.Shutdown: it stops accepting events and
// waits for queued deliveries to drain or the context to expire.
func (n *Notifier) OnShutdown(ctx context.Context) error {
	n.once.Do(func() { close(n.events) })
	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
