// Package notify delivers job terminal-state notifications to external
// systems. A Sink is a delivery transport (webhook, AMQP); the Notifier
// is an engine extension that fans terminal lifecycle events out to its
// sinks asynchronously so delivery latency never blocks job processing.
package notify

import (
	"context"
	"time"

	"github.com/ricmsdev/eventcad-sub001/id"
	"github.com/ricmsdev/eventcad-sub001/job"
)

// Event is the notification payload sent when a job reaches a terminal
// state.
type Event struct {
	// ID uniquely identifies this notification so receivers can dedupe
	// redelivered events.
	ID          id.NoticeID `json:"id"`
	JobID       string      `json:"job_id"`
	TenantID    string      `json:"tenant_id"`
	InitiatedBy string      `json:"initiated_by"`
	ModelType   string      `json:"model_type"`
	Status      job.Status  `json:"status"`
	// Error carries the last failure message for failed and timed-out
	// jobs; empty otherwise.
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventFromRecord builds a notification event from a terminal record.
func EventFromRecord(rec *job.Record, now time.Time) Event {
	ev := Event{
		ID:          id.NewNoticeID(),
		JobID:       rec.ID.String(),
		TenantID:    rec.TenantID,
		InitiatedBy: rec.InitiatedBy,
		ModelType:   string(rec.ModelType),
		Status:      rec.Status,
		OccurredAt:  now,
	}
	if len(rec.ErrorHistory) > 0 {
		ev.Error = rec.ErrorHistory[len(rec.ErrorHistory)-1].Message
	}
	return ev
}

// Sink delivers one notification event. Implementations must be safe
// for concurrent use.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Deliver(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
