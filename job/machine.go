package job

import (
	"fmt"
	"time"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/backoff"
	"github.com/ricmsdev/eventcad-sub001/id"
)

// The state machine is a set of pure functions: each takes a record
// snapshot, returns a new record, and never mutates the input. Stores
// apply the returned record under their atomicity guarantee (version
// CAS, row lock, or Lua script), so concurrent transitions on the same
// job cannot both win.

// Start transitions an executable job to processing under the given
// worker and session. It increments the attempt counter, resets
// progress, and stamps the start of the attempt.
func Start(r *Record, workerID id.WorkerID, sessionID id.SessionID, now time.Time) (*Record, error) {
	if !r.CanExecute(now) {
		if r.IsTerminal(now) {
			return nil, recq.ErrTerminalState
		}
		return nil, recq.ErrNotClaimable
	}

	cp := r.Clone()
	cp.Status = StatusProcessing
	started := now
	cp.StartedAt = &started
	cp.AttemptCount++
	cp.Progress = 0
	cp.CurrentStage = ""
	cp.NextRetryAt = nil
	cp.WorkerID = workerID
	cp.SessionID = sessionID
	cp.ProcessingLog = cp.ProcessingLog.Append(LogEntry{
		Timestamp: now,
		Stage:     "start",
		Message:   fmt.Sprintf("attempt %d/%d started", cp.AttemptCount, cp.MaxAttempts),
		Level:     LevelInfo,
		Data: map[string]any{
			"worker_id":  workerID.String(),
			"session_id": sessionID.String(),
		},
	})
	return cp, nil
}

// UpdateProgress records inference progress. Progress is clamped to
// [0,100] whatever the runner reports; the stage label is advisory and
// simply overwritten. Returns ErrNotProcessing when the job is not
// currently processing (e.g. it was cancelled under the worker).
func UpdateProgress(r *Record, progress int, stage, detail string, now time.Time) (*Record, error) {
	if r.Status != StatusProcessing {
		return nil, recq.ErrNotProcessing
	}

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	cp := r.Clone()
	cp.Progress = progress
	cp.CurrentStage = stage
	msg := detail
	if msg == "" {
		msg = fmt.Sprintf("progress %d%%", progress)
	}
	cp.ProcessingLog = cp.ProcessingLog.Append(LogEntry{
		Timestamp: now,
		Stage:     stage,
		Message:   msg,
		Level:     LevelInfo,
		Data:      map[string]any{"progress": progress},
	})
	return cp, nil
}

// Complete transitions a processing job to completed, storing the
// write-once results and releasing the claim.
func Complete(r *Record, results *Results, now time.Time) (*Record, error) {
	if r.Status != StatusProcessing {
		return nil, recq.ErrNotProcessing
	}
	if r.Results != nil {
		return nil, recq.ErrResultsSet
	}
	if results != nil {
		if err := results.Validate(); err != nil {
			return nil, err
		}
	}

	cp := r.Clone()
	cp.Status = StatusCompleted
	done := now
	cp.CompletedAt = &done
	cp.Progress = 100
	cp.Results = results
	cp.WorkerID = id.Nil
	cp.SessionID = id.Nil
	cp.NextRetryAt = nil

	count := 0
	if results != nil {
		count = results.Count()
	}
	cp.ProcessingLog = cp.ProcessingLog.Append(LogEntry{
		Timestamp: now,
		Stage:     "complete",
		Message:   fmt.Sprintf("completed with %d recognized items", count),
		Level:     LevelInfo,
		Data:      map[string]any{"item_count": count},
	})
	return cp, nil
}

// Fail records a processing failure. With attempts remaining the job
// re-enters pending behind a backoff gate; otherwise it settles in
// failed permanently. The claim is released either way.
func Fail(r *Record, message string, errCtx map[string]any, strategy backoff.Strategy, now time.Time) (*Record, error) {
	if r.Status != StatusProcessing {
		return nil, recq.ErrNotProcessing
	}

	cp := r.Clone()
	cp.ErrorHistory = append(cp.ErrorHistory, ErrorEntry{
		Attempt:   cp.AttemptCount,
		Timestamp: now,
		Message:   message,
		Context:   errCtx,
	})
	cp.WorkerID = id.Nil
	cp.SessionID = id.Nil

	if cp.AttemptCount < cp.MaxAttempts {
		retryAt := now.Add(strategy.Delay(cp.AttemptCount))
		cp.NextRetryAt = &retryAt
		cp.Status = StatusPending
		cp.ProcessingLog = cp.ProcessingLog.Append(LogEntry{
			Timestamp: now,
			Stage:     "fail",
			Message:   fmt.Sprintf("attempt %d/%d failed, retry at %s", cp.AttemptCount, cp.MaxAttempts, retryAt.Format(time.RFC3339)),
			Level:     LevelWarn,
			Data:      map[string]any{"error": message},
		})
		return cp, nil
	}

	cp.Status = StatusFailed
	cp.NextRetryAt = nil
	done := now
	cp.CompletedAt = &done
	cp.ProcessingLog = cp.ProcessingLog.Append(LogEntry{
		Timestamp: now,
		Stage:     "fail",
		Message:   fmt.Sprintf("failed permanently after %d attempts", cp.AttemptCount),
		Level:     LevelError,
		Data:      map[string]any{"error": message},
	})
	return cp, nil
}

// Cancel transitions any non-terminal job to cancelled and releases the
// claim. Cancelling an already-cancelled job is a no-op, not an error;
// the worker holding a claim discovers the cancellation cooperatively.
func Cancel(r *Record, reason string, now time.Time) (*Record, error) {
	if r.Status == StatusCancelled {
		return r.Clone(), nil
	}
	if r.IsTerminal(now) {
		return nil, recq.ErrTerminalState
	}

	cp := r.Clone()
	cp.Status = StatusCancelled
	done := now
	cp.CompletedAt = &done
	cp.WorkerID = id.Nil
	cp.SessionID = id.Nil
	cp.NextRetryAt = nil
	if reason == "" {
		reason = "cancelled"
	}
	cp.ProcessingLog = cp.ProcessingLog.Append(LogEntry{
		Timestamp: now,
		Stage:     "cancel",
		Message:   reason,
		Level:     LevelWarn,
	})
	return cp, nil
}

// timeoutMessage is the fixed error recorded when the watchdog expires
// a processing attempt.
const timeoutMessage = "exceeded time budget"

// Timeout expires a processing job. Unlike Fail it goes straight to the
// terminal timeout status regardless of remaining attempts; a caller
// wanting retry-on-timeout must resubmit explicitly.
func Timeout(r *Record, now time.Time) (*Record, error) {
	if r.Status != StatusProcessing {
		return nil, recq.ErrNotProcessing
	}

	cp := r.Clone()
	cp.Status = StatusTimeout
	done := now
	cp.CompletedAt = &done
	cp.NextRetryAt = nil
	cp.ErrorHistory = append(cp.ErrorHistory, ErrorEntry{
		Attempt:   cp.AttemptCount,
		Timestamp: now,
		Message:   timeoutMessage,
	})
	cp.WorkerID = id.Nil
	cp.SessionID = id.Nil
	cp.ProcessingLog = cp.ProcessingLog.Append(LogEntry{
		Timestamp: now,
		Stage:     "timeout",
		Message:   timeoutMessage,
		Level:     LevelError,
	})
	return cp, nil
}
