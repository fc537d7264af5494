// Package job defines the job record, its state machine, typed results,
// and the store contract.
//
// # Job Record
//
// A [Record] represents one unit of AI-recognition work. It progresses
// through a state machine:
//
//	pending → processing → completed
//	pending → processing → pending (retry with backoff) → ...
//	pending → processing → failed (attempts exhausted)
//	pending → processing → timeout
//	any non-terminal → cancelled
//
// Fields of note:
//   - Priority: 1 (critical) to 4 (low); lower numbers dispatch first
//   - ScheduledFor: earliest instant the job may be claimed
//   - AttemptCount / MaxAttempts: controls the retry budget
//   - NextRetryAt: backoff gate, present only while pending after a failure
//   - ProcessingLog: bounded to the 100 most recent entries
//   - ErrorHistory: unbounded, kept for audit
//   - WorkerID / SessionID: the current claimant, nil unless processing
//
// # State Machine
//
// Transitions are pure functions over a record snapshot — [Start],
// [UpdateProgress], [Complete], [Fail], [Cancel], [Timeout] — each
// returning a new record. They never touch shared state, which makes
// them unit-testable without a store. [Apply] composes a transition
// with the store's optimistic-concurrency loop so that every mutation
// is a single atomic read-modify-write.
//
// Derived predicates ([Record.CanExecute], [Record.CanRetry],
// [Record.IsTerminal]) are recomputed from the snapshot on every call
// and never cached.
package job
