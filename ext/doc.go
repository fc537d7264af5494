// Package ext defines the extension system for the recognition engine.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting notifications, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, rec *job.Record, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", rec.ID, elapsed)
//	    return nil
//	}
//
// # Lifecycle Hooks
//
//   - [JobSubmitted] — job was accepted and persisted
//   - [JobStarted] — worker claimed the job and began an attempt
//   - [JobProgress] — runner reported progress
//   - [JobCompleted] — job finished successfully
//   - [JobFailed] — job failed with no retries remaining
//   - [JobRetrying] — attempt failed but the job will be retried
//   - [JobCancelled] — job was cancelled
//   - [JobTimedOut] — watchdog expired the job's time budget
//   - [Shutdown] — the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
