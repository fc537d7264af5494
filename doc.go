// Package recq provides the asynchronous job engine that drives
// long-running AI-recognition work. It owns the job state machine,
// priority scheduling, exponential-backoff retries, progress reporting,
// and worker/session exclusivity.
//
// recq is designed as a library, not a service. Import it, configure a
// store, register a runner per model type, and start the engine.
//
// # Quick Start
//
//	eng, err := engine.New(memStore,
//	    engine.WithConcurrency(8),
//	    engine.WithRunner(job.ModelObjectDetection, detector),
//	)
//	rec, err := eng.Submit(ctx, engine.SubmitRequest{
//	    TenantID:    "tenant-a",
//	    InitiatedBy: "user-1",
//	    ModelType:   job.ModelObjectDetection,
//	    Priority:    job.PriorityHigh,
//	})
//
// # Architecture
//
// The job record is the only shared mutable resource. Every mutating
// operation is a single atomic read-modify-write against the store:
// optimistic versioning in the memory backend, conditional UPDATE with
// SKIP LOCKED in postgres, Lua compare-and-swap in redis. Workers race
// on scheduler candidates through the claim coordinator; exactly one
// wins, losers move on to the next candidate.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package recq
