// Package middleware provides composable middleware for attempt execution.
//
// A [Middleware] is a function that wraps a runner invocation. Middleware
// are composed into a chain using [Chain] and applied before each attempt
// executes. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs job ID, model type, duration, and outcome per attempt
//   - [Recover] — catches runner panics and converts them to errors
//   - [Timeout] — cancels the attempt context after the job's time budget
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-attempt duration and outcome counters
//   - [Scope] — restores tenant/user identity from the record into context
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, rec *job.Record, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting (e.g., circuit breaker, rate limiting).
package middleware
