// Package observability provides an OpenTelemetry-based metrics
// extension for the recognition engine. The MetricsExtension implements
// lifecycle hooks to record system-wide counters for job submission,
// completion, failure, retry, cancellation, and watchdog timeout events.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
