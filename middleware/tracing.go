package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ricmsdev/eventcad-sub001/job"
)

// tracerName is the instrumentation scope name for recq tracing.
const tracerName = "github.com/ricmsdev/eventcad-sub001"

// Tracing returns middleware that wraps attempt execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: recq.job.id, recq.model_type, recq.tenant_id,
// recq.priority, recq.attempt. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, rec *job.Record, next Handler) error {
		ctx, span := tracer.Start(ctx, "recq.job.execute",
			trace.WithAttributes(
				attribute.String("recq.job.id", rec.ID.String()),
				attribute.String("recq.model_type", string(rec.ModelType)),
				attribute.String("recq.tenant_id", rec.TenantID),
				attribute.Int("recq.priority", int(rec.Priority)),
				attribute.Int("recq.attempt", rec.AttemptCount),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
