package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ricmsdev/eventcad-sub001/ext"
	"github.com/ricmsdev/eventcad-sub001/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/ricmsdev/eventcad-sub001/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobSubmitted = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
	_ ext.JobTimedOut  = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via OpenTelemetry.
// Register it as an engine extension to automatically track submission
// rates, completion counts, failure rates, retries, cancellations, and
// watchdog timeouts. Counters carry model_type and tenant_id attributes.
type MetricsExtension struct {
	JobSubmitted metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobCancelled metric.Int64Counter
	JobTimedOut  metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the counters are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use an sdkmetric ManualReader provider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The OTel API guarantees a noop instrument on error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	return &MetricsExtension{
		JobSubmitted: counter("recq.job.submitted", "Jobs accepted and persisted"),
		JobCompleted: counter("recq.job.completed", "Jobs finished successfully"),
		JobFailed:    counter("recq.job.failed", "Jobs failed with no retries remaining"),
		JobRetried:   counter("recq.job.retried", "Attempts failed with a retry scheduled"),
		JobCancelled: counter("recq.job.cancelled", "Jobs cancelled"),
		JobTimedOut:  counter("recq.job.timed_out", "Jobs expired by the watchdog"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func recordAttrs(rec *job.Record) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("model_type", string(rec.ModelType)),
		attribute.String("tenant_id", rec.TenantID),
	)
}

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, rec *job.Record) error {
	m.JobSubmitted.Add(ctx, 1, recordAttrs(rec))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, rec *job.Record, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, recordAttrs(rec))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, rec *job.Record, _ error) error {
	m.JobFailed.Add(ctx, 1, recordAttrs(rec))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, rec *job.Record, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, recordAttrs(rec))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, rec *job.Record, _ string) error {
	m.JobCancelled.Add(ctx, 1, recordAttrs(rec))
	return nil
}

// OnJobTimedOut implements ext.JobTimedOut.
func (m *MetricsExtension) OnJobTimedOut(ctx context.Context, rec *job.Record) error {
	m.JobTimedOut.Add(ctx, 1, recordAttrs(rec))
	return nil
}
