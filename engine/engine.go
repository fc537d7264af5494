package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	recq "github.com/ricmsdev/eventcad-sub001"
	"github.com/ricmsdev/eventcad-sub001/backoff"
	"github.com/ricmsdev/eventcad-sub001/ext"
	"github.com/ricmsdev/eventcad-sub001/id"
	"github.com/ricmsdev/eventcad-sub001/job"
	mw "github.com/ricmsdev/eventcad-sub001/middleware"
	"github.com/ricmsdev/eventcad-sub001/observability"
	"github.com/ricmsdev/eventcad-sub001/runner"
	"github.com/ricmsdev/eventcad-sub001/scope"
	"github.com/ricmsdev/eventcad-sub001/throttle"
	"github.com/ricmsdev/eventcad-sub001/watchdog"
	"github.com/ricmsdev/eventcad-sub001/worker"
)

// Engine is the application-level entry point for the recognition
// queue.
type Engine struct {
	cfg         recq.Config
	store       job.Store
	runners     *runner.Registry
	extensions  *ext.Registry
	bo          backoff.Strategy
	throttle    *throttle.Manager
	coordinator *worker.Coordinator
	pool        *worker.Pool
	watchdog    *watchdog.Watchdog
	mws         []mw.Middleware
	logger      *slog.Logger

	throttleConfigs []throttle.Config
	tenantConfigs   []throttle.TenantConfig

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// releases holds throttle release functions for claims handed to
	// external callers through ClaimNext.
	releaseMu sync.Mutex
	releases  map[string]func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds middleware to the engine's chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry backoff strategy for the engine.
// If not set, backoff.DefaultStrategy() is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithThrottle registers per-model rate limiting and concurrency
// configurations. Model types not listed have no limits.
func WithThrottle(configs ...throttle.Config) Option {
	return func(eng *Engine) {
		eng.throttleConfigs = append(eng.throttleConfigs, configs...)
	}
}

// WithTenantThrottle registers per-tenant rate limiting and concurrency
// configurations.
func WithTenantThrottle(configs ...throttle.TenantConfig) Option {
	return func(eng *Engine) {
		eng.tenantConfigs = append(eng.tenantConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine over the given store.
func New(store job.Store, cfg recq.Config, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, recq.ErrNoStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := &Engine{
		cfg:        cfg,
		store:      store,
		runners:    runner.NewRegistry(),
		extensions: ext.NewRegistry(slog.Default()),
		logger:     slog.Default(),
		releases:   make(map[string]func()),
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// Tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/ricmsdev/eventcad-sub001")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/ricmsdev/eventcad-sub001")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Observability counters for lifecycle events.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/ricmsdev/eventcad-sub001/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Terminal transitions that bypass the worker's own report — an
	// operator cancel or a watchdog timeout — must still return the
	// throttle slot held for an external claim.
	eng.extensions.Register(claimJanitor{eng})

	// Default middleware stack: recover → tracing → metrics → logging →
	// scope → timeout, then caller-provided middleware.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Scope(),
		mw.Timeout(eng.logger, cfg.DefaultTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	if len(eng.throttleConfigs) > 0 || len(eng.tenantConfigs) > 0 {
		eng.throttle = throttle.NewManager(eng.throttleConfigs...)
		for _, tc := range eng.tenantConfigs {
			eng.throttle.SetTenantConfig(tc)
		}
	}

	executor := worker.NewExecutor(
		eng.runners, eng.extensions, eng.store, eng.bo,
		cfg.CancelPollInterval, eng.logger, allMws...,
	)
	eng.coordinator = worker.NewCoordinator(eng.store, eng.throttle, cfg.ClaimBatch, eng.logger)

	// The embedded pool only claims jobs it can actually run; external
	// workers claiming through Engine.ClaimNext carry their own runners,
	// so their coordinator stays unfiltered.
	poolCoordinator := worker.NewCoordinator(eng.store, eng.throttle, cfg.ClaimBatch, eng.logger,
		worker.WithCandidateFilter(func(rec *job.Record) bool {
			return eng.runners.Has(rec.ModelType)
		}),
	)

	eng.pool = worker.NewPool(poolCoordinator, executor, eng.extensions, eng.logger,
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPollInterval(cfg.PollInterval),
	)
	eng.watchdog = watchdog.New(eng.store, eng.extensions, cfg.WatchdogInterval, cfg.DefaultTimeout, eng.logger)

	return eng, nil
}

// Submission describes a new recognition job.
type Submission struct {
	// TenantID owns the job. When empty, the tenant captured in the
	// context (scope.WithTenant) is used.
	TenantID string

	// InitiatedBy identifies the submitting user. When empty, the user
	// captured in the context is used.
	InitiatedBy string

	// TargetResourceID names the resource to run inference over.
	TargetResourceID string

	// ModelType selects the inference kind.
	ModelType job.ModelType

	// Priority orders dispatch; zero means PriorityNormal.
	Priority job.Priority

	// MaxAttempts is the retry budget; zero means 3.
	MaxAttempts int

	// ScheduledFor defers the first attempt. Nil means immediately.
	ScheduledFor *time.Time

	// TimeoutBudget bounds a single attempt. Zero means the engine
	// default applies.
	TimeoutBudget time.Duration
}

// Submit validates the submission, persists the job in pending state,
// and emits JobSubmitted.
func (eng *Engine) Submit(ctx context.Context, sub Submission) (*job.Record, error) {
	ctxTenant, ctxUser := scope.Capture(ctx)
	if sub.TenantID == "" {
		sub.TenantID = ctxTenant
	}
	if sub.InitiatedBy == "" {
		sub.InitiatedBy = ctxUser
	}

	if sub.TenantID == "" {
		return nil, recq.ErrMissingTenant
	}
	if !sub.ModelType.Valid() {
		return nil, recq.ErrInvalidModelType
	}
	if sub.Priority == 0 {
		sub.Priority = job.PriorityNormal
	}
	if !sub.Priority.Valid() {
		return nil, recq.ErrInvalidPriority
	}
	if sub.MaxAttempts == 0 {
		sub.MaxAttempts = 3
	}
	if sub.MaxAttempts < 1 || sub.MaxAttempts > job.MaxAttemptsLimit {
		return nil, recq.ErrInvalidMaxAttempts
	}

	now := time.Now().UTC()
	rec := &job.Record{
		ID:               id.NewJobID(),
		TenantID:         sub.TenantID,
		InitiatedBy:      sub.InitiatedBy,
		TargetResourceID: sub.TargetResourceID,
		ModelType:        sub.ModelType,
		Priority:         sub.Priority,
		Status:           job.StatusPending,
		ScheduledFor:     sub.ScheduledFor,
		MaxAttempts:      sub.MaxAttempts,
		TimeoutBudget:    sub.TimeoutBudget,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := eng.store.CreateJob(ctx, rec); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobSubmitted(ctx, rec)

	eng.logger.Info("job submitted",
		slog.String("job_id", rec.ID.String()),
		slog.String("tenant_id", rec.TenantID),
		slog.String("model_type", string(rec.ModelType)),
		slog.Int("priority", int(rec.Priority)),
	)
	return rec, nil
}

// Get retrieves a job by ID.
func (eng *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	return eng.store.GetJob(ctx, jobID)
}

// List returns one page of jobs matching the filter, with the total
// match count for pagination.
func (eng *Engine) List(ctx context.Context, f job.Filter, opts job.ListOpts) (*job.Page, error) {
	jobs, err := eng.store.ListJobs(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	total, err := eng.store.CountJobs(ctx, f)
	if err != nil {
		return nil, err
	}
	return &job.Page{Jobs: jobs, Total: total}, nil
}

// Cancel cancels a job. Cancelling an already-cancelled job is a no-op;
// cancelling another terminal state returns recq.ErrTerminalState.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID, reason string) (*job.Record, error) {
	cancelled, err := job.Apply(ctx, eng.store, jobID, func(cur *job.Record) (*job.Record, error) {
		return job.Cancel(cur, reason, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	eng.extensions.EmitJobCancelled(ctx, cancelled, reason)
	return cancelled, nil
}

// ClaimNext claims the best eligible job for an external worker. The
// claim is released back to the throttle when the caller reports the
// outcome through ReportSuccess or ReportFailure, or when the job is
// cancelled or timed out while the claim is outstanding.
func (eng *Engine) ClaimNext(ctx context.Context, workerID id.WorkerID) (*job.Record, error) {
	rec, release, err := eng.coordinator.ClaimNext(ctx, workerID)
	if err != nil {
		return nil, err
	}

	eng.releaseMu.Lock()
	eng.releases[rec.ID.String()] = release
	eng.releaseMu.Unlock()

	eng.extensions.EmitJobStarted(ctx, rec)
	return rec, nil
}

// ReportProgress records a progress update for a processing job.
func (eng *Engine) ReportProgress(ctx context.Context, jobID id.JobID, progress int, stage, detail string) (*job.Record, error) {
	updated, err := job.Apply(ctx, eng.store, jobID, func(cur *job.Record) (*job.Record, error) {
		return job.UpdateProgress(cur, progress, stage, detail, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	eng.extensions.EmitJobProgress(ctx, updated, updated.Progress, stage)
	return updated, nil
}

// ReportSuccess completes a processing job with its results.
func (eng *Engine) ReportSuccess(ctx context.Context, jobID id.JobID, results *job.Results) (*job.Record, error) {
	defer eng.releaseClaim(jobID)

	completed, err := job.Apply(ctx, eng.store, jobID, func(cur *job.Record) (*job.Record, error) {
		return job.Complete(cur, results, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	eng.extensions.EmitJobCompleted(ctx, completed, eng.attemptElapsed(completed))
	return completed, nil
}

// ReportFailure records a failed attempt. The job is rescheduled with
// backoff while attempts remain, and fails terminally once exhausted.
// The failure lands on the record's error history either way.
func (eng *Engine) ReportFailure(ctx context.Context, jobID id.JobID, message string, errCtx map[string]any) (*job.Record, error) {
	defer eng.releaseClaim(jobID)

	failed, err := job.Apply(ctx, eng.store, jobID, func(cur *job.Record) (*job.Record, error) {
		return job.Fail(cur, message, errCtx, eng.bo, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	if failed.Status == job.StatusPending && failed.NextRetryAt != nil {
		eng.extensions.EmitJobRetrying(ctx, failed, failed.AttemptCount, *failed.NextRetryAt)
	} else {
		eng.extensions.EmitJobFailed(ctx, failed, errors.New(message))
	}
	return failed, nil
}

// Runners returns the runner registry.
func (eng *Engine) Runners() *runner.Registry { return eng.runners }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Throttle returns the throttle manager, or nil when no limits were
// configured.
func (eng *Engine) Throttle() *throttle.Manager { return eng.throttle }

// WorkerID returns the embedded pool's worker identifier.
func (eng *Engine) WorkerID() id.WorkerID { return eng.pool.WorkerID() }

// Start launches the worker pool and the watchdog.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.watchdog.Start(ctx); err != nil {
		return err
	}
	return eng.pool.Start(ctx)
}

// Stop gracefully shuts the engine down: workers first so no new
// claims are taken, then the watchdog, then extension shutdown hooks.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.pool.Stop(ctx); err != nil {
		return err
	}
	if err := eng.watchdog.Stop(ctx); err != nil {
		return err
	}
	eng.extensions.EmitShutdown(ctx)
	return nil
}

// attemptElapsed derives the attempt duration for externally-reported
// completions.
func (eng *Engine) attemptElapsed(rec *job.Record) time.Duration {
	if rec.StartedAt == nil || rec.CompletedAt == nil {
		return 0
	}
	return rec.CompletedAt.Sub(*rec.StartedAt)
}

var (
	_ ext.Extension    = claimJanitor{}
	_ ext.JobCancelled = claimJanitor{}
	_ ext.JobTimedOut  = claimJanitor{}
)

// claimJanitor releases the throttle slot of an externally claimed job
// when it reaches a terminal state through cancellation or the watchdog
// instead of a worker report. Jobs without a stored release are
// untouched.
type claimJanitor struct {
	eng *Engine
}

func (j claimJanitor) Name() string { return "claim-janitor" }

func (j claimJanitor) OnJobCancelled(_ context.Context, rec *job.Record, _ string) error {
	j.eng.releaseClaim(rec.ID)
	return nil
}

func (j claimJanitor) OnJobTimedOut(_ context.Context, rec *job.Record) error {
	j.eng.releaseClaim(rec.ID)
	return nil
}

func (eng *Engine) releaseClaim(jobID id.JobID) {
	eng.releaseMu.Lock()
	release, ok := eng.releases[jobID.String()]
	if ok {
		delete(eng.releases, jobID.String())
	}
	eng.releaseMu.Unlock()

	if ok {
		release()
	}
}
