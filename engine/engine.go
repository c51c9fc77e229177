package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/herald"
	"github.com/xraph/herald/dlq"
	"github.com/xraph/herald/ext"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	mw "github.com/xraph/herald/middleware"
	"github.com/xraph/herald/observability"
	"github.com/xraph/herald/queue"
	"github.com/xraph/herald/worker"
)

// Store is the part of the persistence layer the engine drives. Every
// herald backend satisfies it.
type Store interface {
	job.Store
	dlq.Store
}

// Engine owns the job registry, extension registry, middleware chain and
// worker pool, and provides Register/Enqueue operations.
type Engine struct {
	config     herald.Config
	logger     *slog.Logger
	extensions *ext.Registry
	registry   *job.Registry
	jobStore   job.Store
	dlqStore   dlq.Store
	dlqService *dlq.Service
	executor   *worker.Executor
	mws        []mw.Middleware

	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu   sync.Mutex
	pool *worker.Pool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets one backend for both jobs and the dead letter queue.
func WithStore(s Store) Option {
	return func(eng *Engine) {
		eng.jobStore = s
		eng.dlqStore = s
	}
}

// WithJobStore sets the job store.
func WithJobStore(s job.Store) Option {
	return func(eng *Engine) { eng.jobStore = s }
}

// WithDLQStore sets the dead letter store.
func WithDLQStore(s dlq.Store) Option {
	return func(eng *Engine) { eng.dlqStore = s }
}

// WithConfig sets process-wide engine settings.
func WithConfig(cfg herald.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. It runs inside
// the default stack, closest to the handler.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithQueueConfig sets per-type concurrency, rate limits and default
// retry policy. Types not listed get the defaults declared by their
// handler package, or a single lane.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// Both the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// New creates an Engine. A job store and a DLQ store are required.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		config:     herald.DefaultConfig(),
		logger:     slog.Default(),
		extensions: ext.NewRegistry(slog.Default()),
		registry:   job.NewRegistry(),
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.jobStore == nil || eng.dlqStore == nil {
		return nil, herald.ErrNoStore
	}
	eng.extensions.SetLogger(eng.logger)

	eng.queueManager = queue.NewManager(eng.queueConfigs...)
	eng.dlqService = dlq.NewService(eng.dlqStore, eng.jobStore)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/herald")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/herald")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/herald/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.executor = worker.NewExecutor(eng.registry, eng.extensions, eng.jobStore, eng.dlqService, eng.logger, allMws...)

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T, R any](eng *Engine, def *job.Definition[T, R]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue marshals payload and enqueues a job of the given type. Retry
// and timeout defaults come from the type's queue.Config; opts override
// them.
func Enqueue[T any](ctx context.Context, eng *Engine, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal payload for job %q: %v", herald.ErrValidation, jobType, err)
	}

	return eng.EnqueueRaw(ctx, jobType, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	if _, ok := eng.registry.Get(jobType); !ok {
		return nil, fmt.Errorf("%w: %q", herald.ErrNoHandler, jobType)
	}

	jobOpts := eng.queueManager.Config(jobType).JobOptions().Apply(opts...)
	j := job.New(jobType, jobOpts)
	j.Payload = payload

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		if errors.Is(err, herald.ErrJobAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", herald.ErrQueueBackend, err)
	}

	eng.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("user_id", j.UserID),
	)
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// GetJob returns the current snapshot of a job.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.jobStore.GetJob(ctx, jobID)
}

// Replay re-enqueues a dead letter entry as a fresh job.
func (eng *Engine) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	j, err := eng.dlqService.Replay(ctx, entryID)
	if err != nil {
		return nil, err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Start launches one lane per registered job type. Register handlers
// before calling Start.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	if eng.pool != nil {
		return nil
	}

	eng.pool = worker.NewPool(
		eng.jobStore,
		eng.executor,
		eng.extensions,
		eng.logger,
		worker.WithPoolTypes(eng.registry.Types()),
		worker.WithLaneManager(eng.queueManager),
		worker.WithPollInterval(eng.config.PollInterval),
		worker.WithHeartbeatInterval(eng.config.HeartbeatInterval),
		worker.WithStaleJobThreshold(eng.config.StaleJobThreshold),
	)
	return eng.pool.Start(ctx)
}

// Stop stops the worker pool, waiting for running jobs, and notifies
// extensions.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	pool := eng.pool
	eng.pool = nil
	eng.mu.Unlock()

	eng.extensions.EmitShutdown(ctx)
	if pool == nil {
		return nil
	}
	return pool.Stop(ctx)
}

// Config returns the engine settings.
func (eng *Engine) Config() herald.Config { return eng.config }

// Logger returns the engine logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// JobStore returns the job store.
func (eng *Engine) JobStore() job.Store { return eng.jobStore }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// QueueManager returns the per-type lane configuration.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
