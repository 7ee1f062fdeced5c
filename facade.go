package billingwebhooks

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/redis/go-redis/v9"

	billingcommand "github.com/goliatone/go-billing-webhooks/command"
	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/idempotency"
	"github.com/goliatone/go-billing-webhooks/inbound"
	"github.com/goliatone/go-billing-webhooks/processor"
	billingquery "github.com/goliatone/go-billing-webhooks/query"
	"github.com/goliatone/go-billing-webhooks/webhooks"
)

type Commands struct {
	QueueEvent   *billingcommand.QueueEventCommand
	ProcessEvent *billingcommand.ProcessEventCommand
	ReleaseClaim *billingcommand.ReleaseClaimCommand
}

type Queries struct {
	GetRecord   *billingquery.GetRecordQuery
	ListRecords *billingquery.ListRecordsQuery
}

// Engine is a wired webhook pipeline: receiver in front, processor behind,
// one idempotency store shared by both.
type Engine struct {
	Config    Config
	Store     core.IdempotencyStore
	Processor *processor.Processor
	Receiver  *inbound.Receiver
	Commands  Commands
	Queries   Queries

	external bool
	logger   core.Logger
}

type SetupOption func(*setupState)

type setupState struct {
	store          core.IdempotencyStore
	handler        processor.Handler
	queue          inbound.Queue
	redisClient    redis.UniversalClient
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	hooks          []processor.Hook
	processorOpts  []processor.Option
}

// WithStore overrides the store selected by idempotency.backend. SQL backends
// need it, since their schema lives outside this package.
func WithStore(store core.IdempotencyStore) SetupOption {
	return func(s *setupState) {
		s.store = store
	}
}

func WithHandler(handler processor.Handler) SetupOption {
	return func(s *setupState) {
		s.handler = handler
	}
}

// WithQueue sends claimed events somewhere other than the in-process worker
// loop, such as a go-job queue.
func WithQueue(queue inbound.Queue) SetupOption {
	return func(s *setupState) {
		s.queue = queue
	}
}

func WithRedisClient(client redis.UniversalClient) SetupOption {
	return func(s *setupState) {
		s.redisClient = client
	}
}

func WithLogger(logger core.Logger) SetupOption {
	return func(s *setupState) {
		s.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) SetupOption {
	return func(s *setupState) {
		s.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) SetupOption {
	return func(s *setupState) {
		s.metrics = recorder
	}
}

func WithHooks(hooks ...processor.Hook) SetupOption {
	return func(s *setupState) {
		s.hooks = append(s.hooks, hooks...)
	}
}

// WithProcessorOptions appends raw processor options after the config derived ones.
func WithProcessorOptions(opts ...processor.Option) SetupOption {
	return func(s *setupState) {
		s.processorOpts = append(s.processorOpts, opts...)
	}
}

// Setup validates cfg and wires the pipeline. Without a handler events are
// logged and completed.
func Setup(cfg Config, opts ...SetupOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	state := &setupState{}
	for _, opt := range opts {
		if opt != nil {
			opt(state)
		}
	}

	provider, logger := glog.Resolve("billing", state.loggerProvider, state.logger)
	logger = glog.Ensure(logger)

	store, err := resolveStore(cfg, state)
	if err != nil {
		return nil, err
	}
	handler := state.handler
	if handler == nil {
		handlerLogger := logger
		if provider != nil {
			handlerLogger = glog.Ensure(provider.GetLogger("billing.handler"))
		}
		handler = processor.NewLoggingHandler(handlerLogger)
	}

	procOpts := append(processor.FromConfig(cfg),
		processor.WithLogger(logger),
		processor.WithLoggerProvider(provider),
		processor.WithMetricsRecorder(state.metrics),
		processor.WithHooks(state.hooks...),
	)
	procOpts = append(procOpts, state.processorOpts...)
	proc, err := processor.New(store, handler, procOpts...)
	if err != nil {
		return nil, err
	}

	queue := state.queue
	if queue == nil {
		queue = proc
	}
	receiver, err := inbound.NewReceiver(
		webhooks.NewSignatureVerifier(cfg.SigningSecret, cfg.SignatureTolerance),
		store,
		queue,
		inbound.WithLogger(logger),
		inbound.WithLoggerProvider(provider),
		inbound.WithMetricsRecorder(state.metrics),
	)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		Config:    cfg,
		Store:     store,
		Processor: proc,
		Receiver:  receiver,
		Commands: Commands{
			QueueEvent:   billingcommand.NewQueueEventCommand(queue),
			ProcessEvent: billingcommand.NewProcessEventCommand(proc),
			ReleaseClaim: billingcommand.NewReleaseClaimCommand(store),
		},
		Queries: Queries{
			GetRecord: billingquery.NewGetRecordQuery(store),
		},
		external: state.queue != nil,
		logger:   logger,
	}
	if lister, ok := store.(billingquery.RecordLister); ok {
		engine.Queries.ListRecords = billingquery.NewListRecordsQuery(lister)
	}
	return engine, nil
}

func resolveStore(cfg Config, state *setupState) (core.IdempotencyStore, error) {
	if state.store != nil {
		return state.store, nil
	}
	switch backend := strings.ToLower(strings.TrimSpace(cfg.Idempotency.Backend)); backend {
	case "", core.IdempotencyBackendMemory:
		return idempotency.NewMemoryStore(cfg.Idempotency.TTL, cfg.Idempotency.MaxEntries), nil
	case core.IdempotencyBackendRedis:
		client := state.redisClient
		if client == nil {
			client = redis.NewClient(&redis.Options{Addr: cfg.Idempotency.RedisAddr})
		}
		return idempotency.NewRedisStore(client, cfg.Idempotency.RedisPrefix, cfg.Idempotency.TTL), nil
	case core.IdempotencyBackendSQLite, core.IdempotencyBackendPostgres:
		return nil, core.Internal(fmt.Sprintf("billing: %s backend requires WithStore", backend), map[string]any{
			"backend": backend,
		})
	default:
		return nil, core.Internal("billing: unknown idempotency backend", map[string]any{
			"backend": backend,
		})
	}
}

// HTTPHandler returns the net/http adapter for the receiver.
func (e *Engine) HTTPHandler(opts ...inbound.HTTPOption) *inbound.HTTPHandler {
	return inbound.NewHTTPHandler(e.Receiver, opts...)
}

// Start launches the worker loop unless claimed events go to an external queue.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil || e.Processor == nil {
		return core.Internal("billing: engine is not configured", nil)
	}
	if e.external {
		return nil
	}
	return e.Processor.Start(ctx)
}

// Shutdown stops accepting work and waits for in-flight events.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e == nil || e.Processor == nil {
		return nil
	}
	if err := e.Processor.Close(); err != nil {
		return err
	}
	if err := e.Processor.Wait(ctx); err != nil {
		e.logger.Warn("billing shutdown deadline reached", "error", err.Error())
		return err
	}
	return nil
}
