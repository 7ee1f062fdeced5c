package processor

import (
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

const (
	DefaultQueueCapacity     = 1000
	DefaultMaxRetries        = 3
	DefaultProcessingTimeout = 30 * time.Second
	DefaultEnqueueTimeout    = 250 * time.Millisecond
)

type Option func(*Processor)

// WithMaxRetries sets how many attempts follow the first one.
func WithMaxRetries(retries int) Option {
	return func(p *Processor) {
		if retries >= 0 {
			p.maxRetries = retries
		}
	}
}

func WithProcessingTimeout(timeout time.Duration) Option {
	return func(p *Processor) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(p *Processor) {
		if policy != nil {
			p.retryPolicy = policy
		}
	}
}

func WithQueueCapacity(capacity int) Option {
	return func(p *Processor) {
		if capacity > 0 {
			p.capacity = capacity
		}
	}
}

// WithEnqueueTimeout bounds how long QueueEvent waits on a full queue. Zero
// fails immediately.
func WithEnqueueTimeout(timeout time.Duration) Option {
	return func(p *Processor) {
		if timeout >= 0 {
			p.enqueueTimeout = timeout
		}
	}
}

func WithHooks(hooks ...Hook) Option {
	return func(p *Processor) {
		for _, hook := range hooks {
			if hook != nil {
				p.hooks = append(p.hooks, hook)
			}
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(p *Processor) {
		p.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(p *Processor) {
		p.metrics = recorder
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// FromConfig maps the processing section of cfg to options.
func FromConfig(cfg core.Config) []Option {
	return []Option{
		WithMaxRetries(cfg.MaxRetries),
		WithProcessingTimeout(cfg.ProcessingTimeout),
		WithRetryPolicy(RetryPolicyFromConfig(cfg)),
		WithQueueCapacity(cfg.Queue.Capacity),
		WithEnqueueTimeout(cfg.Queue.EnqueueTimeout),
	}
}
