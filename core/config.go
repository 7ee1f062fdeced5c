package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	RetryStrategyExponential = "exponential"
	RetryStrategyFixed       = "fixed"

	IdempotencyBackendMemory   = "memory"
	IdempotencyBackendRedis    = "redis"
	IdempotencyBackendSQLite   = "sqlite"
	IdempotencyBackendPostgres = "postgres"
)

type RetryConfig struct {
	InitialDelay time.Duration `koanf:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay     time.Duration `koanf:"max_delay" mapstructure:"max_delay"`
	Strategy     string        `koanf:"strategy" mapstructure:"strategy"`
}

type QueueConfig struct {
	Capacity       int           `koanf:"capacity" mapstructure:"capacity"`
	EnqueueTimeout time.Duration `koanf:"enqueue_timeout" mapstructure:"enqueue_timeout"`
}

type IdempotencyConfig struct {
	TTL         time.Duration `koanf:"ttl" mapstructure:"ttl"`
	MaxEntries  int           `koanf:"max_entries" mapstructure:"max_entries"`
	Backend     string        `koanf:"backend" mapstructure:"backend"`
	RedisAddr   string        `koanf:"redis_addr" mapstructure:"redis_addr"`
	RedisPrefix string        `koanf:"redis_prefix" mapstructure:"redis_prefix"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn"`
}

type Config struct {
	ServiceName        string            `koanf:"service_name" mapstructure:"service_name"`
	SigningSecret      string            `koanf:"signing_secret" mapstructure:"signing_secret"`
	SignatureTolerance time.Duration     `koanf:"signature_tolerance" mapstructure:"signature_tolerance"`
	MaxRetries         int               `koanf:"max_retries" mapstructure:"max_retries"`
	ProcessingTimeout  time.Duration     `koanf:"processing_timeout" mapstructure:"processing_timeout"`
	Retry              RetryConfig       `koanf:"retry" mapstructure:"retry"`
	Queue              QueueConfig       `koanf:"queue" mapstructure:"queue"`
	Idempotency        IdempotencyConfig `koanf:"idempotency" mapstructure:"idempotency"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:        "billing-webhooks",
		SignatureTolerance: 5 * time.Minute,
		MaxRetries:         3,
		ProcessingTimeout:  30 * time.Second,
		Retry: RetryConfig{
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Strategy:     RetryStrategyExponential,
		},
		Queue: QueueConfig{
			Capacity:       1000,
			EnqueueTimeout: 250 * time.Millisecond,
		},
		Idempotency: IdempotencyConfig{
			TTL:         24 * time.Hour,
			MaxEntries:  100000,
			Backend:     IdempotencyBackendMemory,
			RedisPrefix: "billing:idempotency:",
		},
	}
}

// WorstCaseProcessingWindow is the longest a single event can spend between
// claim and its terminal mark when every attempt times out.
func (c Config) WorstCaseProcessingWindow() time.Duration {
	attempts := c.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	window := time.Duration(attempts) * c.ProcessingTimeout
	delay := c.Retry.InitialDelay
	for i := 1; i < attempts; i++ {
		step := delay
		if c.Retry.MaxDelay > 0 && step > c.Retry.MaxDelay {
			step = c.Retry.MaxDelay
		}
		window += step
		if !strings.EqualFold(c.Retry.Strategy, RetryStrategyFixed) {
			delay *= 2
		}
	}
	return window
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("core: signing_secret is required")
	}
	if c.SignatureTolerance < 0 {
		return fmt.Errorf("core: signature_tolerance must not be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("core: max_retries must not be negative")
	}
	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("core: processing_timeout must be positive")
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("core: retry delays must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.Retry.Strategy)) {
	case "", RetryStrategyExponential, RetryStrategyFixed:
	default:
		return fmt.Errorf("core: unsupported retry strategy %q", c.Retry.Strategy)
	}
	if c.Queue.Capacity < 1 {
		return fmt.Errorf("core: queue capacity must be at least 1")
	}
	if c.Queue.EnqueueTimeout < 0 {
		return fmt.Errorf("core: queue enqueue_timeout must not be negative")
	}
	if c.Idempotency.MaxEntries < 0 {
		return fmt.Errorf("core: idempotency max_entries must not be negative")
	}
	if c.Idempotency.TTL <= 0 {
		return fmt.Errorf("core: idempotency ttl must be positive")
	}
	if window := c.WorstCaseProcessingWindow(); c.Idempotency.TTL < window {
		return fmt.Errorf(
			"core: idempotency ttl %s is shorter than the worst-case processing window %s",
			c.Idempotency.TTL,
			window,
		)
	}
	switch strings.ToLower(strings.TrimSpace(c.Idempotency.Backend)) {
	case "", IdempotencyBackendMemory:
	case IdempotencyBackendRedis:
		if strings.TrimSpace(c.Idempotency.RedisAddr) == "" {
			return fmt.Errorf("core: idempotency redis_addr is required for the redis backend")
		}
	case IdempotencyBackendSQLite, IdempotencyBackendPostgres:
		if strings.TrimSpace(c.Idempotency.DSN) == "" {
			return fmt.Errorf("core: idempotency dsn is required for the %s backend", c.Idempotency.Backend)
		}
	default:
		return fmt.Errorf("core: unsupported idempotency backend %q", c.Idempotency.Backend)
	}
	return nil
}
