package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfig returns a loader that always yields a copy of values.
func StaticConfig(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

// Load builds a Config from the raw loader on top of defaults. Validation is
// deferred to the resolver so runtime overrides can still supply the secret.
func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw, cfgx.WithDefaults(defaults))
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

// Resolve merges defaults < config < runtime and validates the result.
func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// LoadConfig runs the full provider + resolver pipeline.
func LoadConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setNumber := func(target map[string]any, key string, value int64, raw any) {
		if includeZero || value != 0 {
			target[key] = raw
		}
	}

	setString(layer, "service_name", cfg.ServiceName)
	setString(layer, "signing_secret", cfg.SigningSecret)
	setNumber(layer, "signature_tolerance", int64(cfg.SignatureTolerance), cfg.SignatureTolerance)
	setNumber(layer, "max_retries", int64(cfg.MaxRetries), cfg.MaxRetries)
	setNumber(layer, "processing_timeout", int64(cfg.ProcessingTimeout), cfg.ProcessingTimeout)

	retry := map[string]any{}
	setNumber(retry, "initial_delay", int64(cfg.Retry.InitialDelay), cfg.Retry.InitialDelay)
	setNumber(retry, "max_delay", int64(cfg.Retry.MaxDelay), cfg.Retry.MaxDelay)
	setString(retry, "strategy", cfg.Retry.Strategy)
	if len(retry) > 0 {
		layer["retry"] = retry
	}

	queue := map[string]any{}
	setNumber(queue, "capacity", int64(cfg.Queue.Capacity), cfg.Queue.Capacity)
	setNumber(queue, "enqueue_timeout", int64(cfg.Queue.EnqueueTimeout), cfg.Queue.EnqueueTimeout)
	if len(queue) > 0 {
		layer["queue"] = queue
	}

	idempotency := map[string]any{}
	setNumber(idempotency, "ttl", int64(cfg.Idempotency.TTL), cfg.Idempotency.TTL)
	setNumber(idempotency, "max_entries", int64(cfg.Idempotency.MaxEntries), cfg.Idempotency.MaxEntries)
	setString(idempotency, "backend", cfg.Idempotency.Backend)
	setString(idempotency, "redis_addr", cfg.Idempotency.RedisAddr)
	setString(idempotency, "redis_prefix", cfg.Idempotency.RedisPrefix)
	setString(idempotency, "dsn", cfg.Idempotency.DSN)
	if len(idempotency) > 0 {
		layer["idempotency"] = idempotency
	}
	return layer
}
