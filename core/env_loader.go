package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const EnvPrefix = "BILLING_WEBHOOKS_"

// FallbackSecretEnv is consulted when the prefixed signing secret is unset.
const FallbackSecretEnv = "STRIPE_WEBHOOK_SECRET"

type envKind int

const (
	envString envKind = iota
	envInt
	envDuration
)

type envBinding struct {
	name string
	path []string
	kind envKind
}

var envBindings = []envBinding{
	{name: "SERVICE_NAME", path: []string{"service_name"}, kind: envString},
	{name: "SIGNING_SECRET", path: []string{"signing_secret"}, kind: envString},
	{name: "SIGNATURE_TOLERANCE", path: []string{"signature_tolerance"}, kind: envDuration},
	{name: "MAX_RETRIES", path: []string{"max_retries"}, kind: envInt},
	{name: "PROCESSING_TIMEOUT", path: []string{"processing_timeout"}, kind: envDuration},
	{name: "RETRY_INITIAL_DELAY", path: []string{"retry", "initial_delay"}, kind: envDuration},
	{name: "RETRY_MAX_DELAY", path: []string{"retry", "max_delay"}, kind: envDuration},
	{name: "RETRY_STRATEGY", path: []string{"retry", "strategy"}, kind: envString},
	{name: "QUEUE_CAPACITY", path: []string{"queue", "capacity"}, kind: envInt},
	{name: "QUEUE_ENQUEUE_TIMEOUT", path: []string{"queue", "enqueue_timeout"}, kind: envDuration},
	{name: "IDEMPOTENCY_TTL", path: []string{"idempotency", "ttl"}, kind: envDuration},
	{name: "IDEMPOTENCY_MAX_ENTRIES", path: []string{"idempotency", "max_entries"}, kind: envInt},
	{name: "IDEMPOTENCY_BACKEND", path: []string{"idempotency", "backend"}, kind: envString},
	{name: "IDEMPOTENCY_REDIS_ADDR", path: []string{"idempotency", "redis_addr"}, kind: envString},
	{name: "IDEMPOTENCY_REDIS_PREFIX", path: []string{"idempotency", "redis_prefix"}, kind: envString},
	{name: "IDEMPOTENCY_DSN", path: []string{"idempotency", "dsn"}, kind: envString},
}

// EnvConfigLoader reads BILLING_WEBHOOKS_* variables into a raw config map.
type EnvConfigLoader struct {
	Prefix string
	Lookup func(key string) (string, bool)
}

func NewEnvConfigLoader() *EnvConfigLoader {
	return &EnvConfigLoader{Prefix: EnvPrefix, Lookup: os.LookupEnv}
}

func (l *EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	out := map[string]any{}
	if l == nil {
		return out, nil
	}
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	prefix := l.Prefix
	if prefix == "" {
		prefix = EnvPrefix
	}

	for _, binding := range envBindings {
		raw, ok := lookup(prefix + binding.name)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		value, err := parseEnvValue(binding.kind, raw)
		if err != nil {
			return nil, fmt.Errorf("core: invalid %s%s: %w", prefix, binding.name, err)
		}
		setPath(out, binding.path, value)
	}

	if _, ok := out["signing_secret"]; !ok {
		if secret, found := lookup(FallbackSecretEnv); found && strings.TrimSpace(secret) != "" {
			out["signing_secret"] = strings.TrimSpace(secret)
		}
	}
	return out, nil
}

func parseEnvValue(kind envKind, raw string) (any, error) {
	switch kind {
	case envInt:
		return strconv.Atoi(raw)
	case envDuration:
		if seconds, err := strconv.Atoi(raw); err == nil {
			return time.Duration(seconds) * time.Second, nil
		}
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func setPath(target map[string]any, path []string, value any) {
	if len(path) == 1 {
		target[path[0]] = value
		return
	}
	child, ok := target[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		target[path[0]] = child
	}
	setPath(child, path[1:], value)
}
