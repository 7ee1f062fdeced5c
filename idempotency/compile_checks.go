package idempotency

import "github.com/goliatone/go-billing-webhooks/core"

var (
	_ core.IdempotencyStore = (*MemoryStore)(nil)
	_ core.IdempotencyStore = (*RedisStore)(nil)
)
