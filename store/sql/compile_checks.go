package sqlstore

import "github.com/goliatone/go-billing-webhooks/core"

var _ core.IdempotencyStore = (*IdempotencyStore)(nil)
