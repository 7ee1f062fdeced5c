package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/idempotency"
	sqlstore "github.com/goliatone/go-billing-webhooks/store/sql"
)

var (
	_ gocmd.Querier[GetRecordMessage, core.IdempotencyRecord]     = (*GetRecordQuery)(nil)
	_ gocmd.Querier[ListRecordsMessage, []core.IdempotencyRecord] = (*ListRecordsQuery)(nil)

	_ RecordLister = (*idempotency.MemoryStore)(nil)
	_ RecordLister = (*sqlstore.IdempotencyStore)(nil)
)
