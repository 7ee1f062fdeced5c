package query

import (
	"context"

	"github.com/goliatone/go-billing-webhooks/core"
)

type RecordReader interface {
	Get(ctx context.Context, eventID string) (core.IdempotencyRecord, bool, error)
}

type RecordLister interface {
	List(ctx context.Context, status core.RecordStatus, limit int) ([]core.IdempotencyRecord, error)
}

type GetRecordQuery struct {
	reader RecordReader
}

func NewGetRecordQuery(reader RecordReader) *GetRecordQuery {
	return &GetRecordQuery{reader: reader}
}

// Query reports an unseen or expired event id as RecordNotFound.
func (q *GetRecordQuery) Query(ctx context.Context, msg GetRecordMessage) (core.IdempotencyRecord, error) {
	if q == nil || q.reader == nil {
		return core.IdempotencyRecord{}, queryDependencyError("query: record reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.IdempotencyRecord{}, err
	}
	record, found, err := q.reader.Get(ctx, msg.EventID)
	if err != nil {
		return core.IdempotencyRecord{}, err
	}
	if !found {
		return core.IdempotencyRecord{}, core.RecordNotFound("query: idempotency record not found", map[string]any{
			"event_id": msg.EventID,
		})
	}
	return record, nil
}

type ListRecordsQuery struct {
	lister RecordLister
}

func NewListRecordsQuery(lister RecordLister) *ListRecordsQuery {
	return &ListRecordsQuery{lister: lister}
}

func (q *ListRecordsQuery) Query(ctx context.Context, msg ListRecordsMessage) ([]core.IdempotencyRecord, error) {
	if q == nil || q.lister == nil {
		return nil, queryDependencyError("query: record lister is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.lister.List(ctx, msg.Status, msg.Limit)
}
