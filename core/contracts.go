package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ClaimOutcome is the result of an idempotency claim attempt.
type ClaimOutcome string

const (
	ClaimOutcomeClaimed        ClaimOutcome = "claimed"
	ClaimOutcomeAlreadyClaimed ClaimOutcome = "already_claimed"
)

func (o ClaimOutcome) Claimed() bool {
	return o == ClaimOutcomeClaimed
}

// RecordStatus is the lifecycle state of an idempotency record.
//
// unseen -> claimed -> completed|failed. Terminal records stay until evicted.
type RecordStatus string

const (
	RecordStatusUnseen    RecordStatus = "unseen"
	RecordStatusClaimed   RecordStatus = "claimed"
	RecordStatusCompleted RecordStatus = "completed"
	RecordStatusFailed    RecordStatus = "failed"
)

func (s RecordStatus) Terminal() bool {
	return s == RecordStatusCompleted || s == RecordStatusFailed
}

type IdempotencyRecord struct {
	EventID   string
	Status    RecordStatus
	Reason    string
	ClaimedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// IdempotencyStore deduplicates event deliveries by event id.
//
// CheckAndRecord must be atomic: under concurrent calls for the same id
// exactly one caller observes ClaimOutcomeClaimed. Implementations must not
// evict claimed records.
type IdempotencyStore interface {
	CheckAndRecord(ctx context.Context, eventID string) (ClaimOutcome, error)
	MarkCompleted(ctx context.Context, eventID string) error
	MarkFailed(ctx context.Context, eventID string, reason string) error
	Release(ctx context.Context, eventID string) error
	Get(ctx context.Context, eventID string) (IdempotencyRecord, bool, error)
}

// InboundRequest is what the transport hands to the boundary: the raw body,
// untouched, and the signature header value.
type InboundRequest struct {
	Body      []byte
	Signature string
	Headers   map[string]string
	Metadata  map[string]any
}

type InboundResult struct {
	Accepted   bool
	StatusCode int
	Body       []byte
	Metadata   map[string]any
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
