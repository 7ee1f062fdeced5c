package billingwebhooks

import (
	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/events"
	"github.com/goliatone/go-billing-webhooks/processor"
)

type Config = core.Config

type IdempotencyStore = core.IdempotencyStore
type IdempotencyRecord = core.IdempotencyRecord
type ClaimOutcome = core.ClaimOutcome
type RecordStatus = core.RecordStatus

type InboundRequest = core.InboundRequest
type InboundResult = core.InboundResult

type Event = events.Event
type EventType = events.EventType
type SubscriptionEvent = events.SubscriptionEvent
type InvoiceEvent = events.InvoiceEvent
type CustomerEvent = events.CustomerEvent

type Handler = processor.Handler
type HandlerFuncs = processor.HandlerFuncs
type Hook = processor.Hook
type AttemptEvent = processor.AttemptEvent
type RetryPolicy = processor.RetryPolicy

const (
	RecordStatusUnseen    = core.RecordStatusUnseen
	RecordStatusClaimed   = core.RecordStatusClaimed
	RecordStatusCompleted = core.RecordStatusCompleted
	RecordStatusFailed    = core.RecordStatusFailed
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}
