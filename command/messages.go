package command

import (
	"strings"

	"github.com/goliatone/go-billing-webhooks/events"
)

const (
	TypeQueueEvent   = "billing.command.event.queue"
	TypeProcessEvent = "billing.command.event.process"
	TypeReleaseClaim = "billing.command.claim.release"
)

// QueueEventMessage hands an already claimed event to the worker loop.
type QueueEventMessage struct {
	Event events.Event
}

func (QueueEventMessage) Type() string { return TypeQueueEvent }

func (m QueueEventMessage) Validate() error {
	return validateEvent(m.Event)
}

// ProcessEventMessage runs the event through the retry state machine inline.
type ProcessEventMessage struct {
	Event events.Event
}

func (ProcessEventMessage) Type() string { return TypeProcessEvent }

func (m ProcessEventMessage) Validate() error {
	return validateEvent(m.Event)
}

type ReleaseClaimMessage struct {
	EventID string
	Reason  string
}

func (ReleaseClaimMessage) Type() string { return TypeReleaseClaim }

func (m ReleaseClaimMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("event_id", "event id is required")
	}
	return nil
}

func validateEvent(event events.Event) error {
	if strings.TrimSpace(event.ID) == "" {
		return commandValidationError("event.id", "event id is required")
	}
	if strings.TrimSpace(event.Type) == "" {
		return commandValidationError("event.type", "event type is required")
	}
	return nil
}
