package events

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/goliatone/go-billing-webhooks/core"
)

// Event is the verified webhook envelope. data.object is kept raw and only
// decoded by the typed projections.
type Event struct {
	ID              string        `json:"id"`
	Type            string        `json:"type"`
	Created         int64         `json:"created"`
	APIVersion      string        `json:"api_version,omitempty"`
	Livemode        bool          `json:"livemode"`
	PendingWebhooks int           `json:"pending_webhooks,omitempty"`
	Data            EventData     `json:"data"`
	Request         *EventRequest `json:"request,omitempty"`
}

type EventData struct {
	Object             json.RawMessage `json:"object"`
	PreviousAttributes json.RawMessage `json:"previous_attributes,omitempty"`
}

type EventRequest struct {
	ID             string `json:"id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Parse decodes a raw body into an Event. It does not look at signatures.
func Parse(body []byte) (Event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Event{}, core.InvalidPayload("events: empty payload", nil)
	}
	var event Event
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return Event{}, core.WrapInvalidPayload(err, "events: malformed event envelope", nil)
	}
	if strings.TrimSpace(event.ID) == "" {
		return Event{}, core.InvalidPayload("events: event id is required", nil)
	}
	if strings.TrimSpace(event.Type) == "" {
		return Event{}, core.InvalidPayload("events: event type is required", map[string]any{
			"event_id": event.ID,
		})
	}
	if isAbsent(event.Data.Object) {
		return Event{}, core.InvalidPayload("events: data.object is required", map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
		})
	}
	return event, nil
}

// TypedEventType maps the raw type string to the closed EventType set.
func (e Event) TypedEventType() EventType {
	return ParseEventType(e.Type)
}

func (e Event) HasPreviousAttributes() bool {
	return !isAbsent(e.Data.PreviousAttributes)
}

// PreviousAttributes decodes data.previous_attributes, present on update events.
func (e Event) PreviousAttributes() (map[string]any, error) {
	if !e.HasPreviousAttributes() {
		return nil, nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(e.Data.PreviousAttributes, &out); err != nil {
		return nil, core.WrapInvalidPayload(err, "events: malformed previous_attributes", e.fields())
	}
	return out, nil
}

func (e Event) fields() map[string]any {
	return map[string]any{
		"event_id":   e.ID,
		"event_type": e.Type,
	}
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
