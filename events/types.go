package events

import (
	"encoding/json"
	"strings"
)

// EventType is the closed set of event categories the processor dispatches.
// Any raw type string outside the set maps to EventTypeUnknown.
type EventType string

const (
	EventTypeCustomerCreated         EventType = "customer.created"
	EventTypeSubscriptionCreated     EventType = "customer.subscription.created"
	EventTypeSubscriptionUpdated     EventType = "customer.subscription.updated"
	EventTypeSubscriptionDeleted     EventType = "customer.subscription.deleted"
	EventTypeInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventTypeInvoicePaymentFailed    EventType = "invoice.payment_failed"
	EventTypeUnknown                 EventType = "unknown"
)

// KnownEventTypes lists every dispatchable type.
var KnownEventTypes = []EventType{
	EventTypeCustomerCreated,
	EventTypeSubscriptionCreated,
	EventTypeSubscriptionUpdated,
	EventTypeSubscriptionDeleted,
	EventTypeInvoicePaymentSucceeded,
	EventTypeInvoicePaymentFailed,
}

// ParseEventType never fails.
func ParseEventType(raw string) EventType {
	switch EventType(strings.TrimSpace(raw)) {
	case EventTypeCustomerCreated:
		return EventTypeCustomerCreated
	case EventTypeSubscriptionCreated:
		return EventTypeSubscriptionCreated
	case EventTypeSubscriptionUpdated:
		return EventTypeSubscriptionUpdated
	case EventTypeSubscriptionDeleted:
		return EventTypeSubscriptionDeleted
	case EventTypeInvoicePaymentSucceeded:
		return EventTypeInvoicePaymentSucceeded
	case EventTypeInvoicePaymentFailed:
		return EventTypeInvoicePaymentFailed
	default:
		return EventTypeUnknown
	}
}

func (t EventType) String() string {
	return string(t)
}

func (t EventType) IsKnown() bool {
	return t != EventTypeUnknown && ParseEventType(string(t)) == t
}

func (t EventType) IsSubscription() bool {
	switch t {
	case EventTypeSubscriptionCreated, EventTypeSubscriptionUpdated, EventTypeSubscriptionDeleted:
		return true
	default:
		return false
	}
}

func (t EventType) IsInvoice() bool {
	return t == EventTypeInvoicePaymentSucceeded || t == EventTypeInvoicePaymentFailed
}

func (t EventType) IsCustomer() bool {
	return t == EventTypeCustomerCreated
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
	SubscriptionStatusUnknown           SubscriptionStatus = "unknown"
)

func ParseSubscriptionStatus(raw string) SubscriptionStatus {
	switch status := SubscriptionStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusUnpaid,
		SubscriptionStatusCanceled,
		SubscriptionStatusIncomplete,
		SubscriptionStatusIncompleteExpired,
		SubscriptionStatusTrialing,
		SubscriptionStatusPaused:
		return status
	default:
		return SubscriptionStatusUnknown
	}
}

// IsActive reports whether the subscription is in good standing.
func (s SubscriptionStatus) IsActive() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// RequiresPaymentAction reports whether the customer must fix payment.
func (s SubscriptionStatus) RequiresPaymentAction() bool {
	switch s {
	case SubscriptionStatusPastDue, SubscriptionStatusUnpaid, SubscriptionStatusIncomplete:
		return true
	default:
		return false
	}
}

func (s *SubscriptionStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseSubscriptionStatus(raw)
	return nil
}

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUnknown       InvoiceStatus = "unknown"
)

func ParseInvoiceStatus(raw string) InvoiceStatus {
	switch status := InvoiceStatus(strings.ToLower(strings.TrimSpace(raw))); status {
	case InvoiceStatusDraft,
		InvoiceStatusOpen,
		InvoiceStatusPaid,
		InvoiceStatusUncollectible,
		InvoiceStatusVoid:
		return status
	default:
		return InvoiceStatusUnknown
	}
}

func (s *InvoiceStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseInvoiceStatus(raw)
	return nil
}
