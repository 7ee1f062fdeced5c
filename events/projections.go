package events

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-billing-webhooks/core"
)

type Subscription struct {
	ID                 string             `json:"id"`
	Customer           string             `json:"customer"`
	Status             SubscriptionStatus `json:"status"`
	CurrentPeriodStart int64              `json:"current_period_start"`
	CurrentPeriodEnd   int64              `json:"current_period_end"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CanceledAt         *int64             `json:"canceled_at,omitempty"`
	EndedAt            *int64             `json:"ended_at,omitempty"`
	TrialEnd           *int64             `json:"trial_end,omitempty"`
	Items              SubscriptionItems  `json:"items"`
	Metadata           map[string]string  `json:"metadata,omitempty"`
	Livemode           bool               `json:"livemode"`
}

type SubscriptionItems struct {
	Data []SubscriptionItem `json:"data"`
}

type SubscriptionItem struct {
	ID       string `json:"id"`
	Price    Price  `json:"price"`
	Quantity int64  `json:"quantity"`
}

// UnmarshalJSON defaults a missing quantity to 1.
func (i *SubscriptionItem) UnmarshalJSON(data []byte) error {
	type alias SubscriptionItem
	decoded := struct {
		alias
		Quantity *int64 `json:"quantity"`
	}{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*i = SubscriptionItem(decoded.alias)
	i.Quantity = 1
	if decoded.Quantity != nil {
		i.Quantity = *decoded.Quantity
	}
	return nil
}

type Price struct {
	ID         string     `json:"id"`
	Product    string     `json:"product"`
	UnitAmount *int64     `json:"unit_amount,omitempty"`
	Currency   string     `json:"currency"`
	Recurring  *Recurring `json:"recurring,omitempty"`
}

type Recurring struct {
	Interval      string `json:"interval"`
	IntervalCount int    `json:"interval_count"`
}

type Invoice struct {
	ID               string        `json:"id"`
	Customer         string        `json:"customer"`
	Subscription     string        `json:"subscription,omitempty"`
	Status           InvoiceStatus `json:"status"`
	AmountDue        int64         `json:"amount_due"`
	AmountPaid       int64         `json:"amount_paid"`
	AmountRemaining  int64         `json:"amount_remaining"`
	Currency         string        `json:"currency"`
	BillingReason    string        `json:"billing_reason,omitempty"`
	CustomerEmail    string        `json:"customer_email,omitempty"`
	HostedInvoiceURL string        `json:"hosted_invoice_url,omitempty"`
	InvoicePDF       string        `json:"invoice_pdf,omitempty"`
	PaymentIntent    string        `json:"payment_intent,omitempty"`
	Created          int64         `json:"created"`
	PeriodStart      int64         `json:"period_start"`
	PeriodEnd        int64         `json:"period_end"`
	Livemode         bool          `json:"livemode"`
}

type Customer struct {
	ID          string            `json:"id"`
	Email       string            `json:"email,omitempty"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Created     int64             `json:"created"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Livemode    bool              `json:"livemode"`
}

type SubscriptionEvent struct {
	EventID            string
	Type               EventType
	Subscription       Subscription
	PreviousAttributes json.RawMessage
}

type InvoiceEvent struct {
	EventID string
	Type    EventType
	Invoice Invoice
}

type CustomerEvent struct {
	EventID  string
	Type     EventType
	Customer Customer
}

// AsSubscription narrows a subscription lifecycle event.
func (e Event) AsSubscription() (SubscriptionEvent, error) {
	eventType := e.TypedEventType()
	if !eventType.IsSubscription() {
		return SubscriptionEvent{}, e.mismatch("subscription")
	}
	var subscription Subscription
	if err := e.decodeObject(&subscription); err != nil {
		return SubscriptionEvent{}, err
	}
	if err := requireFields(e, "subscription", map[string]string{
		"id":       subscription.ID,
		"customer": subscription.Customer,
	}); err != nil {
		return SubscriptionEvent{}, err
	}
	return SubscriptionEvent{
		EventID:            e.ID,
		Type:               eventType,
		Subscription:       subscription,
		PreviousAttributes: e.Data.PreviousAttributes,
	}, nil
}

func (e Event) AsInvoice() (InvoiceEvent, error) {
	eventType := e.TypedEventType()
	if !eventType.IsInvoice() {
		return InvoiceEvent{}, e.mismatch("invoice")
	}
	var invoice Invoice
	if err := e.decodeObject(&invoice); err != nil {
		return InvoiceEvent{}, err
	}
	if err := requireFields(e, "invoice", map[string]string{
		"id":       invoice.ID,
		"customer": invoice.Customer,
	}); err != nil {
		return InvoiceEvent{}, err
	}
	return InvoiceEvent{EventID: e.ID, Type: eventType, Invoice: invoice}, nil
}

func (e Event) AsCustomer() (CustomerEvent, error) {
	eventType := e.TypedEventType()
	if !eventType.IsCustomer() {
		return CustomerEvent{}, e.mismatch("customer")
	}
	var customer Customer
	if err := e.decodeObject(&customer); err != nil {
		return CustomerEvent{}, err
	}
	if err := requireFields(e, "customer", map[string]string{"id": customer.ID}); err != nil {
		return CustomerEvent{}, err
	}
	return CustomerEvent{EventID: e.ID, Type: eventType, Customer: customer}, nil
}

func (e Event) mismatch(kind string) error {
	return core.InvalidPayload(fmt.Sprintf("events: event %s is not a %s event", e.Type, kind), e.fields())
}

func (e Event) decodeObject(target any) error {
	if isAbsent(e.Data.Object) {
		return core.InvalidPayload("events: data.object is required", e.fields())
	}
	if err := json.Unmarshal(e.Data.Object, target); err != nil {
		return core.WrapInvalidPayload(err, "events: data.object does not match the event type", e.fields())
	}
	return nil
}

func requireFields(e Event, kind string, values map[string]string) error {
	for _, name := range []string{"id", "customer"} {
		value, ok := values[name]
		if !ok {
			continue
		}
		if strings.TrimSpace(value) == "" {
			fields := e.fields()
			fields["field"] = name
			return core.InvalidPayload(fmt.Sprintf("events: %s.%s is required", kind, name), fields)
		}
	}
	return nil
}
