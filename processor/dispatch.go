package processor

import (
	"context"
	"errors"

	"github.com/goliatone/go-billing-webhooks/events"
)

type route func(ctx context.Context, handler Handler, event events.Event) error

// routes maps every EventType, including EventTypeUnknown, to exactly one
// handler method. Adding an EventType without a route is caught by tests.
var routes = map[events.EventType]route{
	events.EventTypeSubscriptionCreated: func(ctx context.Context, handler Handler, event events.Event) error {
		payload, err := event.AsSubscription()
		if err != nil {
			return projectionFailed(err)
		}
		return handler.OnSubscriptionCreated(ctx, payload)
	},
	events.EventTypeSubscriptionUpdated: func(ctx context.Context, handler Handler, event events.Event) error {
		payload, err := event.AsSubscription()
		if err != nil {
			return projectionFailed(err)
		}
		return handler.OnSubscriptionUpdated(ctx, payload)
	},
	events.EventTypeSubscriptionDeleted: func(ctx context.Context, handler Handler, event events.Event) error {
		payload, err := event.AsSubscription()
		if err != nil {
			return projectionFailed(err)
		}
		return handler.OnSubscriptionDeleted(ctx, payload)
	},
	events.EventTypeInvoicePaymentSucceeded: func(ctx context.Context, handler Handler, event events.Event) error {
		payload, err := event.AsInvoice()
		if err != nil {
			return projectionFailed(err)
		}
		return handler.OnPaymentSucceeded(ctx, payload)
	},
	events.EventTypeInvoicePaymentFailed: func(ctx context.Context, handler Handler, event events.Event) error {
		payload, err := event.AsInvoice()
		if err != nil {
			return projectionFailed(err)
		}
		return handler.OnPaymentFailed(ctx, payload)
	},
	events.EventTypeCustomerCreated: func(ctx context.Context, handler Handler, event events.Event) error {
		payload, err := event.AsCustomer()
		if err != nil {
			return projectionFailed(err)
		}
		return handler.OnCustomerCreated(ctx, payload)
	},
	events.EventTypeUnknown: ignoreUnknown,
}

func ignoreUnknown(context.Context, Handler, events.Event) error {
	return nil
}

// projectionError marks a payload that could not be read as the routed
// type. Errors returned by handlers are never wrapped in it.
type projectionError struct {
	err error
}

func projectionFailed(err error) error {
	return &projectionError{err: err}
}

func (e *projectionError) Error() string { return e.err.Error() }

func (e *projectionError) Unwrap() error { return e.err }

// IsProjectionError reports whether err came from reading the event payload
// rather than from a handler callback.
func IsProjectionError(err error) bool {
	var projection *projectionError
	return errors.As(err, &projection)
}

// Dispatch invokes the handler method for the event's type. Unknown types
// return dispatched=false and no error.
func Dispatch(ctx context.Context, handler Handler, event events.Event) (dispatched bool, err error) {
	eventType := event.TypedEventType()
	if eventType == events.EventTypeUnknown {
		return false, ignoreUnknown(ctx, handler, event)
	}
	fn, ok := routes[eventType]
	if !ok {
		return false, nil
	}
	if handler == nil {
		handler = NopHandler{}
	}
	return true, fn(ctx, handler, event)
}
