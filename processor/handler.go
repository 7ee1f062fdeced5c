package processor

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/events"
)

// Handler receives the business callbacks. Any returned error is treated as a
// retryable failure, whatever its code. Only a payload that cannot be read as
// the routed type ends the event without retries.
type Handler interface {
	OnSubscriptionCreated(ctx context.Context, event events.SubscriptionEvent) error
	OnSubscriptionUpdated(ctx context.Context, event events.SubscriptionEvent) error
	OnSubscriptionDeleted(ctx context.Context, event events.SubscriptionEvent) error
	OnPaymentSucceeded(ctx context.Context, event events.InvoiceEvent) error
	OnPaymentFailed(ctx context.Context, event events.InvoiceEvent) error
	OnCustomerCreated(ctx context.Context, event events.CustomerEvent) error
}

type NopHandler struct{}

func (NopHandler) OnSubscriptionCreated(context.Context, events.SubscriptionEvent) error { return nil }
func (NopHandler) OnSubscriptionUpdated(context.Context, events.SubscriptionEvent) error { return nil }
func (NopHandler) OnSubscriptionDeleted(context.Context, events.SubscriptionEvent) error { return nil }
func (NopHandler) OnPaymentSucceeded(context.Context, events.InvoiceEvent) error         { return nil }
func (NopHandler) OnPaymentFailed(context.Context, events.InvoiceEvent) error            { return nil }
func (NopHandler) OnCustomerCreated(context.Context, events.CustomerEvent) error         { return nil }

// LoggingHandler logs every callback and never fails.
type LoggingHandler struct {
	Logger core.Logger
}

func NewLoggingHandler(logger core.Logger) *LoggingHandler {
	return &LoggingHandler{Logger: glog.Ensure(logger)}
}

func (h *LoggingHandler) OnSubscriptionCreated(ctx context.Context, event events.SubscriptionEvent) error {
	h.logSubscription(ctx, "subscription created", event)
	return nil
}

func (h *LoggingHandler) OnSubscriptionUpdated(ctx context.Context, event events.SubscriptionEvent) error {
	h.logSubscription(ctx, "subscription updated", event)
	return nil
}

func (h *LoggingHandler) OnSubscriptionDeleted(ctx context.Context, event events.SubscriptionEvent) error {
	h.logSubscription(ctx, "subscription deleted", event)
	return nil
}

func (h *LoggingHandler) OnPaymentSucceeded(ctx context.Context, event events.InvoiceEvent) error {
	h.logInvoice(ctx, "invoice payment succeeded", event)
	return nil
}

func (h *LoggingHandler) OnPaymentFailed(ctx context.Context, event events.InvoiceEvent) error {
	h.logInvoice(ctx, "invoice payment failed", event)
	return nil
}

func (h *LoggingHandler) OnCustomerCreated(ctx context.Context, event events.CustomerEvent) error {
	h.logger().WithContext(ctx).Info("customer created",
		"event_id", event.EventID,
		"customer_id", event.Customer.ID,
		"email", event.Customer.Email,
	)
	return nil
}

func (h *LoggingHandler) logSubscription(ctx context.Context, message string, event events.SubscriptionEvent) {
	h.logger().WithContext(ctx).Info(message,
		"event_id", event.EventID,
		"subscription_id", event.Subscription.ID,
		"customer_id", event.Subscription.Customer,
		"status", string(event.Subscription.Status),
	)
}

func (h *LoggingHandler) logInvoice(ctx context.Context, message string, event events.InvoiceEvent) {
	h.logger().WithContext(ctx).Info(message,
		"event_id", event.EventID,
		"invoice_id", event.Invoice.ID,
		"customer_id", event.Invoice.Customer,
		"amount_due", event.Invoice.AmountDue,
		"amount_paid", event.Invoice.AmountPaid,
		"currency", event.Invoice.Currency,
	)
}

func (h *LoggingHandler) logger() core.Logger {
	if h == nil {
		return glog.Nop()
	}
	return glog.Ensure(h.Logger)
}

// HandlerFuncs implements Handler from optional funcs. Unset callbacks
// succeed without doing anything.
type HandlerFuncs struct {
	SubscriptionCreated func(ctx context.Context, event events.SubscriptionEvent) error
	SubscriptionUpdated func(ctx context.Context, event events.SubscriptionEvent) error
	SubscriptionDeleted func(ctx context.Context, event events.SubscriptionEvent) error
	PaymentSucceeded    func(ctx context.Context, event events.InvoiceEvent) error
	PaymentFailed       func(ctx context.Context, event events.InvoiceEvent) error
	CustomerCreated     func(ctx context.Context, event events.CustomerEvent) error
}

func (f HandlerFuncs) OnSubscriptionCreated(ctx context.Context, event events.SubscriptionEvent) error {
	if f.SubscriptionCreated == nil {
		return nil
	}
	return f.SubscriptionCreated(ctx, event)
}

func (f HandlerFuncs) OnSubscriptionUpdated(ctx context.Context, event events.SubscriptionEvent) error {
	if f.SubscriptionUpdated == nil {
		return nil
	}
	return f.SubscriptionUpdated(ctx, event)
}

func (f HandlerFuncs) OnSubscriptionDeleted(ctx context.Context, event events.SubscriptionEvent) error {
	if f.SubscriptionDeleted == nil {
		return nil
	}
	return f.SubscriptionDeleted(ctx, event)
}

func (f HandlerFuncs) OnPaymentSucceeded(ctx context.Context, event events.InvoiceEvent) error {
	if f.PaymentSucceeded == nil {
		return nil
	}
	return f.PaymentSucceeded(ctx, event)
}

func (f HandlerFuncs) OnPaymentFailed(ctx context.Context, event events.InvoiceEvent) error {
	if f.PaymentFailed == nil {
		return nil
	}
	return f.PaymentFailed(ctx, event)
}

func (f HandlerFuncs) OnCustomerCreated(ctx context.Context, event events.CustomerEvent) error {
	if f.CustomerCreated == nil {
		return nil
	}
	return f.CustomerCreated(ctx, event)
}
