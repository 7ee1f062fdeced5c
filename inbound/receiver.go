package inbound

import (
	"context"
	"net/http"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/events"
)

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

// Queue accepts claimed events for asynchronous processing.
type Queue interface {
	QueueEvent(ctx context.Context, event events.Event) error
}

type ReceiverOption func(*Receiver)

func WithLogger(logger core.Logger) ReceiverOption {
	return func(r *Receiver) {
		r.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) ReceiverOption {
	return func(r *Receiver) {
		r.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) ReceiverOption {
	return func(r *Receiver) {
		r.metrics = recorder
	}
}

// Receiver is the synchronous part of webhook intake: verify, parse, claim,
// enqueue. Business processing never happens here.
type Receiver struct {
	verifier Verifier
	store    core.IdempotencyStore
	queue    Queue

	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	observer       *core.Observer
}

func NewReceiver(verifier Verifier, store core.IdempotencyStore, queue Queue, opts ...ReceiverOption) (*Receiver, error) {
	if verifier == nil {
		return nil, inboundInternal("inbound: signature verifier is required", nil)
	}
	if store == nil {
		return nil, inboundInternal("inbound: idempotency store is required", nil)
	}
	if queue == nil {
		return nil, inboundInternal("inbound: event queue is required", nil)
	}
	r := &Receiver{verifier: verifier, store: store, queue: queue}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	provider, logger := glog.Resolve("billing.inbound", r.loggerProvider, r.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("billing.inbound"); named != nil {
			logger = glog.Ensure(named)
		}
	}
	r.observer = core.NewObserver(logger, r.metrics)
	return r, nil
}

// Receive answers 200 for new and duplicate events alike. Errors carry the
// status to answer with; the result mirrors it.
func (r *Receiver) Receive(ctx context.Context, req core.InboundRequest) (core.InboundResult, error) {
	if r == nil {
		return core.InboundResult{}, inboundInternal("inbound: receiver is nil", nil)
	}

	if err := r.verifier.Verify(ctx, req); err != nil {
		// A verifier that cannot run reports Internal and keeps its 500.
		if !core.IsSignatureMismatch(err) && core.TextCode(err) != core.ErrorInternal {
			err = core.WrapSignatureMismatch(err, "inbound: signature verification failed", nil)
		}
		return r.reject(ctx, "signature", err, nil)
	}

	event, err := events.Parse(req.Body)
	if err != nil {
		return r.reject(ctx, "payload", err, nil)
	}
	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": event.Type,
	}

	outcome, err := r.store.CheckAndRecord(ctx, event.ID)
	if err != nil {
		return r.reject(ctx, "claim", inboundWrapInternal(err, "inbound: idempotency claim failed", fields), fields)
	}
	if !outcome.Claimed() {
		r.observer.Info(ctx, "billing event duplicate", fields)
		r.observer.Count(ctx, core.MetricInboundTotal, map[string]string{"status": "duplicate"})
		return accepted(event, true), nil
	}

	if err := r.queue.QueueEvent(ctx, event); err != nil {
		if releaseErr := r.store.Release(context.WithoutCancel(ctx), event.ID); releaseErr != nil {
			failed := cloneFields(fields)
			failed["error"] = releaseErr.Error()
			r.observer.Error(ctx, "billing claim release failed", failed)
		} else {
			r.observer.Count(ctx, core.MetricClaimsReleased, nil)
		}
		if !core.IsQueueFull(err) {
			err = inboundWrapInternal(err, "inbound: enqueue failed", fields)
		}
		return r.reject(ctx, "queue", err, fields)
	}

	r.observer.Debug(ctx, "billing event accepted", fields)
	r.observer.Count(ctx, core.MetricInboundTotal, map[string]string{"status": "accepted"})
	return accepted(event, false), nil
}

func (r *Receiver) reject(ctx context.Context, stage string, err error, fields map[string]any) (core.InboundResult, error) {
	status := core.HTTPStatus(err)
	logged := cloneFields(fields)
	logged["stage"] = stage
	logged["status"] = status
	logged["error"] = err.Error()
	if status >= http.StatusInternalServerError {
		r.observer.Error(ctx, "billing event rejected", logged)
	} else {
		r.observer.Warn(ctx, "billing event rejected", logged)
	}
	r.observer.Count(ctx, core.MetricInboundTotal, map[string]string{
		"status": "rejected",
		"stage":  stage,
	})
	return core.InboundResult{
		Accepted:   false,
		StatusCode: status,
		Body:       errorBody(err),
		Metadata: map[string]any{
			"rejected":  true,
			"stage":     stage,
			"text_code": core.TextCode(err),
		},
	}, err
}

func accepted(event events.Event, duplicate bool) core.InboundResult {
	return core.InboundResult{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Body:       []byte(`{"received":true}`),
		Metadata: map[string]any{
			"event_id":   event.ID,
			"event_type": event.Type,
			"deduped":    duplicate,
		},
	}
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+4)
	for key, value := range fields {
		out[key] = value
	}
	return out
}
