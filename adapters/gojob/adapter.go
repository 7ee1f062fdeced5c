package gojob

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/events"
	"github.com/goliatone/go-billing-webhooks/processor"
)

const (
	JobIDProcessEvent      = "billing.webhooks.event.process"
	ScriptPathProcessEvent = "billing.webhooks.process"

	ParamEventID   = "event_id"
	ParamEventType = "event_type"
	ParamEvent     = "event"

	// DefaultInFlightDelay postpones redeliveries of an event this consumer
	// is still processing.
	DefaultInFlightDelay = 5 * time.Second
)

// NackDecision is the consumer's settle intent before it is mapped to a
// go-job disposition.
type NackDecision struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

// RetryPolicy bounds requeues of deliveries abandoned mid-processing.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
// Once MaxAttempts is reached the delivery is dead-lettered, or failed when
// DeadLetterOnMax is off.
func (p RetryPolicy) NormalizeAttempt(decision NackDecision, attempt int) NackDecision {
	out := decision
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax {
			out.DeadLetter = true
		}
		return out
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToNackOptions maps a decision onto go-job's nack dispositions. A decision
// that neither requeues nor dead-letters is a plain failure.
func ToNackOptions(decision NackDecision) queue.NackOptions {
	disposition := queue.NackDispositionFailed
	switch {
	case decision.DeadLetter:
		disposition = queue.NackDispositionDeadLetter
	case decision.Requeue:
		disposition = queue.NackDispositionRetry
	}
	return queue.NackOptions{
		Disposition: disposition,
		Delay:       decision.Delay,
		Reason:      decision.Reason,
	}
}

// FromNackOptions is the inverse of ToNackOptions.
func FromNackOptions(opts queue.NackOptions) NackDecision {
	return NackDecision{
		Delay:      opts.Delay,
		Requeue:    opts.Disposition == queue.NackDispositionRetry,
		DeadLetter: opts.Disposition == queue.NackDispositionDeadLetter,
		Reason:     opts.Reason,
	}
}

type deliveryAttemptsReader interface {
	Attempts() int
}

// DeliveryAttempts reads the delivery count from adapters that expose it,
// falling back to 1.
func DeliveryAttempts(delivery queue.Delivery) int {
	if reader, ok := delivery.(deliveryAttemptsReader); ok {
		if attempts := reader.Attempts(); attempts > 0 {
			return attempts
		}
	}
	return 1
}

// ToExecutionMessage encodes a verified event as a go-job message. The full
// envelope travels in the parameters so the consumer never re-verifies.
func ToExecutionMessage(event events.Event) (*job.ExecutionMessage, error) {
	if strings.TrimSpace(event.ID) == "" {
		return nil, core.InvalidPayload("gojob: event id is required", nil)
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, core.WrapInternal(err, "gojob: encode event failed", map[string]any{
			"event_id": event.ID,
		})
	}
	return &job.ExecutionMessage{
		JobID:      JobIDProcessEvent,
		ScriptPath: ScriptPathProcessEvent,
		Parameters: map[string]any{
			ParamEventID:   event.ID,
			ParamEventType: event.Type,
			ParamEvent:     string(raw),
		},
		IdempotencyKey: event.ID,
		DedupPolicy:    job.DedupPolicyDrop,
	}, nil
}

// FromExecutionMessage decodes the event carried by a go-job message.
func FromExecutionMessage(msg *job.ExecutionMessage) (events.Event, error) {
	if msg == nil {
		return events.Event{}, core.InvalidPayload("gojob: execution message is required", nil)
	}
	if strings.TrimSpace(msg.JobID) != JobIDProcessEvent {
		return events.Event{}, core.InvalidPayload("gojob: unexpected job id", map[string]any{
			"job_id": msg.JobID,
		})
	}
	var raw []byte
	switch value := msg.Parameters[ParamEvent].(type) {
	case string:
		raw = []byte(value)
	case []byte:
		raw = value
	case json.RawMessage:
		raw = value
	default:
		return events.Event{}, core.InvalidPayload("gojob: event parameter is missing", map[string]any{
			"idempotency_key": msg.IdempotencyKey,
		})
	}
	return events.Parse(raw)
}

// EventEnqueuer publishes claimed events to an external go-job queue. It can
// stand in for the in-process processor as the receiver's queue.
type EventEnqueuer struct {
	enqueuer queue.Enqueuer
	logger   core.Logger
}

func NewEventEnqueuer(enqueuer queue.Enqueuer, logger ...core.Logger) *EventEnqueuer {
	e := &EventEnqueuer{enqueuer: enqueuer}
	if len(logger) > 0 {
		e.logger = logger[0]
	}
	return e
}

func (a *EventEnqueuer) QueueEvent(ctx context.Context, event events.Event) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg, err := ToExecutionMessage(event)
	if err != nil {
		return err
	}
	receipt, err := a.enqueuer.Enqueue(ctx, msg)
	if err != nil {
		return err
	}
	if a.logger != nil {
		a.logger.WithContext(ctx).Debug("billing event dispatched",
			"event_id", event.ID,
			"dispatch_id", receipt.DispatchID,
		)
	}
	return nil
}

type EventProcessor interface {
	ProcessEventSync(ctx context.Context, event events.Event) error
}

type RecordReader interface {
	Get(ctx context.Context, eventID string) (core.IdempotencyRecord, bool, error)
}

type ConsumerOption func(*Consumer)

// WithRecordReader lets the consumer ack redeliveries of events that already
// reached a terminal state.
func WithRecordReader(reader RecordReader) ConsumerOption {
	return func(c *Consumer) {
		c.records = reader
	}
}

func WithRetryPolicy(policy RetryPolicy) ConsumerOption {
	return func(c *Consumer) {
		c.policy = policy
	}
}

// WithInFlightDelay sets the retry delay for redeliveries of an event that
// is still being processed.
func WithInFlightDelay(delay time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if delay >= 0 {
			c.inFlightDelay = delay
		}
	}
}

func WithConsumerLogger(logger core.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// Consumer drains go-job deliveries through the processor. Retries happen
// inside ProcessEventSync, so a terminal failure is dead-lettered and only
// abandoned work is requeued. The receiver claims before enqueueing, so a
// Claimed record alone does not mean another delivery is running; the
// consumer tracks the event ids it is processing itself.
type Consumer struct {
	processor     EventProcessor
	records       RecordReader
	policy        RetryPolicy
	logger        core.Logger
	inFlightDelay time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewConsumer(processor EventProcessor, opts ...ConsumerOption) (*Consumer, error) {
	if processor == nil {
		return nil, fmt.Errorf("gojob: event processor is required")
	}
	c := &Consumer{
		processor:     processor,
		inFlightDelay: DefaultInFlightDelay,
		inFlight:      map[string]struct{}{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Handle processes a single delivery. attempt counts deliveries of the same
// message, starting at 1.
func (c *Consumer) Handle(ctx context.Context, delivery queue.Delivery, attempt int) error {
	if c == nil || c.processor == nil {
		return fmt.Errorf("gojob: consumer is not configured")
	}
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}

	event, err := FromExecutionMessage(delivery.Message())
	if err != nil {
		c.log(ctx, "billing job rejected", "error", err.Error())
		return c.nack(ctx, delivery, NackDecision{DeadLetter: true, Reason: core.Reason(err)}, attempt)
	}

	if c.records != nil {
		record, found, err := c.records.Get(ctx, event.ID)
		if err == nil && found && record.Status.Terminal() {
			c.log(ctx, "billing job already finalized", "event_id", event.ID, "status", string(record.Status))
			return delivery.Ack(ctx)
		}
	}

	if !c.acquire(event.ID) {
		c.log(ctx, "billing job still in flight", "event_id", event.ID, "attempt", attempt)
		return delivery.Nack(ctx, ToNackOptions(NackDecision{
			Requeue: true,
			Delay:   c.inFlightDelay,
			Reason:  "event in flight",
		}))
	}
	defer c.release(event.ID)

	err = c.processor.ProcessEventSync(ctx, event)
	switch {
	case err == nil:
		return delivery.Ack(ctx)
	case ctx.Err() != nil:
		return c.nack(context.WithoutCancel(ctx), delivery, NackDecision{Requeue: true, Reason: "consumer stopped"}, attempt)
	default:
		return c.nack(ctx, delivery, NackDecision{DeadLetter: true, Reason: core.Reason(err)}, attempt)
	}
}

func (c *Consumer) nack(ctx context.Context, delivery queue.Delivery, decision NackDecision, attempt int) error {
	return delivery.Nack(ctx, ToNackOptions(c.policy.NormalizeAttempt(decision, attempt)))
}

func (c *Consumer) acquire(eventID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[eventID]; busy {
		return false
	}
	c.inFlight[eventID] = struct{}{}
	return true
}

func (c *Consumer) release(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, eventID)
}

// Consume dequeues until ctx is done or the dequeuer fails.
func (c *Consumer) Consume(ctx context.Context, dequeuer queue.Dequeuer) error {
	if dequeuer == nil {
		return fmt.Errorf("gojob: dequeuer is required")
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		delivery, err := dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if delivery == nil {
			continue
		}
		if err := c.Handle(ctx, delivery, DeliveryAttempts(delivery)); err != nil {
			c.log(ctx, "billing job settle failed", "error", err.Error())
		}
	}
}

func (c *Consumer) log(ctx context.Context, msg string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.WithContext(ctx).Warn(msg, args...)
}

// WorkerHookAdapter lets processor hooks observe go-job worker attempts.
type WorkerHookAdapter struct {
	hook processor.Hook
}

func NewWorkerHookAdapter(hook processor.Hook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnStart(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnSuccess(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnFailure(ctx, mapWorkerEvent(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil || a.hook == nil {
		return
	}
	a.hook.OnRetry(ctx, mapWorkerEvent(event))
}

func mapWorkerEvent(event worker.Event) processor.AttemptEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	out := processor.AttemptEvent{
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
	if message != nil {
		out.EventID = strings.TrimSpace(message.IdempotencyKey)
		if id, ok := message.Parameters[ParamEventID].(string); ok && out.EventID == "" {
			out.EventID = id
		}
		if eventType, ok := message.Parameters[ParamEventType].(string); ok {
			out.EventType = events.ParseEventType(eventType)
		}
	}
	return out
}

var _ worker.Hook = (*WorkerHookAdapter)(nil)
