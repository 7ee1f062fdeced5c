package gojob

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/events"
	"github.com/goliatone/go-billing-webhooks/idempotency"
	"github.com/goliatone/go-billing-webhooks/processor"
)

const invoiceBody = `{"id":"evt_job","type":"invoice.payment_succeeded","created":1700000000,"data":{"object":{"id":"in_1","customer":"cus_1","status":"paid","amount_paid":2000,"currency":"usd"}}}`

func mustParse(t *testing.T, body string) events.Event {
	t.Helper()
	event, err := events.Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return event
}

func TestMessageMappingRoundTrip(t *testing.T) {
	original := mustParse(t, invoiceBody)

	msg, err := ToExecutionMessage(original)
	if err != nil {
		t.Fatalf("to execution message: %v", err)
	}
	if msg.JobID != JobIDProcessEvent || msg.IdempotencyKey != "evt_job" {
		t.Fatalf("unexpected message: %#v", msg)
	}
	if msg.Parameters[ParamEventType] != "invoice.payment_succeeded" {
		t.Fatalf("expected event type parameter, got %#v", msg.Parameters)
	}

	decoded, err := FromExecutionMessage(msg)
	if err != nil {
		t.Fatalf("from execution message: %v", err)
	}
	if decoded.ID != original.ID || decoded.Type != original.Type {
		t.Fatalf("expected envelope to survive mapping, got %#v", decoded)
	}
	invoice, err := decoded.AsInvoice()
	if err != nil {
		t.Fatalf("project invoice: %v", err)
	}
	if invoice.Invoice.ID != "in_1" {
		t.Fatalf("expected data.object to survive mapping, got %#v", invoice.Invoice)
	}
}

func TestFromExecutionMessage_RejectsForeignJobs(t *testing.T) {
	if _, err := FromExecutionMessage(&job.ExecutionMessage{JobID: "services.refresh"}); !core.IsInvalidPayload(err) {
		t.Fatalf("expected invalid payload for foreign job, got %v", err)
	}
	if _, err := FromExecutionMessage(&job.ExecutionMessage{JobID: JobIDProcessEvent}); !core.IsInvalidPayload(err) {
		t.Fatalf("expected invalid payload for missing event, got %v", err)
	}
	if _, err := ToExecutionMessage(events.Event{}); !core.IsInvalidPayload(err) {
		t.Fatalf("expected invalid payload for empty event, got %v", err)
	}
}

func TestEventEnqueuer_PublishesMessage(t *testing.T) {
	enqueuer := &stubQueueEnqueuer{}
	if err := NewEventEnqueuer(enqueuer).QueueEvent(context.Background(), mustParse(t, invoiceBody)); err != nil {
		t.Fatalf("queue event: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.IdempotencyKey != "evt_job" {
		t.Fatalf("expected mapped go-job message, got %#v", enqueuer.last)
	}

	var unconfigured *EventEnqueuer
	if err := unconfigured.QueueEvent(context.Background(), mustParse(t, invoiceBody)); err == nil {
		t.Fatalf("expected configuration error")
	}
}

type stubProcessor struct {
	calls  int
	err    error
	block  bool
	onCall func()
}

func (s *stubProcessor) ProcessEventSync(ctx context.Context, _ events.Event) error {
	s.calls++
	if s.onCall != nil {
		s.onCall()
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func deliveryFor(t *testing.T, body string) *stubQueueDelivery {
	t.Helper()
	msg, err := ToExecutionMessage(mustParse(t, body))
	if err != nil {
		t.Fatalf("to execution message: %v", err)
	}
	return &stubQueueDelivery{msg: msg}
}

func TestConsumer_AcksProcessedDelivery(t *testing.T) {
	proc := &stubProcessor{}
	consumer, err := NewConsumer(proc)
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	delivery := deliveryFor(t, invoiceBody)
	if err := consumer.Handle(context.Background(), delivery, 1); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !delivery.acked || delivery.nacked {
		t.Fatalf("expected ack, got %#v", delivery)
	}
}

func TestConsumer_DeadLettersTerminalFailure(t *testing.T) {
	proc := &stubProcessor{err: core.ProcessingFailed(errors.New("ledger offline"), nil)}
	consumer, _ := NewConsumer(proc)
	delivery := deliveryFor(t, invoiceBody)

	if err := consumer.Handle(context.Background(), delivery, 1); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter, got %#v", delivery.nackOpts)
	}
	if delivery.nackOpts.Reason == "" {
		t.Fatalf("expected failure reason on nack")
	}
}

func TestConsumer_RequeuesWhenStopped(t *testing.T) {
	proc := &stubProcessor{block: true}
	consumer, _ := NewConsumer(proc, WithRetryPolicy(RetryPolicy{MaxAttempts: 5}))
	delivery := deliveryFor(t, invoiceBody)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := consumer.Handle(ctx, delivery, 1); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionRetry {
		t.Fatalf("expected retry, got %#v", delivery.nackOpts)
	}
}

func TestConsumer_DeadLettersUndecodableMessage(t *testing.T) {
	proc := &stubProcessor{}
	consumer, _ := NewConsumer(proc)
	delivery := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: JobIDProcessEvent, Parameters: map[string]any{ParamEvent: "{"}}}

	if err := consumer.Handle(context.Background(), delivery, 1); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if proc.calls != 0 {
		t.Fatalf("undecodable message must not reach the processor")
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter, got %#v", delivery.nackOpts)
	}
}

func TestConsumer_AcksFinalizedRedelivery(t *testing.T) {
	store := idempotency.NewMemoryStore(time.Hour, 0)
	ctx := context.Background()
	_ = store.MarkCompleted(ctx, "evt_job")

	proc := &stubProcessor{}
	consumer, _ := NewConsumer(proc, WithRecordReader(store))
	delivery := deliveryFor(t, invoiceBody)

	if err := consumer.Handle(ctx, delivery, 2); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if proc.calls != 0 || !delivery.acked {
		t.Fatalf("expected finalized redelivery to be acked without processing")
	}
}

func TestConsumer_ConsumeDrainsUntilCancelled(t *testing.T) {
	proc := &stubProcessor{}
	consumer, _ := NewConsumer(proc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dequeuer := &stubQueueDequeuer{
		deliveries: []queue.Delivery{deliveryFor(t, invoiceBody), deliveryFor(t, invoiceBody)},
		onEmpty:    cancel,
	}
	if err := consumer.Consume(ctx, dequeuer); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if proc.calls != 2 {
		t.Fatalf("expected two processed deliveries, got %d", proc.calls)
	}
}

func TestConsumer_WithRealProcessor(t *testing.T) {
	store := idempotency.NewMemoryStore(time.Hour, 0)
	var succeeded int
	handler := processor.HandlerFuncs{
		PaymentSucceeded: func(context.Context, events.InvoiceEvent) error {
			succeeded++
			return nil
		},
	}
	proc, err := processor.New(store, handler, processor.WithRetryPolicy(processor.NoDelay{}))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	consumer, _ := NewConsumer(proc, WithRecordReader(store))

	for range 2 {
		delivery := deliveryFor(t, invoiceBody)
		if err := consumer.Handle(context.Background(), delivery, 1); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if !delivery.acked {
			t.Fatalf("expected ack")
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected handler to run once across redeliveries, got %d", succeeded)
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, MaxDelay: 10 * time.Second, DeadLetterOnMax: true}

	early := policy.NormalizeAttempt(NackDecision{Delay: 30 * time.Second, Requeue: true, Reason: " transient "}, 1)
	if early.Delay != 10*time.Second || !early.Requeue || early.Reason != "transient" {
		t.Fatalf("unexpected early nack: %#v", early)
	}

	last := policy.NormalizeAttempt(NackDecision{Delay: time.Second, Requeue: true}, 3)
	if last.Requeue || !last.DeadLetter {
		t.Fatalf("expected dead letter on max attempts, got %#v", last)
	}

	noDLQ := RetryPolicy{MaxAttempts: 2}
	exhausted := noDLQ.NormalizeAttempt(NackDecision{Requeue: true}, 2)
	if exhausted.Requeue || exhausted.DeadLetter {
		t.Fatalf("expected plain failure once attempts run out, got %#v", exhausted)
	}
	if got := ToNackOptions(exhausted).Disposition; got != queue.NackDispositionFailed {
		t.Fatalf("expected failed disposition, got %q", got)
	}
}

func TestNackOptionsMapping(t *testing.T) {
	cases := []struct {
		decision NackDecision
		want     queue.NackDisposition
	}{
		{NackDecision{Requeue: true, Delay: time.Second, Reason: "retry"}, queue.NackDispositionRetry},
		{NackDecision{DeadLetter: true}, queue.NackDispositionDeadLetter},
		{NackDecision{Requeue: true, DeadLetter: true}, queue.NackDispositionDeadLetter},
		{NackDecision{}, queue.NackDispositionFailed},
	}
	for _, tc := range cases {
		opts := ToNackOptions(tc.decision)
		if opts.Disposition != tc.want {
			t.Fatalf("decision %#v: expected %q, got %q", tc.decision, tc.want, opts.Disposition)
		}
		if opts.Delay != tc.decision.Delay || opts.Reason != tc.decision.Reason {
			t.Fatalf("expected delay and reason to carry over, got %#v", opts)
		}
	}
	back := FromNackOptions(queue.NackOptions{Disposition: queue.NackDispositionRetry, Delay: time.Second})
	if !back.Requeue || back.DeadLetter || back.Delay != time.Second {
		t.Fatalf("unexpected reverse mapping: %#v", back)
	}
}

func TestConsumer_PostponesRedeliveryWhileInFlight(t *testing.T) {
	store := idempotency.NewMemoryStore(time.Hour, 0)
	ctx := context.Background()
	if _, err := store.CheckAndRecord(ctx, "evt_job"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	started := make(chan struct{})
	unblock := make(chan struct{})
	var calls atomic.Int32
	handler := processor.HandlerFuncs{
		PaymentSucceeded: func(context.Context, events.InvoiceEvent) error {
			if calls.Add(1) == 1 {
				close(started)
				<-unblock
			}
			return nil
		},
	}
	proc, err := processor.New(store, handler, processor.WithRetryPolicy(processor.NoDelay{}), processor.WithProcessingTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	consumer, _ := NewConsumer(proc, WithRecordReader(store), WithInFlightDelay(3*time.Second))

	first := deliveryFor(t, invoiceBody)
	done := make(chan error, 1)
	go func() { done <- consumer.Handle(ctx, first, 1) }()
	<-started

	second := deliveryFor(t, invoiceBody)
	if err := consumer.Handle(ctx, second, 2); err != nil {
		t.Fatalf("handle redelivery: %v", err)
	}
	if second.acked || second.nackOpts.Disposition != queue.NackDispositionRetry || second.nackOpts.Delay != 3*time.Second {
		t.Fatalf("expected delayed retry for in-flight redelivery, got %#v", second)
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("handle first delivery: %v", err)
	}
	if !first.acked {
		t.Fatalf("expected first delivery to be acked")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected handler once, got %d", calls.Load())
	}
}

func TestConsumer_ConsumeUsesDeliveryAttempts(t *testing.T) {
	proc := &stubProcessor{block: true}
	consumer, _ := NewConsumer(proc, WithRetryPolicy(RetryPolicy{MaxAttempts: 3, DeadLetterOnMax: true}))
	ctx, cancel := context.WithCancel(context.Background())

	delivery := deliveryFor(t, invoiceBody)
	delivery.attempts = 3
	proc.onCall = cancel
	dequeuer := &stubQueueDequeuer{deliveries: []queue.Delivery{delivery}}
	if err := consumer.Consume(ctx, dequeuer); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if delivery.nackOpts.Disposition != queue.NackDispositionDeadLetter {
		t.Fatalf("expected dead letter on the last allowed attempt, got %#v", delivery.nackOpts)
	}
	if DeliveryAttempts(&stubQueueDelivery{}) != 1 {
		t.Fatalf("expected attempts to default to 1")
	}
}

func TestWorkerHookAdapterEventMapping(t *testing.T) {
	now := time.Now().UTC().Add(-time.Second)
	var got processor.AttemptEvent
	adapter := NewWorkerHookAdapter(processor.HookFuncs{
		Retry: func(_ context.Context, event processor.AttemptEvent) {
			got = event
		},
	})

	msg, err := ToExecutionMessage(mustParse(t, invoiceBody))
	if err != nil {
		t.Fatalf("to execution message: %v", err)
	}
	adapter.OnRetry(context.Background(), worker.Event{
		Message:   msg,
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: now,
		Duration:  250 * time.Millisecond,
	})

	if got.EventID != "evt_job" {
		t.Fatalf("expected event id mapping, got %q", got.EventID)
	}
	if got.EventType != events.EventTypeInvoicePaymentSucceeded {
		t.Fatalf("expected event type mapping, got %q", got.EventType)
	}
	if got.Attempt != 2 || got.Delay != 5*time.Second || got.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected attempt mapping: %#v", got)
	}
	if got.Err == nil || got.Err.Error() != "retry" || got.StartedAt.IsZero() {
		t.Fatalf("expected error and start time mapping")
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	s.last = msg
	return queue.EnqueueReceipt{DispatchID: "dsp_1", EnqueuedAt: time.Now()}, nil
}

type stubQueueDequeuer struct {
	deliveries []queue.Delivery
	onEmpty    func()
}

func (s *stubQueueDequeuer) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if len(s.deliveries) == 0 {
		if s.onEmpty != nil {
			s.onEmpty()
		}
		return nil, ctx.Err()
	}
	next := s.deliveries[0]
	s.deliveries = s.deliveries[1:]
	return next, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	attempts int
	acked    bool
	nacked   bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Attempts() int {
	return s.attempts
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nacked = true
	s.nackOpts = opts
	return nil
}
