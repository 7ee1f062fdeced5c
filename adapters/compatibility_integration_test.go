package adapters_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-billing-webhooks/adapters/gocommand"
	"github.com/goliatone/go-billing-webhooks/adapters/gojob"
	"github.com/goliatone/go-billing-webhooks/adapters/gologger"
	billingcommand "github.com/goliatone/go-billing-webhooks/command"
	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/events"
	"github.com/goliatone/go-billing-webhooks/idempotency"
	"github.com/goliatone/go-billing-webhooks/inbound"
	"github.com/goliatone/go-billing-webhooks/processor"
	"github.com/goliatone/go-billing-webhooks/query"
	"github.com/goliatone/go-billing-webhooks/webhooks"
)

const compatSecret = "whsec_compat"

func TestRuntimeCompatibility_GoJobGoCommandGoLogger(t *testing.T) {
	logger := &compatLogger{}
	provider := &compatProvider{logger: logger}

	_, _, jobProvider, jobLogger := gologger.ResolveForJob("billing.jobs", provider, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	queueRegistry := jobqueuecommand.NewRegistry()
	commandAdapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := commandAdapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	store := idempotency.NewMemoryStore(time.Hour, 0)
	if err := commandAdapter.RegisterCommand(billingcommand.NewReleaseClaimCommand(store)); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := commandAdapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get(billingcommand.TypeReleaseClaim); !ok {
		t.Fatalf("expected release command to be mirrored into go-job queue registry")
	}
}

func TestRuntimeCompatibility_WebhookThroughGoJobQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := idempotency.NewMemoryStore(time.Hour, 0)
	var created atomic.Int32
	proc, err := processor.New(store, processor.HandlerFuncs{
		CustomerCreated: func(context.Context, events.CustomerEvent) error {
			created.Add(1)
			return nil
		},
	}, processor.WithRetryPolicy(processor.NoDelay{}))
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}

	broker := newMemoryBroker()
	receiver, err := inbound.NewReceiver(
		webhooks.NewSignatureVerifier(compatSecret, webhooks.DefaultTolerance),
		store,
		gojob.NewEventEnqueuer(broker),
	)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}

	body := []byte(`{"id":"evt_compat","type":"customer.created","created":1700000000,"data":{"object":{"id":"cus_9","email":"ops@example.com"}}}`)
	for range 2 {
		result, err := receiver.Receive(ctx, core.InboundRequest{
			Body:      body,
			Signature: webhooks.SignHeader(body, compatSecret, time.Now()),
		})
		if err != nil || result.StatusCode != 200 {
			t.Fatalf("receive: %d %v", result.StatusCode, err)
		}
	}
	if broker.len() != 1 {
		t.Fatalf("expected one message on the broker, got %d", broker.len())
	}

	consumer, err := gojob.NewConsumer(proc, gojob.WithRecordReader(store))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	broker.onEmpty = cancel
	if err := consumer.Consume(ctx, broker); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if created.Load() != 1 {
		t.Fatalf("expected customer handler once, got %d", created.Load())
	}

	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	subs, err := gocommand.RegisterEngine(adapter, gocommand.EngineDeps{Reader: store})
	if err != nil {
		t.Fatalf("register engine: %v", err)
	}
	defer subs.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	record, err := gocommand.Query[query.GetRecordMessage, core.IdempotencyRecord](context.Background(), query.GetRecordMessage{EventID: "evt_compat"})
	if err != nil {
		t.Fatalf("query record: %v", err)
	}
	if record.Status != core.RecordStatusCompleted {
		t.Fatalf("expected completed record, got %q", record.Status)
	}
}

// memoryBroker is a minimal go-job queue: enqueue appends, dequeue pops.
type memoryBroker struct {
	mu       sync.Mutex
	messages []*job.ExecutionMessage
	acked    int
	onEmpty  func()
}

func newMemoryBroker() *memoryBroker {
	return &memoryBroker{}
}

func (b *memoryBroker) Enqueue(_ context.Context, msg *job.ExecutionMessage) (queue.EnqueueReceipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	return queue.EnqueueReceipt{DispatchID: msg.IdempotencyKey, EnqueuedAt: time.Now()}, nil
}

func (b *memoryBroker) Dequeue(ctx context.Context) (queue.Delivery, error) {
	b.mu.Lock()
	if len(b.messages) == 0 {
		onEmpty := b.onEmpty
		b.mu.Unlock()
		if onEmpty != nil {
			onEmpty()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := b.messages[0]
	b.messages = b.messages[1:]
	b.mu.Unlock()
	return &memoryDelivery{broker: b, msg: next}, nil
}

func (b *memoryBroker) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

type memoryDelivery struct {
	broker *memoryBroker
	msg    *job.ExecutionMessage
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.broker.mu.Lock()
	defer d.broker.mu.Unlock()
	d.broker.acked++
	return nil
}

func (d *memoryDelivery) Nack(ctx context.Context, opts queue.NackOptions) error {
	if opts.Disposition == queue.NackDispositionRetry {
		_, err := d.broker.Enqueue(ctx, d.msg)
		return err
	}
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }
