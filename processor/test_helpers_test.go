package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/events"
	"github.com/goliatone/go-billing-webhooks/idempotency"
)

const (
	subscriptionObject = `{"id":"sub_1","customer":"cus_1","status":"active","items":{"data":[{"id":"si_1","price":{"id":"price_1","currency":"usd"}}]}}`
	invoiceObject      = `{"id":"in_1","customer":"cus_1","status":"paid","amount_due":2000,"amount_paid":2000,"currency":"usd"}`
	customerObject     = `{"id":"cus_1","email":"billing@example.com"}`
)

func mustEvent(t *testing.T, id string, eventType string, object string) events.Event {
	t.Helper()
	body := fmt.Sprintf(`{"id":%q,"type":%q,"created":1700000000,"livemode":false,"data":{"object":%s}}`, id, eventType, object)
	event, err := events.Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse event %s: %v", id, err)
	}
	return event
}

// countingHandler records every callback. The first failures calls fail.
type countingHandler struct {
	mu       sync.Mutex
	calls    map[string]int
	failures int
	always   bool
	block    func(ctx context.Context, method string) error
}

func newCountingHandler() *countingHandler {
	return &countingHandler{calls: map[string]int{}}
}

func (h *countingHandler) invoke(ctx context.Context, method string) error {
	h.mu.Lock()
	h.calls[method]++
	fail := h.always || h.failures > 0
	if h.failures > 0 {
		h.failures--
	}
	block := h.block
	h.mu.Unlock()

	if block != nil {
		if err := block(ctx, method); err != nil {
			return err
		}
	}
	if fail {
		return errors.New("downstream billing system unavailable")
	}
	return nil
}

func (h *countingHandler) count(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[method]
}

func (h *countingHandler) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, calls := range h.calls {
		total += calls
	}
	return total
}

func (h *countingHandler) OnSubscriptionCreated(ctx context.Context, _ events.SubscriptionEvent) error {
	return h.invoke(ctx, "subscription_created")
}

func (h *countingHandler) OnSubscriptionUpdated(ctx context.Context, _ events.SubscriptionEvent) error {
	return h.invoke(ctx, "subscription_updated")
}

func (h *countingHandler) OnSubscriptionDeleted(ctx context.Context, _ events.SubscriptionEvent) error {
	return h.invoke(ctx, "subscription_deleted")
}

func (h *countingHandler) OnPaymentSucceeded(ctx context.Context, _ events.InvoiceEvent) error {
	return h.invoke(ctx, "payment_succeeded")
}

func (h *countingHandler) OnPaymentFailed(ctx context.Context, _ events.InvoiceEvent) error {
	return h.invoke(ctx, "payment_failed")
}

func (h *countingHandler) OnCustomerCreated(ctx context.Context, _ events.CustomerEvent) error {
	return h.invoke(ctx, "customer_created")
}

type recordingPolicy struct {
	mu      sync.Mutex
	retries []int
}

func (p *recordingPolicy) NextDelay(retry int) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = append(p.retries, retry)
	return 0
}

func (p *recordingPolicy) snapshot() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.retries...)
}

type logEntry struct {
	level   string
	message string
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) record(level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, message: message})
}

func (l *captureLogger) Trace(msg string, _ ...any) { l.record("trace", msg) }
func (l *captureLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.record("error", msg) }
func (l *captureLogger) Fatal(msg string, _ ...any) { l.record("fatal", msg) }
func (l *captureLogger) WithContext(context.Context) core.Logger {
	return l
}

func (l *captureLogger) has(level, message string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.level == level && entry.message == message {
			return true
		}
	}
	return false
}

func newTestProcessor(t *testing.T, handler Handler, opts ...Option) (*Processor, *idempotency.MemoryStore) {
	t.Helper()
	store := idempotency.NewMemoryStore(time.Hour, 0)
	base := []Option{
		WithRetryPolicy(NoDelay{}),
		WithProcessingTimeout(time.Second),
		WithEnqueueTimeout(0),
	}
	p, err := New(store, handler, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return p, store
}

func waitForStatus(t *testing.T, store core.IdempotencyStore, eventID string, want core.RecordStatus) core.IdempotencyRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		record, found, err := store.Get(context.Background(), eventID)
		if err != nil {
			t.Fatalf("get %s: %v", eventID, err)
		}
		if found && record.Status == want {
			return record
		}
		time.Sleep(5 * time.Millisecond)
	}
	record, found, _ := store.Get(context.Background(), eventID)
	t.Fatalf("expected %s to reach %s, got %#v (found=%v)", eventID, want, record, found)
	return core.IdempotencyRecord{}
}

func mustStatus(t *testing.T, store core.IdempotencyStore, eventID string, want core.RecordStatus) core.IdempotencyRecord {
	t.Helper()
	record, found, err := store.Get(context.Background(), eventID)
	if err != nil {
		t.Fatalf("get %s: %v", eventID, err)
	}
	if !found || record.Status != want {
		t.Fatalf("expected %s to be %s, got %#v (found=%v)", eventID, want, record, found)
	}
	return record
}
