package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-billing-webhooks/core"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisStore(client, "test:idem:", ttl), server
}

func TestRedisStore_ConcurrentClaim(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := store.CheckAndRecord(ctx, "evt_shared")
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if outcome.Claimed() {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claimed != 1 {
		t.Fatalf("expected exactly one claim, got %d", claimed)
	}
}

func TestRedisStore_Lifecycle(t *testing.T) {
	store, server := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	outcome, err := store.CheckAndRecord(ctx, "evt_1")
	if err != nil || outcome != core.ClaimOutcomeClaimed {
		t.Fatalf("expected claim, got %q err=%v", outcome, err)
	}
	if ttl := server.TTL("test:idem:evt_1"); ttl != 0 {
		t.Fatalf("expected claimed key without expiry, got %s", ttl)
	}

	if err := store.MarkCompleted(ctx, "evt_1"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := store.MarkCompleted(ctx, "evt_1"); err != nil {
		t.Fatalf("expected idempotent completion, got %v", err)
	}
	record, ok, err := store.Get(ctx, "evt_1")
	if err != nil || !ok || record.Status != core.RecordStatusCompleted {
		t.Fatalf("expected completed record, got %+v ok=%v err=%v", record, ok, err)
	}
	if ttl := server.TTL("test:idem:evt_1"); ttl != time.Minute {
		t.Fatalf("expected terminal ttl of 1m, got %s", ttl)
	}
	if err := store.MarkFailed(ctx, "evt_1", "late"); !core.IsStoreConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	server.FastForward(2 * time.Minute)
	outcome, _ = store.CheckAndRecord(ctx, "evt_1")
	if outcome != core.ClaimOutcomeClaimed {
		t.Fatalf("expected expired key to be reclaimable, got %q", outcome)
	}
}

func TestRedisStore_FailedAndRelease(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	_, _ = store.CheckAndRecord(ctx, "evt_f")
	if err := store.MarkFailed(ctx, "evt_f", "exhausted"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	record, _, _ := store.Get(ctx, "evt_f")
	if record.Status != core.RecordStatusFailed || record.Reason != "exhausted" {
		t.Fatalf("unexpected record %+v", record)
	}
	if err := store.Release(ctx, "evt_f"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "evt_f"); !ok {
		t.Fatalf("expected release to keep terminal record")
	}

	_, _ = store.CheckAndRecord(ctx, "evt_q")
	if err := store.Release(ctx, "evt_q"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "evt_q"); ok {
		t.Fatalf("expected released claim to be removed")
	}
}

func TestRedisStore_MarkUnseen(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	if err := store.MarkCompleted(ctx, "evt_direct"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	record, ok, _ := store.Get(ctx, "evt_direct")
	if !ok || record.Status != core.RecordStatusCompleted || record.ClaimedAt.IsZero() {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestRedisStore_RequiresClient(t *testing.T) {
	store := NewRedisStore(nil, "", 0)
	if _, err := store.CheckAndRecord(context.Background(), "evt"); err == nil {
		t.Fatalf("expected configuration error")
	}
}
