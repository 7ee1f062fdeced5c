package idempotency

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClockedMemoryStore(ttl time.Duration, maxEntries int) (*MemoryStore, *manualClock) {
	clock := newManualClock()
	store := NewMemoryStore(ttl, maxEntries)
	store.Now = clock.Now
	return store, clock
}

func TestMemoryStore_ConcurrentClaimYieldsExactlyOneWinner(t *testing.T) {
	store := NewMemoryStore(time.Hour, 0)
	ctx := context.Background()

	for round := 0; round < 50; round++ {
		eventID := fmt.Sprintf("evt_race_%d", round)
		const callers = 16
		outcomes := make(chan core.ClaimOutcome, callers)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				outcome, err := store.CheckAndRecord(ctx, eventID)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				outcomes <- outcome
			}()
		}
		close(start)
		wg.Wait()
		close(outcomes)

		claimed := 0
		already := 0
		for outcome := range outcomes {
			switch outcome {
			case core.ClaimOutcomeClaimed:
				claimed++
			case core.ClaimOutcomeAlreadyClaimed:
				already++
			}
		}
		if claimed != 1 || already != callers-1 {
			t.Fatalf("round %d: expected 1 claimed and %d already claimed, got %d/%d", round, callers-1, claimed, already)
		}
	}
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	store, _ := newClockedMemoryStore(time.Hour, 0)
	ctx := context.Background()

	outcome, err := store.CheckAndRecord(ctx, "evt_1")
	if err != nil || outcome != core.ClaimOutcomeClaimed {
		t.Fatalf("expected claim, got %q err=%v", outcome, err)
	}
	record, ok, _ := store.Get(ctx, "evt_1")
	if !ok || record.Status != core.RecordStatusClaimed {
		t.Fatalf("expected claimed record, got %+v", record)
	}

	if err := store.MarkCompleted(ctx, "evt_1"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if err := store.MarkCompleted(ctx, "evt_1"); err != nil {
		t.Fatalf("expected idempotent completion, got %v", err)
	}
	record, _, _ = store.Get(ctx, "evt_1")
	if record.Status != core.RecordStatusCompleted || record.ExpiresAt.IsZero() {
		t.Fatalf("expected completed record with expiry, got %+v", record)
	}

	outcome, _ = store.CheckAndRecord(ctx, "evt_1")
	if outcome != core.ClaimOutcomeAlreadyClaimed {
		t.Fatalf("expected completed event to stay claimed, got %q", outcome)
	}

	if err := store.MarkFailed(ctx, "evt_1", "late failure"); !core.IsStoreConflict(err) {
		t.Fatalf("expected conflict moving completed to failed, got %v", err)
	}
}

func TestMemoryStore_MarkFailedKeepsReason(t *testing.T) {
	store, _ := newClockedMemoryStore(time.Hour, 0)
	ctx := context.Background()

	_, _ = store.CheckAndRecord(ctx, "evt_fail")
	if err := store.MarkFailed(ctx, "evt_fail", " handler exploded "); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	record, _, _ := store.Get(ctx, "evt_fail")
	if record.Status != core.RecordStatusFailed || record.Reason != "handler exploded" {
		t.Fatalf("unexpected failed record %+v", record)
	}
	if err := store.MarkCompleted(ctx, "evt_fail"); !core.IsStoreConflict(err) {
		t.Fatalf("expected conflict moving failed to completed, got %v", err)
	}
}

func TestMemoryStore_MarkOnUnseenRecordsTerminalState(t *testing.T) {
	store, _ := newClockedMemoryStore(time.Hour, 0)
	ctx := context.Background()

	if err := store.MarkCompleted(ctx, "evt_sync"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	record, ok, _ := store.Get(ctx, "evt_sync")
	if !ok || record.Status != core.RecordStatusCompleted {
		t.Fatalf("expected completed record, got %+v", record)
	}
}

func TestMemoryStore_ReleaseOnlyDropsClaims(t *testing.T) {
	store, _ := newClockedMemoryStore(time.Hour, 0)
	ctx := context.Background()

	_, _ = store.CheckAndRecord(ctx, "evt_r")
	if err := store.Release(ctx, "evt_r"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "evt_r"); ok {
		t.Fatalf("expected released record to be gone")
	}
	outcome, _ := store.CheckAndRecord(ctx, "evt_r")
	if outcome != core.ClaimOutcomeClaimed {
		t.Fatalf("expected reclaim after release, got %q", outcome)
	}

	_ = store.MarkCompleted(ctx, "evt_r")
	_ = store.Release(ctx, "evt_r")
	if record, ok, _ := store.Get(ctx, "evt_r"); !ok || record.Status != core.RecordStatusCompleted {
		t.Fatalf("expected release to leave completed record, got %+v", record)
	}
	if err := store.Release(ctx, "evt_missing"); err != nil {
		t.Fatalf("expected release of unknown id to be a no-op, got %v", err)
	}
}

func TestMemoryStore_TTLEvictsTerminalButNotClaimed(t *testing.T) {
	store, clock := newClockedMemoryStore(time.Minute, 0)
	ctx := context.Background()

	_, _ = store.CheckAndRecord(ctx, "evt_done")
	_ = store.MarkCompleted(ctx, "evt_done")
	_, _ = store.CheckAndRecord(ctx, "evt_inflight")

	clock.Advance(2 * time.Minute)

	if _, ok, _ := store.Get(ctx, "evt_done"); ok {
		t.Fatalf("expected expired completed record to be evicted")
	}
	record, ok, _ := store.Get(ctx, "evt_inflight")
	if !ok || record.Status != core.RecordStatusClaimed {
		t.Fatalf("expected claimed record to survive ttl, got %+v", record)
	}
	outcome, _ := store.CheckAndRecord(ctx, "evt_done")
	if outcome != core.ClaimOutcomeClaimed {
		t.Fatalf("expected evicted key to be reclaimable, got %q", outcome)
	}
}

func TestMemoryStore_CapacityEvictsOldestTerminalFirst(t *testing.T) {
	store, clock := newClockedMemoryStore(time.Hour, 3)
	ctx := context.Background()

	_, _ = store.CheckAndRecord(ctx, "evt_a")
	_, _ = store.CheckAndRecord(ctx, "evt_b")
	_, _ = store.CheckAndRecord(ctx, "evt_c")
	clock.Advance(time.Second)
	_ = store.MarkCompleted(ctx, "evt_b")
	clock.Advance(time.Second)
	_ = store.MarkFailed(ctx, "evt_c", "boom")

	_, _ = store.CheckAndRecord(ctx, "evt_d")
	if _, ok, _ := store.Get(ctx, "evt_b"); ok {
		t.Fatalf("expected oldest terminal record to be evicted")
	}
	if _, ok, _ := store.Get(ctx, "evt_a"); !ok {
		t.Fatalf("expected claimed record to survive capacity eviction")
	}
	if _, ok, _ := store.Get(ctx, "evt_c"); !ok {
		t.Fatalf("expected newer terminal record to survive")
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", store.Len())
	}
}

func TestMemoryStore_CapacityNeverEvictsClaims(t *testing.T) {
	store, _ := newClockedMemoryStore(time.Hour, 2)
	ctx := context.Background()

	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		outcome, err := store.CheckAndRecord(ctx, id)
		if err != nil || outcome != core.ClaimOutcomeClaimed {
			t.Fatalf("expected claim for %s, got %q err=%v", id, outcome, err)
		}
	}
	if store.Len() != 3 {
		t.Fatalf("expected store to grow past bound instead of evicting claims, got %d", store.Len())
	}
	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		outcome, _ := store.CheckAndRecord(ctx, id)
		if outcome != core.ClaimOutcomeAlreadyClaimed {
			t.Fatalf("expected %s to remain claimed, got %q", id, outcome)
		}
	}
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	store, clock := newClockedMemoryStore(time.Minute, 0)
	ctx := context.Background()

	for _, id := range []string{"evt_1", "evt_2"} {
		_, _ = store.CheckAndRecord(ctx, id)
		_ = store.MarkCompleted(ctx, id)
	}
	_, _ = store.CheckAndRecord(ctx, "evt_3")
	clock.Advance(time.Hour)

	removed, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 2 || store.Len() != 1 {
		t.Fatalf("expected 2 removed and 1 left, got %d removed and %d left", removed, store.Len())
	}
}

func TestMemoryStore_RejectsEmptyID(t *testing.T) {
	store := NewMemoryStore(0, 0)
	if _, err := store.CheckAndRecord(context.Background(), "  "); err == nil {
		t.Fatalf("expected empty id error")
	}
	var nilStore *MemoryStore
	if _, err := nilStore.CheckAndRecord(context.Background(), "evt"); err == nil {
		t.Fatalf("expected nil store error")
	}
}

func TestMemoryStore_ListByStatusNewestFirst(t *testing.T) {
	store, clock := newClockedMemoryStore(time.Hour, 0)
	ctx := context.Background()

	for _, id := range []string{"evt_a", "evt_b", "evt_c"} {
		_, _ = store.CheckAndRecord(ctx, id)
		clock.Advance(time.Second)
	}
	_ = store.MarkFailed(ctx, "evt_a", "boom")
	clock.Advance(time.Second)
	_ = store.MarkFailed(ctx, "evt_c", "boom")

	failed, err := store.List(ctx, core.RecordStatusFailed, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(failed) != 2 || failed[0].EventID != "evt_c" || failed[1].EventID != "evt_a" {
		t.Fatalf("expected [evt_c evt_a], got %#v", failed)
	}

	all, _ := store.List(ctx, "", 2)
	if len(all) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(all))
	}
}
