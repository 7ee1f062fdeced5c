package idempotency

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxEntries = 100000
)

type memoryEntry struct {
	record core.IdempotencyRecord
	seq    uint64
}

type terminalRef struct {
	key string
	seq uint64
}

// MemoryStore is the in-process idempotency window. Every mutating operation
// runs inside one critical section; handlers never run under the lock.
//
// Terminal records expire after ttl. When the store holds maxEntries records
// the oldest terminal records are evicted first. Claimed records are never
// evicted, so the store grows past maxEntries rather than drop in-flight work.
type MemoryStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*memoryEntry
	terminal   []terminalRef
	seq        uint64
	Now        func() time.Time
}

func NewMemoryStore(ttl time.Duration, maxEntries int) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries < 0 {
		maxEntries = 0
	}
	return &MemoryStore{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    map[string]*memoryEntry{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryStore) CheckAndRecord(_ context.Context, eventID string) (core.ClaimOutcome, error) {
	if s == nil {
		return "", core.Internal("idempotency: memory store is nil", nil)
	}
	key, err := normalizeKey(eventID)
	if err != nil {
		return "", err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneExpiredLocked(now)
	if _, exists := s.entries[key]; exists {
		return core.ClaimOutcomeAlreadyClaimed, nil
	}
	s.ensureCapacityLocked()
	s.seq++
	s.entries[key] = &memoryEntry{
		seq: s.seq,
		record: core.IdempotencyRecord{
			EventID:   key,
			Status:    core.RecordStatusClaimed,
			ClaimedAt: now,
			UpdatedAt: now,
		},
	}
	return core.ClaimOutcomeClaimed, nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, eventID string) error {
	return s.finalize(eventID, core.RecordStatusCompleted, "")
}

func (s *MemoryStore) MarkFailed(_ context.Context, eventID string, reason string) error {
	return s.finalize(eventID, core.RecordStatusFailed, reason)
}

// Release drops a claimed record so a later delivery can claim it again.
// Terminal and unknown records are left untouched.
func (s *MemoryStore) Release(_ context.Context, eventID string) error {
	if s == nil {
		return core.Internal("idempotency: memory store is nil", nil)
	}
	key, err := normalizeKey(eventID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.entries[key]
	if !exists || entry.record.Status != core.RecordStatusClaimed {
		return nil
	}
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, eventID string) (core.IdempotencyRecord, bool, error) {
	if s == nil {
		return core.IdempotencyRecord{}, false, core.Internal("idempotency: memory store is nil", nil)
	}
	key, err := normalizeKey(eventID)
	if err != nil {
		return core.IdempotencyRecord{}, false, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneExpiredLocked(now)
	entry, exists := s.entries[key]
	if !exists {
		return core.IdempotencyRecord{}, false, nil
	}
	return entry.record, true, nil
}

// List returns the most recently updated records, optionally by status.
func (s *MemoryStore) List(_ context.Context, status core.RecordStatus, limit int) ([]core.IdempotencyRecord, error) {
	if s == nil {
		return nil, core.Internal("idempotency: memory store is nil", nil)
	}
	if limit <= 0 {
		limit = 50
	}
	now := s.now()

	s.mu.Lock()
	out := make([]core.IdempotencyRecord, 0, len(s.entries))
	s.pruneExpiredLocked(now)
	for _, entry := range s.entries {
		if status != "" && entry.record.Status != status {
			continue
		}
		out = append(out, entry.record)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeExpired removes expired terminal records and reports how many.
func (s *MemoryStore) PurgeExpired(context.Context) (int, error) {
	if s == nil {
		return 0, core.Internal("idempotency: memory store is nil", nil)
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneExpiredLocked(now), nil
}

func (s *MemoryStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) finalize(eventID string, status core.RecordStatus, reason string) error {
	if s == nil {
		return core.Internal("idempotency: memory store is nil", nil)
	}
	key, err := normalizeKey(eventID)
	if err != nil {
		return err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.entries[key]
	if !exists {
		s.ensureCapacityLocked()
		entry = &memoryEntry{record: core.IdempotencyRecord{
			EventID:   key,
			Status:    core.RecordStatusUnseen,
			ClaimedAt: now,
		}}
		s.entries[key] = entry
	}

	switch entry.record.Status {
	case status:
		return nil
	case core.RecordStatusCompleted, core.RecordStatusFailed:
		return core.StoreConflict(
			fmt.Sprintf("idempotency: event %s is already %s", key, entry.record.Status),
			map[string]any{"event_id": key, "status": string(entry.record.Status)},
		)
	}

	s.seq++
	entry.seq = s.seq
	entry.record.Status = status
	entry.record.Reason = strings.TrimSpace(reason)
	entry.record.UpdatedAt = now
	entry.record.ExpiresAt = now.Add(s.ttl)
	s.terminal = append(s.terminal, terminalRef{key: key, seq: entry.seq})
	return nil
}

// pruneExpiredLocked walks the terminal queue from the oldest end. The queue
// is ordered by finalization time so it can stop at the first live record.
func (s *MemoryStore) pruneExpiredLocked(now time.Time) int {
	removed := 0
	for len(s.terminal) > 0 {
		ref := s.terminal[0]
		entry, ok := s.liveTerminal(ref)
		if ok && now.Before(entry.record.ExpiresAt) {
			break
		}
		s.terminal = s.terminal[1:]
		if ok {
			delete(s.entries, ref.key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) ensureCapacityLocked() {
	if s.maxEntries <= 0 {
		return
	}
	for len(s.entries) >= s.maxEntries && len(s.terminal) > 0 {
		ref := s.terminal[0]
		s.terminal = s.terminal[1:]
		if _, ok := s.liveTerminal(ref); ok {
			delete(s.entries, ref.key)
		}
	}
}

// liveTerminal resolves a queue reference, ignoring stale ones left behind by
// records that were since removed or rewritten.
func (s *MemoryStore) liveTerminal(ref terminalRef) (*memoryEntry, bool) {
	entry, ok := s.entries[ref.key]
	if !ok || entry.seq != ref.seq || !entry.record.Status.Terminal() {
		return nil, false
	}
	return entry, true
}

func (s *MemoryStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func normalizeKey(eventID string) (string, error) {
	key := strings.TrimSpace(eventID)
	if key == "" {
		return "", core.BadInput("idempotency: event id is required", nil)
	}
	return key, nil
}
