package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-billing-webhooks/core"
)

const DefaultRedisPrefix = "billing:idempotency:"

// Claimed keys carry no expiry, so volatile-* eviction policies never drop
// in-flight work. Terminal keys expire after the configured ttl.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'claimed', 'claimed_at', ARGV[1], 'updated_at', ARGV[1])
return 1
`)

var finalizeScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == ARGV[1] then
	return 1
end
if status == 'completed' or status == 'failed' then
	return -1
end
if not status then
	redis.call('HSET', KEYS[1], 'claimed_at', ARGV[3])
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'reason', ARGV[2], 'updated_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == 'claimed' then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// RedisStore shares the idempotency window across processes.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	Now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *RedisStore) CheckAndRecord(ctx context.Context, eventID string) (core.ClaimOutcome, error) {
	key, err := s.key(eventID)
	if err != nil {
		return "", err
	}
	claimed, err := claimScript.Run(ctx, s.client, []string{key}, s.stamp()).Int()
	if err != nil {
		return "", core.WrapInternal(err, "idempotency: redis claim failed", map[string]any{"event_id": eventID})
	}
	if claimed == 1 {
		return core.ClaimOutcomeClaimed, nil
	}
	return core.ClaimOutcomeAlreadyClaimed, nil
}

func (s *RedisStore) MarkCompleted(ctx context.Context, eventID string) error {
	return s.finalize(ctx, eventID, core.RecordStatusCompleted, "")
}

func (s *RedisStore) MarkFailed(ctx context.Context, eventID string, reason string) error {
	return s.finalize(ctx, eventID, core.RecordStatusFailed, strings.TrimSpace(reason))
}

func (s *RedisStore) Release(ctx context.Context, eventID string) error {
	key, err := s.key(eventID)
	if err != nil {
		return err
	}
	if err := releaseScript.Run(ctx, s.client, []string{key}).Err(); err != nil {
		return core.WrapInternal(err, "idempotency: redis release failed", map[string]any{"event_id": eventID})
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, eventID string) (core.IdempotencyRecord, bool, error) {
	key, err := s.key(eventID)
	if err != nil {
		return core.IdempotencyRecord{}, false, err
	}
	data, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return core.IdempotencyRecord{}, false, core.WrapInternal(err, "idempotency: redis read failed", map[string]any{"event_id": eventID})
	}
	if len(data) == 0 {
		return core.IdempotencyRecord{}, false, nil
	}
	record := core.IdempotencyRecord{
		EventID:   strings.TrimSpace(eventID),
		Status:    core.RecordStatus(data["status"]),
		Reason:    data["reason"],
		ClaimedAt: parseStamp(data["claimed_at"]),
		UpdatedAt: parseStamp(data["updated_at"]),
	}
	if record.Status.Terminal() && !record.UpdatedAt.IsZero() {
		record.ExpiresAt = record.UpdatedAt.Add(s.ttl)
	}
	return record, true, nil
}

func (s *RedisStore) finalize(ctx context.Context, eventID string, status core.RecordStatus, reason string) error {
	key, err := s.key(eventID)
	if err != nil {
		return err
	}
	result, err := finalizeScript.Run(ctx, s.client, []string{key},
		string(status),
		reason,
		s.stamp(),
		s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return core.WrapInternal(err, "idempotency: redis finalize failed", map[string]any{"event_id": eventID})
	}
	if result < 0 {
		return core.StoreConflict(
			fmt.Sprintf("idempotency: event %s is already terminal", strings.TrimSpace(eventID)),
			map[string]any{"event_id": eventID, "status": string(status)},
		)
	}
	return nil
}

func (s *RedisStore) key(eventID string) (string, error) {
	if s == nil || s.client == nil {
		return "", core.Internal("idempotency: redis store is not configured", nil)
	}
	key, err := normalizeKey(eventID)
	if err != nil {
		return "", err
	}
	return s.prefix + key, nil
}

func (s *RedisStore) stamp() string {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	return strconv.FormatInt(now.UnixNano(), 10)
}

func parseStamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
