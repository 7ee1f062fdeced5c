package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-billing-webhooks/core"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStore keeps the dedup window in billing_idempotency_records. The
// unique index on event_id makes the claim insert atomic across processes.
type IdempotencyStore struct {
	db   *bun.DB
	repo repository.Repository[*idempotencyRecord]
	ttl  time.Duration
	Now  func() time.Time
}

func NewIdempotencyStore(db *bun.DB, ttl time.Duration) (*IdempotencyStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	repo := repository.NewRepository[*idempotencyRecord](db, idempotencyHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid idempotency repository wiring: %w", err)
		}
	}
	return &IdempotencyStore{
		db:   db,
		repo: repo,
		ttl:  ttl,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *IdempotencyStore) CheckAndRecord(ctx context.Context, eventID string) (core.ClaimOutcome, error) {
	key, err := s.key(eventID)
	if err != nil {
		return "", err
	}
	now := s.now()
	if err := s.dropExpired(ctx, key, now); err != nil {
		return "", err
	}

	record := &idempotencyRecord{
		ID:        uuid.NewString(),
		EventID:   key,
		Status:    string(core.RecordStatusClaimed),
		ClaimedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.ClaimOutcomeAlreadyClaimed, nil
		}
		return "", core.WrapInternal(err, "sqlstore: claim insert failed", map[string]any{"event_id": key})
	}
	return core.ClaimOutcomeClaimed, nil
}

func (s *IdempotencyStore) MarkCompleted(ctx context.Context, eventID string) error {
	return s.finalize(ctx, eventID, core.RecordStatusCompleted, "")
}

func (s *IdempotencyStore) MarkFailed(ctx context.Context, eventID string, reason string) error {
	return s.finalize(ctx, eventID, core.RecordStatusFailed, strings.TrimSpace(reason))
}

func (s *IdempotencyStore) Release(ctx context.Context, eventID string) error {
	key, err := s.key(eventID)
	if err != nil {
		return err
	}
	_, err = s.db.NewDelete().
		Model((*idempotencyRecord)(nil)).
		Where("event_id = ?", key).
		Where("status = ?", string(core.RecordStatusClaimed)).
		Exec(ctx)
	if err != nil {
		return core.WrapInternal(err, "sqlstore: release failed", map[string]any{"event_id": key})
	}
	return nil
}

func (s *IdempotencyStore) Get(ctx context.Context, eventID string) (core.IdempotencyRecord, bool, error) {
	key, err := s.key(eventID)
	if err != nil {
		return core.IdempotencyRecord{}, false, err
	}
	record, found, err := s.find(ctx, key)
	if err != nil || !found {
		return core.IdempotencyRecord{}, false, err
	}
	if record.expired(s.now()) {
		return core.IdempotencyRecord{}, false, nil
	}
	return record.toDomain(), true, nil
}

// List returns the most recently updated records, optionally by status.
func (s *IdempotencyStore) List(ctx context.Context, status core.RecordStatus, limit int) ([]core.IdempotencyRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	selectors := []repository.SelectCriteria{
		repository.OrderBy("updated_at DESC"),
		repository.SelectPaginate(limit, 0),
	}
	if trimmed := strings.TrimSpace(string(status)); trimmed != "" {
		selectors = append(selectors, repository.SelectBy("status", "=", trimmed))
	}
	records, _, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return nil, err
	}
	out := make([]core.IdempotencyRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// PurgeExpired deletes terminal records past their expiry.
func (s *IdempotencyStore) PurgeExpired(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: idempotency store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*idempotencyRecord)(nil)).
		Where("status IN (?)", bun.In([]string{
			string(core.RecordStatusCompleted),
			string(core.RecordStatusFailed),
		})).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", s.now()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (s *IdempotencyStore) finalize(ctx context.Context, eventID string, status core.RecordStatus, reason string) error {
	key, err := s.key(eventID)
	if err != nil {
		return err
	}
	now := s.now()
	expiresAt := now.Add(s.ttl)

	res, err := s.db.NewUpdate().
		Model((*idempotencyRecord)(nil)).
		Set("status = ?", string(status)).
		Set("reason = ?", reason).
		Set("updated_at = ?", now).
		Set("expires_at = ?", expiresAt).
		Where("event_id = ?", key).
		Where("status = ?", string(core.RecordStatusClaimed)).
		Exec(ctx)
	if err != nil {
		return core.WrapInternal(err, "sqlstore: finalize failed", map[string]any{"event_id": key})
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		return nil
	}

	existing, found, err := s.find(ctx, key)
	if err != nil {
		return err
	}
	if found && !existing.expired(now) {
		if existing.Status == string(status) {
			return nil
		}
		return core.StoreConflict(
			fmt.Sprintf("idempotency: event %s is already %s", key, existing.Status),
			map[string]any{"event_id": key, "status": existing.Status},
		)
	}
	if found {
		if err := s.dropExpired(ctx, key, now); err != nil {
			return err
		}
	}

	record := &idempotencyRecord{
		ID:        uuid.NewString(),
		EventID:   key,
		Status:    string(status),
		Reason:    reason,
		ClaimedAt: now,
		UpdatedAt: now,
		ExpiresAt: &expiresAt,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return s.finalize(ctx, key, status, reason)
		}
		return core.WrapInternal(err, "sqlstore: finalize insert failed", map[string]any{"event_id": key})
	}
	return nil
}

func (s *IdempotencyStore) find(ctx context.Context, key string) (*idempotencyRecord, bool, error) {
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("event_id", "=", key),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return nil, false, core.WrapInternal(err, "sqlstore: record lookup failed", map[string]any{"event_id": key})
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return records[0], true, nil
}

func (s *IdempotencyStore) dropExpired(ctx context.Context, key string, now time.Time) error {
	_, err := s.db.NewDelete().
		Model((*idempotencyRecord)(nil)).
		Where("event_id = ?", key).
		Where("status IN (?)", bun.In([]string{
			string(core.RecordStatusCompleted),
			string(core.RecordStatusFailed),
		})).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return core.WrapInternal(err, "sqlstore: expire lookup failed", map[string]any{"event_id": key})
	}
	return nil
}

func (s *IdempotencyStore) key(eventID string) (string, error) {
	if s == nil || s.db == nil {
		return "", core.Internal("sqlstore: idempotency store is not configured", nil)
	}
	key := strings.TrimSpace(eventID)
	if key == "" {
		return "", core.BadInput("sqlstore: event id is required", nil)
	}
	return key, nil
}

func (s *IdempotencyStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
