package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-billing-webhooks/core"
)

type idempotencyRecord struct {
	bun.BaseModel `bun:"table:billing_idempotency_records,alias:bir"`

	ID        string     `bun:"id,pk"`
	EventID   string     `bun:"event_id,notnull"`
	Status    string     `bun:"status,notnull"`
	Reason    string     `bun:"reason"`
	ClaimedAt time.Time  `bun:"claimed_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt *time.Time `bun:"expires_at,nullzero"`
}

func (r *idempotencyRecord) toDomain() core.IdempotencyRecord {
	if r == nil {
		return core.IdempotencyRecord{}
	}
	record := core.IdempotencyRecord{
		EventID:   r.EventID,
		Status:    core.RecordStatus(r.Status),
		Reason:    r.Reason,
		ClaimedAt: r.ClaimedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.ExpiresAt != nil {
		record.ExpiresAt = r.ExpiresAt.UTC()
	}
	return record
}

func (r *idempotencyRecord) expired(now time.Time) bool {
	if r == nil || r.ExpiresAt == nil {
		return false
	}
	return core.RecordStatus(r.Status).Terminal() && !now.Before(*r.ExpiresAt)
}
