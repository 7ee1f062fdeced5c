package query

import (
	"strings"

	"github.com/goliatone/go-billing-webhooks/core"
)

const (
	TypeGetRecord   = "billing.query.record.get"
	TypeListRecords = "billing.query.record.list"

	MaxListLimit = 500
)

type GetRecordMessage struct {
	EventID string
}

func (GetRecordMessage) Type() string { return TypeGetRecord }

func (m GetRecordMessage) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return queryValidationError("event_id", "event id is required")
	}
	return nil
}

// ListRecordsMessage lists records newest first. An empty Status lists all.
type ListRecordsMessage struct {
	Status core.RecordStatus
	Limit  int
}

func (ListRecordsMessage) Type() string { return TypeListRecords }

func (m ListRecordsMessage) Validate() error {
	switch m.Status {
	case "", core.RecordStatusClaimed, core.RecordStatusCompleted, core.RecordStatusFailed:
	default:
		return queryValidationError("status", "status must be claimed, completed or failed")
	}
	if m.Limit < 0 || m.Limit > MaxListLimit {
		return queryValidationError("limit", "limit is out of range")
	}
	return nil
}
