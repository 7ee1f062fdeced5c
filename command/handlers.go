package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/events"
)

type EventQueue interface {
	QueueEvent(ctx context.Context, event events.Event) error
}

type SyncProcessor interface {
	ProcessEventSync(ctx context.Context, event events.Event) error
}

type ClaimReleaser interface {
	Release(ctx context.Context, eventID string) error
}

// ProcessOutcome is stored in the go-command result collector after a
// synchronous run.
type ProcessOutcome struct {
	EventID   string
	EventType string
	Succeeded bool
	TextCode  string
	Reason    string
}

type QueueEventCommand struct {
	queue EventQueue
}

func NewQueueEventCommand(queue EventQueue) *QueueEventCommand {
	return &QueueEventCommand{queue: queue}
}

func (c *QueueEventCommand) Execute(ctx context.Context, msg QueueEventMessage) error {
	if c == nil || c.queue == nil {
		return commandDependencyError("command: event queue is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.queue.QueueEvent(ctx, msg.Event)
}

type ProcessEventCommand struct {
	processor SyncProcessor
}

func NewProcessEventCommand(processor SyncProcessor) *ProcessEventCommand {
	return &ProcessEventCommand{processor: processor}
}

// Execute returns the terminal processing error. The outcome is stored either
// way so callers reading the collector see failures too.
func (c *ProcessEventCommand) Execute(ctx context.Context, msg ProcessEventMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: event processor is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	err := c.processor.ProcessEventSync(ctx, msg.Event)
	storeResult(ctx, ProcessOutcome{
		EventID:   msg.Event.ID,
		EventType: msg.Event.Type,
		Succeeded: err == nil,
		TextCode:  core.TextCode(err),
		Reason:    core.Reason(err),
	})
	return err
}

type ReleaseClaimCommand struct {
	store ClaimReleaser
}

func NewReleaseClaimCommand(store ClaimReleaser) *ReleaseClaimCommand {
	return &ReleaseClaimCommand{store: store}
}

func (c *ReleaseClaimCommand) Execute(ctx context.Context, msg ReleaseClaimMessage) error {
	if c == nil || c.store == nil {
		return commandDependencyError("command: idempotency store is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.store.Release(ctx, msg.EventID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
