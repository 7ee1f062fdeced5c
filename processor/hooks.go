package processor

import (
	"context"
	"time"

	"github.com/goliatone/go-billing-webhooks/events"
)

// AttemptEvent describes one handler attempt.
type AttemptEvent struct {
	EventID   string
	EventType events.EventType
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Hook observes attempts. OnRetry fires before the backoff pause, OnFailure
// once the event is recorded as failed.
type Hook interface {
	OnStart(ctx context.Context, event AttemptEvent)
	OnSuccess(ctx context.Context, event AttemptEvent)
	OnFailure(ctx context.Context, event AttemptEvent)
	OnRetry(ctx context.Context, event AttemptEvent)
}

// HookFuncs implements Hook from optional funcs.
type HookFuncs struct {
	Start   func(ctx context.Context, event AttemptEvent)
	Success func(ctx context.Context, event AttemptEvent)
	Failure func(ctx context.Context, event AttemptEvent)
	Retry   func(ctx context.Context, event AttemptEvent)
}

func (h HookFuncs) OnStart(ctx context.Context, event AttemptEvent) {
	if h.Start != nil {
		h.Start(ctx, event)
	}
}

func (h HookFuncs) OnSuccess(ctx context.Context, event AttemptEvent) {
	if h.Success != nil {
		h.Success(ctx, event)
	}
}

func (h HookFuncs) OnFailure(ctx context.Context, event AttemptEvent) {
	if h.Failure != nil {
		h.Failure(ctx, event)
	}
}

func (h HookFuncs) OnRetry(ctx context.Context, event AttemptEvent) {
	if h.Retry != nil {
		h.Retry(ctx, event)
	}
}

type hookSet []Hook

func (s hookSet) start(ctx context.Context, event AttemptEvent) {
	for _, hook := range s {
		hook.OnStart(ctx, event)
	}
}

func (s hookSet) success(ctx context.Context, event AttemptEvent) {
	for _, hook := range s {
		hook.OnSuccess(ctx, event)
	}
}

func (s hookSet) failure(ctx context.Context, event AttemptEvent) {
	for _, hook := range s {
		hook.OnFailure(ctx, event)
	}
}

func (s hookSet) retry(ctx context.Context, event AttemptEvent) {
	for _, hook := range s {
		hook.OnRetry(ctx, event)
	}
}
