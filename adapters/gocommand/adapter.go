package gocommand

import (
	"context"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	"github.com/goliatone/go-billing-webhooks/core"
)

// QueueResolverKey is the resolver name used when billing commands are
// mirrored into a go-job queue registry.
const QueueResolverKey = "queue"

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return core.WrapInvalidPayload(err, "gocommand: message validation failed", nil)
	}
	m, ok := msg.(command.Message)
	if !ok {
		return core.InvalidPayload("gocommand: message must implement Type() string", nil)
	}
	if strings.TrimSpace(m.Type()) == "" {
		return core.InvalidPayload("gocommand: message type is required", nil)
	}
	return nil
}

// RegistryAdapter owns the go-command registry the billing handlers are
// registered on.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) configured() error {
	if a == nil || a.registry == nil {
		return core.Internal("gocommand: registry is not configured", nil)
	}
	return nil
}

// RegisterCommand registers a commander or querier; go-command keeps both in
// the same registry.
func (a *RegistryAdapter) RegisterCommand(handler any) error {
	if err := a.configured(); err != nil {
		return err
	}
	return a.registry.RegisterCommand(handler)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if err := a.configured(); err != nil {
		return err
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors every registered command into a go-job registry
// so workers can run them by message type.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return core.Internal("gocommand: queue registry is required", nil)
	}
	if strings.TrimSpace(key) == "" {
		key = QueueResolverKey
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a.configured() != nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if err := a.configured(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterAndSubscribe wires cmd into the dispatcher and the registry. The
// subscription is dropped again when registration fails.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, core.Internal("gocommand: command is required", nil)
	}
	return subscribeAndRegister(adapter, cmd, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	})
}

// RegisterAndSubscribeQuery is RegisterAndSubscribe for queriers.
func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, core.Internal("gocommand: query is required", nil)
	}
	return subscribeAndRegister(adapter, qry, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	})
}

func subscribeAndRegister(
	adapter *RegistryAdapter,
	handler any,
	subscribe func() commanddispatcher.Subscription,
) (commanddispatcher.Subscription, error) {
	if err := adapter.configured(); err != nil {
		return nil, err
	}
	subscription := subscribe()
	if err := adapter.RegisterCommand(handler); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}
