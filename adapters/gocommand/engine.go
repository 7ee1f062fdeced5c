package gocommand

import (
	commanddispatcher "github.com/goliatone/go-command/dispatcher"

	billingcommand "github.com/goliatone/go-billing-webhooks/command"
	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/query"
)

// EngineDeps are the collaborators the billing commands and queries run on.
// Nil members skip the matching handlers.
type EngineDeps struct {
	Queue     billingcommand.EventQueue
	Processor billingcommand.SyncProcessor
	Releaser  billingcommand.ClaimReleaser
	Reader    query.RecordReader
	Lister    query.RecordLister
}

// Subscriptions unsubscribes a group of dispatcher subscriptions at once.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterEngine registers and subscribes the billing commands and queries.
// On error every subscription made so far is removed.
func RegisterEngine(adapter *RegistryAdapter, deps EngineDeps) (Subscriptions, error) {
	if err := adapter.configured(); err != nil {
		return nil, err
	}
	var subs Subscriptions
	fail := func(err error) (Subscriptions, error) {
		subs.Unsubscribe()
		return nil, err
	}

	if deps.Queue != nil {
		sub, err := RegisterAndSubscribe[billingcommand.QueueEventMessage](adapter, billingcommand.NewQueueEventCommand(deps.Queue))
		if err != nil {
			return fail(err)
		}
		subs = append(subs, sub)
	}
	if deps.Processor != nil {
		sub, err := RegisterAndSubscribe[billingcommand.ProcessEventMessage](adapter, billingcommand.NewProcessEventCommand(deps.Processor))
		if err != nil {
			return fail(err)
		}
		subs = append(subs, sub)
	}
	if deps.Releaser != nil {
		sub, err := RegisterAndSubscribe[billingcommand.ReleaseClaimMessage](adapter, billingcommand.NewReleaseClaimCommand(deps.Releaser))
		if err != nil {
			return fail(err)
		}
		subs = append(subs, sub)
	}
	if deps.Reader != nil {
		sub, err := RegisterAndSubscribeQuery[query.GetRecordMessage, core.IdempotencyRecord](adapter, query.NewGetRecordQuery(deps.Reader))
		if err != nil {
			return fail(err)
		}
		subs = append(subs, sub)
	}
	if deps.Lister != nil {
		sub, err := RegisterAndSubscribeQuery[query.ListRecordsMessage, []core.IdempotencyRecord](adapter, query.NewListRecordsQuery(deps.Lister))
		if err != nil {
			return fail(err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
