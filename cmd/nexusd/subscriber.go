package main

import (
	"github.com/nexuslabs/nexus/pkg/eventlog"
	"github.com/nexuslabs/nexus/pkg/subscription"
)

// subscriberAdapter satisfies eventlog.Subscriber over a
// *subscription.Manager. Manager.Publish returns the count of connections
// it dispatched to, for its own tests and stats; the event log has no use
// for that count, so this adapter discards it.
type subscriberAdapter struct {
	mgr *subscription.Manager
}

func (a *subscriberAdapter) Publish(event eventlog.Event) {
	a.mgr.Publish(event)
}
