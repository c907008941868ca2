// Package subscription implements the Subscription Manager: reactive
// change notification over the Event Log, grouping matched subscriptions
// into one batch_update message per connection (spec §4.14).
package subscription

import "github.com/nexuslabs/nexus/pkg/eventlog"

// Mode selects how a Subscription decides whether an event is relevant.
type Mode string

const (
	ModePattern Mode = "pattern"
	ModeReadSet Mode = "read_set"
)

// Subscription is a client's registered interest in future events.
// Pattern subscriptions match a glob against the event path and an
// optional event-type allow-list. Read-set subscriptions match when any
// entity recorded in their ReadSet (by QueryID, via ReadSet.RecordRead)
// advances past the revision it was read at.
type Subscription struct {
	SubscriptionID string
	ConnectionID   string
	ZoneID         string
	Mode           Mode

	// Pattern mode.
	Patterns   []string
	EventTypes []eventlog.EventType

	// Read-set mode: QueryID keys the ReadSet the Manager was given at
	// Register.
	QueryID string
}

// readKey identifies one observed entity within a ReadSet.
type readKey struct {
	entityType string
	entityID   string
}

// ReadSet is the set of entities a query observed, each at the revision
// it was read at. A Subscription in read_set mode is notified when a
// later event advances any recorded entity past that revision.
type ReadSet struct {
	QueryID string
	ZoneID  string
	reads   map[readKey]uint64
}

// NewReadSet builds an empty ReadSet for queryID in zoneID.
func NewReadSet(queryID, zoneID string) *ReadSet {
	return &ReadSet{QueryID: queryID, ZoneID: zoneID, reads: make(map[readKey]uint64)}
}

// RecordRead notes that this query observed entity (entityType, entityID)
// at revision. A later record for the same entity overwrites the revision.
func (rs *ReadSet) RecordRead(entityType, entityID string, revision uint64) {
	rs.reads[readKey{entityType, entityID}] = revision
}

// observes reports whether this set has a recorded read for the entity,
// and if so, the revision it was read at.
func (rs *ReadSet) observes(entityType, entityID string) (uint64, bool) {
	rev, ok := rs.reads[readKey{entityType, entityID}]
	return rev, ok
}

// eventEntityType is the entity kind every eventlog.Event refers to.
// Nexus's event log only ever describes filesystem mutations, so every
// event's affected entity is a "file" keyed by its path; ReBAC mutation
// events carry no path and never match a read-set entry.
const eventEntityType = "file"
