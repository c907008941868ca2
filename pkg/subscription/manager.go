package subscription

import (
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/nexuslabs/nexus/pkg/eventlog"
)

// Update names one subscription that matched an event, for inclusion in a
// BatchUpdate's Updates list.
type Update struct {
	SubscriptionID string `json:"subscription_id"`
	QueryID        string `json:"query_id,omitempty"`
}

// BatchUpdate is the single message dispatched per affected connection,
// per spec §4.14: one event, the subscriptions on that connection it
// matched, and the commit the event belongs to.
type BatchUpdate struct {
	CommitID  uint64        `json:"commit_id"`
	Timestamp time.Time     `json:"timestamp"`
	Event     eventlog.Event `json:"event"`
	Updates   []Update      `json:"updates"`
}

// Dispatcher delivers a BatchUpdate to a live connection. Implemented by
// whatever transport holds the actual socket; returning an error signals
// that delivery failed and the connection should be torn down.
type Dispatcher interface {
	Dispatch(connectionID string, batch BatchUpdate) error
}

// Stats mirrors the counters the original WebSocket manager exposes for
// operational visibility.
type Stats struct {
	ActiveSubscriptions int
	TotalMessagesSent   uint64
	FailedDispatches    uint64
	ConnectionsCleaned  uint64
}

// Manager is the Subscription Manager: it holds every live Subscription
// and ReadSet, and on Publish groups the ones an event affects by
// connection and dispatches one batch per connection, in commit order.
type Manager struct {
	mu sync.RWMutex

	subs        map[string]Subscription   // subscription_id -> Subscription
	byConn      map[string]map[string]struct{} // connection_id -> set of subscription_id
	readSets    map[string]*ReadSet       // query_id -> ReadSet

	dispatcher Dispatcher
	// lastCommit tracks the highest commit_id dispatched per connection,
	// so a Dispatcher backed by an unordered transport can still detect
	// an out-of-order delivery bug during testing.
	lastCommit map[string]uint64

	stats Stats
}

// NewManager builds a Manager. dispatcher may be nil, in which case
// Publish computes batches but delivers nothing (useful for tests that
// only assert on FindAffected).
func NewManager(dispatcher Dispatcher) *Manager {
	return &Manager{
		subs:       make(map[string]Subscription),
		byConn:     make(map[string]map[string]struct{}),
		readSets:   make(map[string]*ReadSet),
		lastCommit: make(map[string]uint64),
		dispatcher: dispatcher,
	}
}

// Register adds a subscription. For read_set mode, readSet must be
// supplied (and is stored under sub.QueryID) so future events can be
// compared against the revisions it observed.
func (m *Manager) Register(sub Subscription, readSet *ReadSet) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subs[sub.SubscriptionID] = sub
	if m.byConn[sub.ConnectionID] == nil {
		m.byConn[sub.ConnectionID] = make(map[string]struct{})
	}
	m.byConn[sub.ConnectionID][sub.SubscriptionID] = struct{}{}

	if sub.Mode == ModeReadSet && readSet != nil {
		m.readSets[sub.QueryID] = readSet
	}
	m.stats.ActiveSubscriptions = len(m.subs)
}

// Unregister removes a single subscription.
func (m *Manager) Unregister(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unregisterLocked(subscriptionID)
}

func (m *Manager) unregisterLocked(subscriptionID string) {
	sub, ok := m.subs[subscriptionID]
	if !ok {
		return
	}
	delete(m.subs, subscriptionID)
	if conns := m.byConn[sub.ConnectionID]; conns != nil {
		delete(conns, subscriptionID)
		if len(conns) == 0 {
			delete(m.byConn, sub.ConnectionID)
		}
	}
	m.stats.ActiveSubscriptions = len(m.subs)
}

// CleanupConnection removes every subscription registered on
// connectionID, e.g. after a failed dispatch or explicit disconnect.
func (m *Manager) CleanupConnection(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for subID := range m.byConn[connectionID] {
		delete(m.subs, subID)
	}
	delete(m.byConn, connectionID)
	delete(m.lastCommit, connectionID)
	m.stats.ActiveSubscriptions = len(m.subs)
	m.stats.ConnectionsCleaned++
}

// FindAffected returns every subscription event affects, independent of
// connection grouping. Exported for tests and for callers that want the
// raw match set without dispatch.
func (m *Manager) FindAffected(event eventlog.Event) []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Subscription
	for _, sub := range m.subs {
		if sub.ZoneID != event.ZoneID {
			continue
		}
		switch sub.Mode {
		case ModeReadSet:
			if m.matchesReadSet(sub, event) {
				matched = append(matched, sub)
			}
		default:
			if matchesPattern(sub, event) {
				matched = append(matched, sub)
			}
		}
	}
	return matched
}

func (m *Manager) matchesReadSet(sub Subscription, event eventlog.Event) bool {
	rs, ok := m.readSets[sub.QueryID]
	if !ok || event.Path == "" {
		return false
	}
	observedRev, ok := rs.observes(eventEntityType, event.Path)
	if !ok {
		return false
	}
	return event.Revision > observedRev
}

func matchesPattern(sub Subscription, event eventlog.Event) bool {
	if len(sub.EventTypes) > 0 {
		found := false
		for _, t := range sub.EventTypes {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(sub.Patterns) == 0 {
		return true
	}
	for _, pattern := range sub.Patterns {
		if ok, _ := doublestar.Match(pattern, event.Path); ok {
			return true
		}
	}
	return false
}

// Publish groups every subscription event affects by connection_id and
// dispatches one BatchUpdate per connection. A Dispatch error tears down
// that connection's subscriptions (spec §4.14: "failed dispatches trigger
// connection cleanup") and does not stop delivery to the other
// connections. Returns the number of connections successfully dispatched
// to.
func (m *Manager) Publish(event eventlog.Event) int {
	affected := m.FindAffected(event)
	if len(affected) == 0 {
		return 0
	}

	byConn := make(map[string][]Update, len(affected))
	for _, sub := range affected {
		byConn[sub.ConnectionID] = append(byConn[sub.ConnectionID], Update{
			SubscriptionID: sub.SubscriptionID,
			QueryID:        sub.QueryID,
		})
	}

	// Deterministic connection order keeps dispatch (and therefore test
	// assertions on a fake Dispatcher) reproducible.
	connIDs := make([]string, 0, len(byConn))
	for connID := range byConn {
		connIDs = append(connIDs, connID)
	}
	sort.Strings(connIDs)

	sent := 0
	for _, connID := range connIDs {
		batch := BatchUpdate{
			CommitID:  event.CommitID,
			Timestamp: event.Timestamp,
			Event:     event,
			Updates:   byConn[connID],
		}
		if m.dispatcher == nil {
			sent++
			continue
		}
		if err := m.dispatcher.Dispatch(connID, batch); err != nil {
			m.mu.Lock()
			m.stats.FailedDispatches++
			m.mu.Unlock()
			m.CleanupConnection(connID)
			continue
		}
		m.mu.Lock()
		m.lastCommit[connID] = batch.CommitID
		m.stats.TotalMessagesSent++
		m.mu.Unlock()
		sent++
	}
	return sent
}

// Stats returns a snapshot of operational counters.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
