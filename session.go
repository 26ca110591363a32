package mqttc

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrSessionStore wraps persistence failures surfaced by a SessionStore.
var ErrSessionStore = errors.New("session store error")

// SubscriptionOptions holds the v5 per-subscription options persisted with
// a session. Nil options mean a v3.1.1 subscription.
type SubscriptionOptions struct {
	NoLocal           bool `json:"no_local,omitempty"`
	RetainAsPublished bool `json:"retain_as_published,omitempty"`
	RetainHandling    byte `json:"retain_handling,omitempty"`
}

// SessionSubscription is one persisted subscription entry. QoS is the
// granted QoS from SUBACK, not the requested one.
type SessionSubscription struct {
	QoS     byte                 `json:"qos"`
	Options *SubscriptionOptions `json:"options"`
}

// SessionState is the snapshot persisted between connections: the
// subscription registry, the packet IDs of QoS 2 exchanges in the PUBREL
// phase, and the save timestamp. SavedAt is always positive after a save.
type SessionState struct {
	Subscriptions map[string]SessionSubscription `json:"subscriptions"`
	PendingQoS2   []uint16                       `json:"pending_qos2"`
	SavedAt       int64                          `json:"saved_at"`
}

// NewSessionState creates an empty snapshot.
func NewSessionState() *SessionState {
	return &SessionState{
		Subscriptions: make(map[string]SessionSubscription),
	}
}

// Stamp sets SavedAt to the current unix second.
func (s *SessionState) Stamp() {
	s.SavedAt = time.Now().Unix()
}

// Age returns how long ago the snapshot was saved.
func (s *SessionState) Age() time.Duration {
	if s.SavedAt <= 0 {
		return 0
	}
	return time.Since(time.Unix(s.SavedAt, 0))
}

// IsEmpty reports whether the snapshot carries no state worth persisting.
func (s *SessionState) IsEmpty() bool {
	return len(s.Subscriptions) == 0 && len(s.PendingQoS2) == 0
}

// SessionStore persists session snapshots between connections. A partially
// written snapshot must never load back as valid; implementations are
// expected to write atomically with respect to crash. Stores may be shared
// with application code, but the client serialises its own calls per
// client ID.
type SessionStore interface {
	// Save persists the snapshot for a client ID.
	Save(clientID string, state *SessionState) error

	// Load returns the snapshot for a client ID, or nil when none exists
	// (or the stored one has expired).
	Load(clientID string) (*SessionState, error)

	// Delete removes the snapshot for a client ID. Deleting a missing
	// snapshot is not an error.
	Delete(clientID string) error

	// Exists reports whether a snapshot is stored for a client ID.
	Exists(clientID string) (bool, error)

	// Cleanup removes every expired snapshot and returns the count.
	Cleanup() (int, error)
}

// subscriptionRegistry is the client's live subscription table. Filters are
// unique; insertion order is preserved so restores are deterministic.
type subscriptionRegistry struct {
	mu      sync.Mutex
	order   []string
	entries map[string]Subscription
}

func newSubscriptionRegistry() *subscriptionRegistry {
	return &subscriptionRegistry{entries: make(map[string]Subscription)}
}

// set adds or updates a subscription, keeping first-insertion order.
func (r *subscriptionRegistry) set(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[sub.Filter]; !ok {
		r.order = append(r.order, sub.Filter)
	}
	r.entries[sub.Filter] = sub
}

func (r *subscriptionRegistry) remove(filter string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[filter]; !ok {
		return false
	}
	delete(r.entries, filter)
	for i, f := range r.order {
		if f == filter {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *subscriptionRegistry) get(filter string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.entries[filter]
	return sub, ok
}

// all returns the subscriptions in insertion order.
func (r *subscriptionRegistry) all() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := make([]Subscription, 0, len(r.order))
	for _, f := range r.order {
		subs = append(subs, r.entries[f])
	}
	return subs
}

func (r *subscriptionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *subscriptionRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.entries = make(map[string]Subscription)
}

// snapshot converts the registry to its persisted form.
func (r *subscriptionRegistry) snapshot(version ProtocolVersion) map[string]SessionSubscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]SessionSubscription, len(r.entries))
	for f, sub := range r.entries {
		entry := SessionSubscription{QoS: sub.QoS}
		if version.Is5() {
			entry.Options = &SubscriptionOptions{
				NoLocal:           sub.NoLocal,
				RetainAsPublished: sub.RetainAsPublished,
				RetainHandling:    sub.RetainHandling,
			}
		}
		out[f] = entry
	}
	return out
}

// restore replaces the registry contents from a persisted snapshot.
// Filters load in sorted order since the JSON object carries none.
func (r *subscriptionRegistry) restore(subs map[string]SessionSubscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.order = nil
	r.entries = make(map[string]Subscription, len(subs))

	filters := make([]string, 0, len(subs))
	for f := range subs {
		filters = append(filters, f)
	}
	sort.Strings(filters)

	for _, f := range filters {
		entry := subs[f]
		sub := Subscription{Filter: f, QoS: entry.QoS}
		if entry.Options != nil {
			sub.NoLocal = entry.Options.NoLocal
			sub.RetainAsPublished = entry.Options.RetainAsPublished
			sub.RetainHandling = entry.Options.RetainHandling
		}
		r.order = append(r.order, f)
		r.entries[f] = sub
	}
}
