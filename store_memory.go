package mqttc

import (
	"encoding/json"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements SessionStore.
var _ SessionStore = (*MemoryStore)(nil)

// MemoryStore keeps session snapshots in memory. Useful for tests and for
// clients that want session restoration across reconnects within one
// process without touching disk.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string][]byte
	expiry time.Duration
}

// NewMemoryStore creates an in-memory session store. A positive expiry is
// honoured on load the same way the file store does.
func NewMemoryStore(expiry time.Duration) *MemoryStore {
	return &MemoryStore{
		states: make(map[string][]byte),
		expiry: expiry,
	}
}

// Save persists the snapshot for a client ID.
func (m *MemoryStore) Save(clientID string, state *SessionState) error {
	state.Stamp()

	// Snapshots are stored serialized so later mutation of the caller's
	// state cannot leak into the store.
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[clientID] = data
	return nil
}

// Load returns the snapshot for a client ID, or nil when none exists.
func (m *MemoryStore) Load(clientID string) (*SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.states[clientID]
	if !ok {
		return nil, nil
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}

	if m.expiry > 0 && state.Age() > m.expiry {
		delete(m.states, clientID)
		return nil, nil
	}

	if state.Subscriptions == nil {
		state.Subscriptions = make(map[string]SessionSubscription)
	}

	return &state, nil
}

// Delete removes the snapshot for a client ID.
func (m *MemoryStore) Delete(clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, clientID)
	return nil
}

// Exists reports whether a snapshot is stored for a client ID.
func (m *MemoryStore) Exists(clientID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.states[clientID]
	return ok, nil
}

// Cleanup removes every expired snapshot.
func (m *MemoryStore) Cleanup() (int, error) {
	if m.expiry <= 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, data := range m.states {
		var state SessionState
		if err := json.Unmarshal(data, &state); err != nil || state.Age() > m.expiry {
			delete(m.states, id)
			removed++
		}
	}
	return removed, nil
}
