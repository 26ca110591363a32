package mqttc

import (
	"errors"
	"sync"
)

var (
	ErrPacketIDExhausted = errors.New("no available packet IDs")
	ErrPacketIDNotFound  = errors.New("packet ID not found")
)

// PacketIDManager allocates packet identifiers in [1, 65535] that are not
// currently in use by any outstanding QoS 1 or QoS 2 exchange. Allocation
// hands out the lowest free ID after the last allocated one, wrapping to 1,
// which keeps the distribution even and IDs out of recent use.
type PacketIDManager struct {
	mu   sync.Mutex
	used map[uint16]struct{}
	next uint16
}

// NewPacketIDManager creates a new packet ID manager.
func NewPacketIDManager() *PacketIDManager {
	return &PacketIDManager{
		used: make(map[uint16]struct{}),
		next: 1,
	}
}

// Allocate returns the next available packet ID. It fails with
// ErrPacketIDExhausted when all 65535 IDs are outstanding.
func (m *PacketIDManager) Allocate() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.used) >= maxUint16 {
		return 0, ErrPacketIDExhausted
	}

	start := m.next
	for {
		if _, ok := m.used[m.next]; !ok {
			id := m.next
			m.used[id] = struct{}{}
			m.next++
			if m.next == 0 {
				m.next = 1
			}
			return id, nil
		}
		m.next++
		if m.next == 0 {
			m.next = 1
		}
		if m.next == start {
			return 0, ErrPacketIDExhausted
		}
	}
}

// Claim marks a specific packet ID as in use, for restoring persisted
// sessions. Claiming an ID already in use returns ErrPacketIDExhausted.
func (m *PacketIDManager) Claim(id uint16) error {
	if id == 0 {
		return ErrPacketIDNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.used[id]; ok {
		return ErrPacketIDExhausted
	}
	m.used[id] = struct{}{}
	return nil
}

// Release returns a packet ID to the pool.
func (m *PacketIDManager) Release(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.used[id]; !ok {
		return ErrPacketIDNotFound
	}
	delete(m.used, id)
	return nil
}

// IsUsed returns true if the packet ID is currently in use.
func (m *PacketIDManager) IsUsed(id uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.used[id]
	return ok
}

// InUse returns the count of packet IDs currently in use.
func (m *PacketIDManager) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.used)
}

// Reset releases every packet ID and restarts allocation at 1.
func (m *PacketIDManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = make(map[uint16]struct{})
	m.next = 1
}
