package mqttc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketIDAllocateSequential(t *testing.T) {
	m := NewPacketIDManager()

	id1, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id1)

	id2, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(2), id2)

	// Releasing 1 does not disturb the forward march; 3 comes next.
	require.NoError(t, m.Release(id1))
	id3, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(3), id3)
}

func TestPacketIDUniqueness(t *testing.T) {
	m := NewPacketIDManager()
	seen := make(map[uint16]bool)

	for i := 0; i < 1000; i++ {
		id, err := m.Allocate()
		require.NoError(t, err)
		assert.False(t, seen[id], "id %d handed out twice", id)
		assert.NotZero(t, id)
		seen[id] = true
	}
	assert.Equal(t, 1000, m.InUse())
}

func TestPacketIDExhaustion(t *testing.T) {
	m := NewPacketIDManager()

	for i := 0; i < 65535; i++ {
		_, err := m.Allocate()
		require.NoError(t, err)
	}

	_, err := m.Allocate()
	assert.ErrorIs(t, err, ErrPacketIDExhausted)

	require.NoError(t, m.Release(40000))
	id, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(40000), id)
}

func TestPacketIDClaim(t *testing.T) {
	m := NewPacketIDManager()

	require.NoError(t, m.Claim(42))
	assert.True(t, m.IsUsed(42))
	assert.ErrorIs(t, m.Claim(42), ErrPacketIDExhausted)
	assert.ErrorIs(t, m.Claim(0), ErrPacketIDNotFound)

	// The allocator skips a claimed id.
	for i := 0; i < 41; i++ {
		id, err := m.Allocate()
		require.NoError(t, err)
		assert.NotEqual(t, uint16(42), id)
	}
	id, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(43), id)
}

func TestPacketIDReleaseUnknown(t *testing.T) {
	m := NewPacketIDManager()
	assert.ErrorIs(t, m.Release(7), ErrPacketIDNotFound)
}

func TestPacketIDReset(t *testing.T) {
	m := NewPacketIDManager()
	for i := 0; i < 10; i++ {
		_, err := m.Allocate()
		require.NoError(t, err)
	}

	m.Reset()
	assert.Zero(t, m.InUse())

	id, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), id)
}
