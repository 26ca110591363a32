package mqttc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowControlBound(t *testing.T) {
	f := NewFlowController(3)

	for i := 0; i < 3; i++ {
		assert.True(t, f.TryAcquire())
	}
	assert.False(t, f.TryAcquire())
	assert.Equal(t, uint16(3), f.InFlight())
	assert.Equal(t, uint16(0), f.Available())

	for i := 0; i < 3; i++ {
		f.Release()
	}
	assert.Equal(t, uint16(0), f.InFlight())
	assert.Equal(t, uint16(3), f.Available())
}

func TestFlowControlZeroDefaults(t *testing.T) {
	f := NewFlowController(0)
	assert.Equal(t, uint16(65535), f.ReceiveMaximum())

	f.SetReceiveMaximum(0)
	assert.Equal(t, uint16(65535), f.ReceiveMaximum())
}

func TestFlowControlAcquireBlocksUntilRelease(t *testing.T) {
	f := NewFlowController(1)
	require.NoError(t, f.Acquire(context.Background(), time.Second))

	var wg sync.WaitGroup
	wg.Add(1)
	acquired := make(chan time.Time, 1)

	go func() {
		defer wg.Done()
		err := f.Acquire(context.Background(), 2*time.Second)
		assert.NoError(t, err)
		acquired <- time.Now()
	}()

	releasedAt := time.Now().Add(50 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	f.Release()

	wg.Wait()
	got := <-acquired
	assert.True(t, got.After(releasedAt.Add(-10*time.Millisecond)))
	assert.Equal(t, uint16(1), f.InFlight())
}

func TestFlowControlAcquireTimeout(t *testing.T) {
	f := NewFlowController(1)
	require.NoError(t, f.Acquire(context.Background(), time.Second))

	start := time.Now()
	err := f.Acquire(context.Background(), 60*time.Millisecond)
	assert.ErrorIs(t, err, ErrFlowControlTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFlowControlAcquireContextCancel(t *testing.T) {
	f := NewFlowController(1)
	require.NoError(t, f.Acquire(context.Background(), time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := f.Acquire(ctx, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFlowControlRaisingMaxWakesWaiter(t *testing.T) {
	f := NewFlowController(1)
	require.NoError(t, f.Acquire(context.Background(), time.Second))

	done := make(chan error, 1)
	go func() {
		done <- f.Acquire(context.Background(), 2*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	f.SetReceiveMaximum(2)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by raised receive maximum")
	}
}

func TestFlowControlReset(t *testing.T) {
	f := NewFlowController(5)
	for i := 0; i < 4; i++ {
		require.True(t, f.TryAcquire())
	}
	f.Reset()
	assert.Equal(t, uint16(0), f.InFlight())
}
