package mqttc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomyUnwrapping(t *testing.T) {
	connErr := &ConnectError{ReasonCode: ReasonBanned}
	assert.ErrorIs(t, connErr, ErrConnectionRefused)
	assert.Contains(t, connErr.Error(), "0x8A")

	remote := &DisconnectError{ReasonCode: ReasonServerBusy, Remote: true}
	assert.ErrorIs(t, remote, ErrServerDisconnect)

	local := &DisconnectError{ReasonCode: ReasonSuccess}
	assert.ErrorIs(t, local, ErrDisconnected)

	lost := &ConnectionLostError{Cause: errors.New("broken pipe")}
	assert.ErrorIs(t, lost, ErrConnectionLost)
	assert.Contains(t, lost.Error(), "broken pipe")

	event := &ServerDisconnectEvent{Packet: &DisconnectPacket{ReasonCode: ReasonSessionTakenOver}}
	assert.ErrorIs(t, event, ErrServerDisconnect)
}

func TestTimeoutErrorShape(t *testing.T) {
	err := &TimeoutError{Operation: "publish", Elapsed: 5 * time.Second}
	assert.True(t, err.Timeout())
	assert.Contains(t, err.Error(), "publish")

	var timeout interface{ Timeout() bool }
	require.ErrorAs(t, error(err), &timeout)
	assert.True(t, timeout.Timeout())
}

func TestEventExtraction(t *testing.T) {
	var events []error
	events = append(events,
		&ConnectedEvent{SessionPresent: true},
		&ReconnectEvent{Attempt: 2, MaxAttempts: 10, Delay: time.Second},
	)

	var connected *ConnectedEvent
	require.True(t, errors.As(events[0], &connected))
	assert.True(t, connected.SessionPresent)
	assert.ErrorIs(t, events[0], ErrConnected)

	var reconnect *ReconnectEvent
	require.True(t, errors.As(events[1], &reconnect))
	assert.Equal(t, 2, reconnect.Attempt)
	assert.ErrorIs(t, events[1], ErrReconnecting)
}

func TestReasonCodePredicates(t *testing.T) {
	assert.True(t, ReasonSessionTakenOver.IsError())
	assert.False(t, ReasonSuccess.IsError())
	assert.True(t, ReasonGrantedQoS2.IsSuccess())
	assert.Equal(t, "Topic Alias invalid", ReasonTopicAliasInvalid.String())
	assert.Equal(t, "Unknown reason code", ReasonCode(0x7E).String())
}
