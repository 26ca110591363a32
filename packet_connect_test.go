package mqttc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, packet Packet, version ProtocolVersion) Packet {
	t.Helper()

	var buf bytes.Buffer
	encoded, err := packet.Encode(&buf, version)
	require.NoError(t, err)

	decoded, n, err := ReadPacket(&buf, version, 0)
	require.NoError(t, err)
	assert.Equal(t, encoded, n)
	assert.Zero(t, buf.Len(), "decoder left bytes behind")
	return decoded
}

func TestConnectRoundTripV5(t *testing.T) {
	connect := &ConnectPacket{
		ClientID:   "sensor-1",
		CleanStart: true,
		KeepAlive:  30,
		Username:   "alice",
		Password:   []byte("secret"),
	}
	connect.Props.Set(PropSessionExpiryInterval, uint32(120))
	connect.Props.Set(PropReceiveMaximum, uint16(10))

	decoded := roundTrip(t, connect, ProtocolV50).(*ConnectPacket)

	assert.Equal(t, "sensor-1", decoded.ClientID)
	assert.True(t, decoded.CleanStart)
	assert.Equal(t, uint16(30), decoded.KeepAlive)
	assert.Equal(t, "alice", decoded.Username)
	assert.Equal(t, []byte("secret"), decoded.Password)
	assert.Equal(t, uint32(120), decoded.Props.GetUint32(PropSessionExpiryInterval))
}

func TestConnectRoundTripV311(t *testing.T) {
	connect := &ConnectPacket{
		ClientID:   "test-A",
		CleanStart: true,
		KeepAlive:  60,
	}

	var buf bytes.Buffer
	_, err := connect.Encode(&buf, ProtocolV311)
	require.NoError(t, err)

	// Protocol level byte is 4 for v3.1.1.
	raw := buf.Bytes()
	assert.Equal(t, byte(4), raw[8])

	decoded, _, err := ReadPacket(&buf, ProtocolV311, 0)
	require.NoError(t, err)
	assert.Equal(t, "test-A", decoded.(*ConnectPacket).ClientID)
}

func TestConnectWithWill(t *testing.T) {
	connect := &ConnectPacket{
		ClientID:    "c",
		CleanStart:  true,
		KeepAlive:   10,
		WillFlag:    true,
		WillTopic:   "status/c",
		WillPayload: []byte("offline"),
		WillQoS:     1,
		WillRetain:  true,
	}
	connect.WillProps.Set(PropWillDelayInterval, uint32(5))

	decoded := roundTrip(t, connect, ProtocolV50).(*ConnectPacket)

	assert.True(t, decoded.WillFlag)
	assert.Equal(t, "status/c", decoded.WillTopic)
	assert.Equal(t, []byte("offline"), decoded.WillPayload)
	assert.Equal(t, byte(1), decoded.WillQoS)
	assert.True(t, decoded.WillRetain)
	assert.Equal(t, uint32(5), decoded.WillProps.GetUint32(PropWillDelayInterval))
}

func TestConnectValidation(t *testing.T) {
	// v3.1.1 needs a client ID when the session is persistent.
	connect := &ConnectPacket{CleanStart: false}
	assert.ErrorIs(t, connect.Validate(ProtocolV311), ErrClientIDRequired)

	// v5 allows an empty ID even with clean start off.
	assert.NoError(t, connect.Validate(ProtocolV50))

	// Properties do not exist in v3.1.1.
	withProps := &ConnectPacket{ClientID: "c", CleanStart: true}
	withProps.Props.Set(PropReceiveMaximum, uint16(1))
	assert.ErrorIs(t, withProps.Validate(ProtocolV311), ErrPropertiesUnsupported)
}

func TestConnackScenarioBytes(t *testing.T) {
	// CONNACK 0x20 0x02 0x00 0x00: accepted, no session present.
	raw := []byte{0x20, 0x02, 0x00, 0x00}

	decoded, n, err := ReadPacket(bytes.NewReader(raw), ProtocolV311, 0)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)

	connack := decoded.(*ConnackPacket)
	assert.False(t, connack.SessionPresent)
	assert.Equal(t, ReasonCode(0), connack.ReasonCode)
}

func TestConnackRoundTripV5(t *testing.T) {
	connack := &ConnackPacket{SessionPresent: true, ReasonCode: ReasonSuccess}
	connack.Props.Set(PropAssignedClientIdentifier, "srv-42")
	connack.Props.Set(PropServerKeepAlive, uint16(15))
	connack.Props.Set(PropReceiveMaximum, uint16(5))
	connack.Props.Set(PropTopicAliasMaximum, uint16(8))

	decoded := roundTrip(t, connack, ProtocolV50).(*ConnackPacket)

	assert.True(t, decoded.SessionPresent)
	assert.Equal(t, "srv-42", decoded.Props.GetString(PropAssignedClientIdentifier))
	assert.Equal(t, uint16(15), decoded.Props.GetUint16(PropServerKeepAlive))
	assert.Equal(t, uint16(5), decoded.Props.GetUint16(PropReceiveMaximum))
	assert.Equal(t, uint16(8), decoded.Props.GetUint16(PropTopicAliasMaximum))
}

func TestConnackRefusedHasNoSession(t *testing.T) {
	connack := &ConnackPacket{SessionPresent: true, ReasonCode: ReasonNotAuthorized}
	assert.ErrorIs(t, connack.Validate(ProtocolV50), ErrInvalidConnackFlags)
}
