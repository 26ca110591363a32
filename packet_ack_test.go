package mqttc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubackWireLayoutV311(t *testing.T) {
	// PUBACK is packet id only on v3.1.1: 0x40 0x02 <id hi> <id lo>.
	ack := &PubackPacket{PacketID: 0x0102}

	var buf bytes.Buffer
	_, err := ack.Encode(&buf, ProtocolV311)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x02, 0x01, 0x02}, buf.Bytes())
}

func TestPubackSuccessShortFormV5(t *testing.T) {
	// A success ack with no properties omits the reason code byte.
	ack := &PubackPacket{PacketID: 3, ReasonCode: ReasonSuccess}

	var buf bytes.Buffer
	_, err := ack.Encode(&buf, ProtocolV50)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x02, 0x00, 0x03}, buf.Bytes())

	decoded, _, err := ReadPacket(bytes.NewReader(buf.Bytes()), ProtocolV50, 0)
	require.NoError(t, err)
	assert.Equal(t, ReasonSuccess, decoded.(*PubackPacket).ReasonCode)
}

func TestPubackScenarioBytes(t *testing.T) {
	// Injected PUBACK: 0x40 0x03 <id hi> <id lo> 0x00.
	raw := []byte{0x40, 0x03, 0x00, 0x01, 0x00}

	decoded, _, err := ReadPacket(bytes.NewReader(raw), ProtocolV50, 0)
	require.NoError(t, err)

	ack := decoded.(*PubackPacket)
	assert.Equal(t, uint16(1), ack.PacketID)
	assert.Equal(t, ReasonSuccess, ack.ReasonCode)
}

func TestAckRoundTripWithReasonAndProps(t *testing.T) {
	rec := &PubrecPacket{PacketID: 5, ReasonCode: ReasonNoMatchingSubscribers}
	rec.Props.Set(PropReasonString, "nobody listening")

	decoded := roundTrip(t, rec, ProtocolV50).(*PubrecPacket)
	assert.Equal(t, uint16(5), decoded.PacketID)
	assert.Equal(t, ReasonNoMatchingSubscribers, decoded.ReasonCode)
	assert.Equal(t, "nobody listening", decoded.Props.GetString(PropReasonString))
}

func TestPubrelFlagsAreFixed(t *testing.T) {
	rel := &PubrelPacket{PacketID: 7}

	var buf bytes.Buffer
	_, err := rel.Encode(&buf, ProtocolV50)
	require.NoError(t, err)
	assert.Equal(t, byte(0x62), buf.Bytes()[0])

	// PUBREL with flags 0x00 is malformed.
	_, _, err = ReadPacket(bytes.NewReader([]byte{0x60, 0x02, 0x00, 0x07}), ProtocolV50, 0)
	assert.ErrorIs(t, err, ErrInvalidPacketFlags)
}

func TestPubcompRoundTripBothVersions(t *testing.T) {
	for _, version := range []ProtocolVersion{ProtocolV311, ProtocolV50} {
		comp := &PubcompPacket{PacketID: 9}
		decoded := roundTrip(t, comp, version).(*PubcompPacket)
		assert.Equal(t, uint16(9), decoded.PacketID)
	}
}

func TestAckRejectsPacketIDZero(t *testing.T) {
	ack := &PubackPacket{PacketID: 0}
	var buf bytes.Buffer
	_, err := ack.Encode(&buf, ProtocolV50)
	assert.ErrorIs(t, err, ErrPacketIDRequired)

	_, _, err = ReadPacket(bytes.NewReader([]byte{0x40, 0x02, 0x00, 0x00}), ProtocolV50, 0)
	assert.ErrorIs(t, err, ErrPacketIDRequired)
}

func TestAckRejectsInvalidReason(t *testing.T) {
	rel := &PubrelPacket{PacketID: 1, ReasonCode: ReasonNotAuthorized}
	var buf bytes.Buffer
	_, err := rel.Encode(&buf, ProtocolV50)
	assert.ErrorIs(t, err, ErrInvalidReasonCode)
}

func TestPingRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	_, err := (&PingreqPacket{}).Encode(&buf, ProtocolV50)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC0, 0x00}, buf.Bytes())

	buf.Reset()
	_, err = (&PingrespPacket{}).Encode(&buf, ProtocolV311)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD0, 0x00}, buf.Bytes())

	decoded, _, err := ReadPacket(bytes.NewReader([]byte{0xD0, 0x00}), ProtocolV311, 0)
	require.NoError(t, err)
	assert.Equal(t, PacketPINGRESP, decoded.Type())
}
