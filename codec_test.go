package mqttc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allPacketKinds returns one representative of every control packet kind,
// with v5 properties attached where the packet admits them.
func allPacketKinds(withProps bool) []Packet {
	connect := &ConnectPacket{ClientID: "cid", CleanStart: true, KeepAlive: 30,
		Username: "u", Password: []byte("p")}
	connack := &ConnackPacket{SessionPresent: true, ReasonCode: ReasonSuccess}
	publish := &PublishPacket{Topic: "a/b", Payload: []byte("pl"), QoS: 1, PacketID: 10}
	puback := &PubackPacket{PacketID: 10}
	pubrec := &PubrecPacket{PacketID: 11}
	pubrel := &PubrelPacket{PacketID: 11}
	pubcomp := &PubcompPacket{PacketID: 11}
	subscribe := &SubscribePacket{PacketID: 12,
		Subscriptions: []Subscription{{Filter: "a/+", QoS: 1}}}
	suback := &SubackPacket{PacketID: 12, ReasonCodes: []ReasonCode{ReasonGrantedQoS1}}
	unsubscribe := &UnsubscribePacket{PacketID: 13, TopicFilters: []string{"a/+"}}
	unsuback := &UnsubackPacket{PacketID: 13, ReasonCodes: []ReasonCode{ReasonSuccess}}
	disconnect := &DisconnectPacket{ReasonCode: ReasonSuccess}

	if withProps {
		connect.Props.Set(PropSessionExpiryInterval, uint32(60))
		connack.Props.Set(PropReceiveMaximum, uint16(100))
		publish.Props.Add(PropUserProperty, StringPair{Key: "k", Value: "v"})
		puback.ReasonCode = ReasonNoMatchingSubscribers
		subscribe.Props.Add(PropSubscriptionIdentifier, uint32(3))
		disconnect.Props.Set(PropReasonString, "bye")
		disconnect.ReasonCode = ReasonDisconnectWithWill
	}

	return []Packet{
		connect, connack, publish, puback, pubrec, pubrel, pubcomp,
		subscribe, suback, unsubscribe, unsuback,
		&PingreqPacket{}, &PingrespPacket{}, disconnect,
	}
}

func TestEveryPacketKindRoundTripsV5(t *testing.T) {
	packets := allPacketKinds(true)
	packets = append(packets, func() Packet {
		auth := &AuthPacket{ReasonCode: ReasonContinueAuth}
		auth.Props.Set(PropAuthenticationMethod, "SCRAM-SHA-256")
		return auth
	}())

	for _, packet := range packets {
		t.Run(packet.Type().String(), func(t *testing.T) {
			var buf bytes.Buffer
			_, err := packet.Encode(&buf, ProtocolV50)
			require.NoError(t, err)

			wire := append([]byte(nil), buf.Bytes()...)
			decoded, _, err := ReadPacket(&buf, ProtocolV50, 0)
			require.NoError(t, err)
			assert.Equal(t, packet.Type(), decoded.Type())

			// Re-encoding the decoded packet reproduces the bytes.
			var buf2 bytes.Buffer
			_, err = decoded.Encode(&buf2, ProtocolV50)
			require.NoError(t, err)
			assert.Equal(t, wire, buf2.Bytes())
		})
	}
}

func TestEveryPacketKindRoundTripsV311(t *testing.T) {
	for _, packet := range allPacketKinds(false) {
		t.Run(packet.Type().String(), func(t *testing.T) {
			var buf bytes.Buffer
			_, err := packet.Encode(&buf, ProtocolV311)
			require.NoError(t, err)

			wire := append([]byte(nil), buf.Bytes()...)
			decoded, _, err := ReadPacket(&buf, ProtocolV311, 0)
			require.NoError(t, err)
			assert.Equal(t, packet.Type(), decoded.Type())

			var buf2 bytes.Buffer
			_, err = decoded.Encode(&buf2, ProtocolV311)
			require.NoError(t, err)
			assert.Equal(t, wire, buf2.Bytes())
		})
	}
}

func TestReadPacketTruncatedBody(t *testing.T) {
	// Header promises 5 bytes, body carries 2.
	_, _, err := ReadPacket(bytes.NewReader([]byte{0x30, 0x05, 0x00, 0x01}), ProtocolV50, 0)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestReadPacketClassifiesMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
	}{
		{"reserved packet type", []byte{0x00, 0x00}},
		{"publish qos 3 flags", []byte{0x36, 0x02, 0x00, 0x00}},
		{"pubrel wrong flags", []byte{0x60, 0x02, 0x00, 0x07}},
		{"unknown property id", []byte{0x30, 0x06, 0x00, 0x01, 't', 0x02, 0x7F, 0x00}},
		{"connack reserved flags", []byte{0x20, 0x02, 0x02, 0x00}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadPacket(bytes.NewReader(tt.raw), ProtocolV50, 0)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}

	// A clean EOF before any header byte is a transport condition, not a
	// malformed packet.
	_, _, err := ReadPacket(bytes.NewReader(nil), ProtocolV50, 0)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedPacket)

	// An unknown packet type carries both classifications.
	_, _, err = ReadPacket(bytes.NewReader([]byte{0xF0, 0x00}), ProtocolV311, 0)
	assert.ErrorIs(t, err, ErrUnknownPacketType)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestReadPacketInvalidVersion(t *testing.T) {
	_, _, err := ReadPacket(bytes.NewReader([]byte{0xC0, 0x00}), ProtocolVersion(3), 0)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}
