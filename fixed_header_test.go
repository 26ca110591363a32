package mqttc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedHeaderRoundTrip(t *testing.T) {
	header := FixedHeader{
		PacketType:      PacketPUBLISH,
		Flags:           0x0B, // DUP, QoS 1, RETAIN
		RemainingLength: 321,
	}

	var buf bytes.Buffer
	n, err := header.Encode(&buf)
	require.NoError(t, err)
	assert.Equal(t, header.Size(), n)

	var decoded FixedHeader
	n2, err := decoded.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, n, n2)
	assert.Equal(t, header, decoded)
}

func TestFixedHeaderRejectsTypeZero(t *testing.T) {
	var decoded FixedHeader
	_, err := decoded.Decode(bytes.NewReader([]byte{0x00, 0x00}))
	assert.ErrorIs(t, err, ErrInvalidPacketType)
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name   string
		header FixedHeader
		ok     bool
	}{
		{"publish qos1", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x02}, true},
		{"publish qos3", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x06}, false},
		{"pubrel correct", FixedHeader{PacketType: PacketPUBREL, Flags: 0x02}, true},
		{"pubrel wrong", FixedHeader{PacketType: PacketPUBREL, Flags: 0x00}, false},
		{"subscribe correct", FixedHeader{PacketType: PacketSUBSCRIBE, Flags: 0x02}, true},
		{"connect zero", FixedHeader{PacketType: PacketCONNECT, Flags: 0x00}, true},
		{"connect nonzero", FixedHeader{PacketType: PacketCONNECT, Flags: 0x01}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.header.ValidateFlags()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPacketFlags)
			}
		})
	}
}

func TestPublishFlagAccessors(t *testing.T) {
	var h FixedHeader
	h.PacketType = PacketPUBLISH

	h.SetDUP(true)
	h.SetQoS(2)
	h.SetRetain(true)

	assert.True(t, h.DUP())
	assert.Equal(t, byte(2), h.QoS())
	assert.True(t, h.Retain())
	assert.Equal(t, byte(0x0D), h.Flags)

	h.SetDUP(false)
	h.SetQoS(1)
	h.SetRetain(false)
	assert.Equal(t, byte(0x02), h.Flags)
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "CONNECT", PacketCONNECT.String())
	assert.Equal(t, "AUTH", PacketAUTH.String())
	assert.Equal(t, "UNKNOWN", PacketType(0).String())
}
