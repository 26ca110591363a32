package mqttc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintSpecBoundaries(t *testing.T) {
	// The exact byte sequences from the MQTT specification.
	tests := []struct {
		value uint32
		bytes []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{268435455, []byte{0xFF, 0xFF, 0xFF, 0x7F}},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		n, err := encodeVarint(&buf, tt.value)
		require.NoError(t, err)
		assert.Equal(t, len(tt.bytes), n)
		assert.Equal(t, tt.bytes, buf.Bytes(), "value %d", tt.value)

		decoded, n2, err := decodeVarint(bytes.NewReader(tt.bytes))
		require.NoError(t, err)
		assert.Equal(t, tt.value, decoded)
		assert.Equal(t, len(tt.bytes), n2)
	}
}

func TestVarintRejectsOverflow(t *testing.T) {
	var buf bytes.Buffer
	_, err := encodeVarint(&buf, 268435456)
	assert.ErrorIs(t, err, ErrVarintTooLarge)

	// A fourth byte with the continuation bit set, calling for a fifth,
	// is malformed.
	_, _, err = decodeVarint(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x7F}))
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestVarintSize(t *testing.T) {
	assert.Equal(t, 1, varintSize(0))
	assert.Equal(t, 1, varintSize(127))
	assert.Equal(t, 2, varintSize(128))
	assert.Equal(t, 2, varintSize(16383))
	assert.Equal(t, 3, varintSize(16384))
	assert.Equal(t, 4, varintSize(268435455))
}

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	n, err := encodeString(&buf, "sensors/temp")
	require.NoError(t, err)
	assert.Equal(t, 2+12, n)

	s, n2, err := decodeString(&buf)
	require.NoError(t, err)
	assert.Equal(t, "sensors/temp", s)
	assert.Equal(t, n, n2)
}

func TestStringRejectsInvalidUTF8(t *testing.T) {
	_, err := encodeString(&bytes.Buffer{}, string([]byte{0xFF, 0xFE}))
	assert.ErrorIs(t, err, ErrInvalidUTF8)

	_, _, err = decodeString(bytes.NewReader([]byte{0x00, 0x02, 0xFF, 0xFE}))
	assert.ErrorIs(t, err, ErrInvalidUTF8)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestStringRejectsNull(t *testing.T) {
	_, err := encodeString(&bytes.Buffer{}, "a\x00b")
	assert.ErrorIs(t, err, ErrStringContainsNull)
}

func TestBinaryRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}

	var buf bytes.Buffer
	_, err := encodeBinary(&buf, payload)
	require.NoError(t, err)

	decoded, _, err := decodeBinary(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestEmptyBinary(t *testing.T) {
	var buf bytes.Buffer
	_, err := encodeBinary(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, buf.Bytes())

	decoded, _, err := decodeBinary(&buf)
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestStringPairRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	_, err := encodeStringPair(&buf, StringPair{Key: "trace", Value: "abc"})
	require.NoError(t, err)

	pair, _, err := decodeStringPair(&buf)
	require.NoError(t, err)
	assert.Equal(t, StringPair{Key: "trace", Value: "abc"}, pair)
}

func TestIntegerRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	_, err := encodeUint16(&buf, 0xBEEF)
	require.NoError(t, err)
	v16, _, err := decodeUint16(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), v16)

	buf.Reset()
	_, err = encodeUint32(&buf, 0xDEADBEEF)
	require.NoError(t, err)
	v32, _, err := decodeUint32(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), v32)
}
