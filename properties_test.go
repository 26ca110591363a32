package mqttc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertiesRoundTrip(t *testing.T) {
	var p Properties
	p.Set(PropSessionExpiryInterval, uint32(300))
	p.Set(PropReceiveMaximum, uint16(20))
	p.Set(PropPayloadFormatIndicator, byte(1))
	p.Set(PropContentType, "application/json")
	p.Set(PropCorrelationData, []byte{0x01, 0x02})
	p.Add(PropUserProperty, StringPair{Key: "k1", Value: "v1"})
	p.Add(PropUserProperty, StringPair{Key: "k1", Value: "v2"})

	var buf bytes.Buffer
	_, err := p.Encode(&buf)
	require.NoError(t, err)

	var decoded Properties
	_, err = decoded.Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, uint32(300), decoded.GetUint32(PropSessionExpiryInterval))
	assert.Equal(t, uint16(20), decoded.GetUint16(PropReceiveMaximum))
	assert.Equal(t, byte(1), decoded.GetByte(PropPayloadFormatIndicator))
	assert.Equal(t, "application/json", decoded.GetString(PropContentType))
	assert.Equal(t, []byte{0x01, 0x02}, decoded.GetBinary(PropCorrelationData))

	// Duplicate user property keys survive in order.
	pairs := decoded.GetAllStringPairs(PropUserProperty)
	require.Len(t, pairs, 2)
	assert.Equal(t, "v1", pairs[0].Value)
	assert.Equal(t, "v2", pairs[1].Value)
}

func TestPropertiesEmptyEncodesZeroLength(t *testing.T) {
	var p Properties
	var buf bytes.Buffer
	n, err := p.Encode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{0x00}, buf.Bytes())
}

func TestPropertiesUnknownIDRejected(t *testing.T) {
	// Length 2, identifier 0x7F (not a defined property).
	var decoded Properties
	_, err := decoded.Decode(bytes.NewReader([]byte{0x02, 0x7F, 0x00}))
	assert.ErrorIs(t, err, ErrUnknownPropertyID)
}

func TestPropertiesSetReplacesAddAppends(t *testing.T) {
	var p Properties
	p.Set(PropTopicAlias, uint16(1))
	p.Set(PropTopicAlias, uint16(2))
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, uint16(2), p.GetUint16(PropTopicAlias))

	p.Add(PropSubscriptionIdentifier, uint32(1))
	p.Add(PropSubscriptionIdentifier, uint32(9))
	assert.Equal(t, []uint32{1, 9}, p.GetAllVarInts(PropSubscriptionIdentifier))

	p.Delete(PropSubscriptionIdentifier)
	assert.False(t, p.Has(PropSubscriptionIdentifier))
}

func TestValidateForContext(t *testing.T) {
	var p Properties
	p.Set(PropTopicAlias, uint16(3))

	assert.NoError(t, p.ValidateFor(PropCtxPUBLISH))
	assert.ErrorIs(t, p.ValidateFor(PropCtxCONNECT), ErrPropertyNotAllowed)

	var dup Properties
	dup.Add(PropReasonString, "a")
	dup.Add(PropReasonString, "b")
	assert.ErrorIs(t, dup.ValidateFor(PropCtxPUBACK), ErrDuplicateProperty)

	var multi Properties
	multi.Add(PropUserProperty, StringPair{Key: "a", Value: "1"})
	multi.Add(PropUserProperty, StringPair{Key: "a", Value: "2"})
	assert.NoError(t, multi.ValidateFor(PropCtxPUBACK))
}
