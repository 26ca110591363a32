package mqttc

import (
	"errors"
	"io"
)

// ProtocolVersion selects the MQTT protocol revision used on the wire.
type ProtocolVersion byte

// Supported protocol versions. The values match the protocol level byte
// carried in the CONNECT variable header.
const (
	ProtocolV311 ProtocolVersion = 4
	ProtocolV50  ProtocolVersion = 5
)

// ErrUnsupportedVersion is returned when a packet is encoded or decoded
// with a protocol version this library does not speak.
var ErrUnsupportedVersion = errors.New("unsupported protocol version")

// Valid returns true for a protocol version this library supports.
func (v ProtocolVersion) Valid() bool {
	return v == ProtocolV311 || v == ProtocolV50
}

// Is5 returns true for MQTT 5.0.
func (v ProtocolVersion) Is5() bool {
	return v == ProtocolV50
}

// String returns the conventional name of the protocol version.
func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolV311:
		return "MQTT 3.1.1"
	case ProtocolV50:
		return "MQTT 5.0"
	default:
		return "unknown"
	}
}

// Packet is the interface all MQTT control packets implement. Encoding and
// decoding are version-aware: v5-only sections (properties, reason codes on
// acks) are omitted when the version is ProtocolV311.
type Packet interface {
	// Type returns the packet type.
	Type() PacketType

	// Encode writes the complete packet, fixed header included, to w.
	// Returns the number of bytes written.
	Encode(w io.Writer, version ProtocolVersion) (int, error)

	// Decode reads the packet body from r. The fixed header has already
	// been consumed and is passed in. Returns the number of bytes read.
	Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error)

	// Validate validates the packet contents for the given version.
	Validate(version ProtocolVersion) error
}

// PacketWithID is implemented by packets carrying a packet identifier.
type PacketWithID interface {
	Packet

	// GetPacketID returns the packet identifier.
	GetPacketID() uint16

	// SetPacketID sets the packet identifier.
	SetPacketID(id uint16)
}

// PacketWithProperties is implemented by packets that admit v5 properties.
type PacketWithProperties interface {
	Packet

	// Properties returns a pointer to the packet's properties.
	Properties() *Properties
}

// Message represents an MQTT application message as seen by handlers and
// publishers. Metadata fields map onto PUBLISH properties for v5 and are
// ignored on the wire for v3.1.1.
type Message struct {
	// Topic is the topic name to publish to or received from.
	Topic string

	// Payload is the application message payload.
	Payload []byte

	// QoS is the Quality of Service level (0, 1, or 2).
	QoS byte

	// Retain indicates if this is a retained message.
	Retain bool

	// Duplicate is set on redeliveries (DUP flag).
	Duplicate bool

	// PayloadFormat indicates UTF-8 text (1) or unspecified bytes (0).
	PayloadFormat byte

	// MessageExpiry is the lifetime of the message in seconds. Zero means
	// no expiry.
	MessageExpiry uint32

	// ContentType is the MIME type of the payload.
	ContentType string

	// ResponseTopic is the topic for response messages.
	ResponseTopic string

	// CorrelationData correlates request/response messages.
	CorrelationData []byte

	// UserProperties contains user-defined name-value pairs, in order,
	// duplicate keys allowed.
	UserProperties []StringPair

	// SubscriptionIdentifiers from matching subscriptions; inbound only.
	SubscriptionIdentifiers []uint32
}

// Clone creates a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}

	clone := &Message{
		Topic:         m.Topic,
		QoS:           m.QoS,
		Retain:        m.Retain,
		Duplicate:     m.Duplicate,
		PayloadFormat: m.PayloadFormat,
		MessageExpiry: m.MessageExpiry,
		ContentType:   m.ContentType,
		ResponseTopic: m.ResponseTopic,
	}

	if m.Payload != nil {
		clone.Payload = make([]byte, len(m.Payload))
		copy(clone.Payload, m.Payload)
	}

	if m.CorrelationData != nil {
		clone.CorrelationData = make([]byte, len(m.CorrelationData))
		copy(clone.CorrelationData, m.CorrelationData)
	}

	if m.UserProperties != nil {
		clone.UserProperties = make([]StringPair, len(m.UserProperties))
		copy(clone.UserProperties, m.UserProperties)
	}

	if m.SubscriptionIdentifiers != nil {
		clone.SubscriptionIdentifiers = make([]uint32, len(m.SubscriptionIdentifiers))
		copy(clone.SubscriptionIdentifiers, m.SubscriptionIdentifiers)
	}

	return clone
}

// ToProperties converts message metadata to PUBLISH properties for encoding.
func (m *Message) ToProperties() Properties {
	var p Properties

	if m.PayloadFormat != 0 {
		p.Set(PropPayloadFormatIndicator, m.PayloadFormat)
	}

	if m.MessageExpiry != 0 {
		p.Set(PropMessageExpiryInterval, m.MessageExpiry)
	}

	if m.ContentType != "" {
		p.Set(PropContentType, m.ContentType)
	}

	if m.ResponseTopic != "" {
		p.Set(PropResponseTopic, m.ResponseTopic)
	}

	if len(m.CorrelationData) > 0 {
		p.Set(PropCorrelationData, m.CorrelationData)
	}

	for _, up := range m.UserProperties {
		p.Add(PropUserProperty, up)
	}

	return p
}

// FromProperties fills message metadata from decoded PUBLISH properties.
func (m *Message) FromProperties(p *Properties) {
	if p == nil {
		return
	}

	m.PayloadFormat = p.GetByte(PropPayloadFormatIndicator)
	m.MessageExpiry = p.GetUint32(PropMessageExpiryInterval)
	m.ContentType = p.GetString(PropContentType)
	m.ResponseTopic = p.GetString(PropResponseTopic)
	m.CorrelationData = p.GetBinary(PropCorrelationData)
	m.UserProperties = p.GetAllStringPairs(PropUserProperty)
	m.SubscriptionIdentifiers = p.GetAllVarInts(PropSubscriptionIdentifier)
}
