package mqttc

import (
	"bytes"
	"errors"
	"io"
)

// SUBSCRIBE packet errors.
var (
	ErrNoSubscriptions       = errors.New("subscribe packet must contain at least one subscription")
	ErrInvalidRetainHandling = errors.New("invalid retain handling value")
)

// Retain handling values for v5 subscription options.
const (
	// RetainSendAlways sends retained messages at subscribe time.
	RetainSendAlways byte = 0
	// RetainSendIfNew sends retained messages only for new subscriptions.
	RetainSendIfNew byte = 1
	// RetainSendNever suppresses retained messages at subscribe time.
	RetainSendNever byte = 2
)

// SubscribeOptions carries the per-filter subscription options byte. For
// v3.1.1 only QoS is encoded; the v5 flags are silently dropped.
type SubscribeOptions struct {
	// QoS is the maximum QoS level at which messages are delivered.
	QoS byte

	// NoLocal suppresses messages published by this client (v5).
	NoLocal bool

	// RetainAsPublished preserves the RETAIN flag on forwarded messages (v5).
	RetainAsPublished bool

	// RetainHandling controls retained message delivery on subscribe (v5).
	RetainHandling byte
}

// toByte packs the options into the wire byte: QoS in bits 0-1, no-local
// bit 2, retain-as-published bit 3, retain-handling bits 4-5.
func (o SubscribeOptions) toByte(version ProtocolVersion) byte {
	b := o.QoS & 0x03
	if version.Is5() {
		if o.NoLocal {
			b |= 0x04
		}
		if o.RetainAsPublished {
			b |= 0x08
		}
		b |= (o.RetainHandling & 0x03) << 4
	}
	return b
}

func subscribeOptionsFromByte(b byte, version ProtocolVersion) (SubscribeOptions, error) {
	o := SubscribeOptions{QoS: b & 0x03}

	if version.Is5() {
		o.NoLocal = b&0x04 != 0
		o.RetainAsPublished = b&0x08 != 0
		o.RetainHandling = (b >> 4) & 0x03
		if b&0xC0 != 0 {
			return o, ErrInvalidPacketFlags
		}
	} else if b&0xFC != 0 {
		return o, ErrInvalidPacketFlags
	}

	if o.QoS > 2 {
		return o, ErrInvalidQoS
	}
	if o.RetainHandling > RetainSendNever {
		return o, ErrInvalidRetainHandling
	}

	return o, nil
}

// Subscription pairs a topic filter with its subscription options. On
// SUBACK the granted QoS replaces the requested QoS in the client's
// subscription registry.
type Subscription struct {
	// Filter is the topic filter.
	Filter string

	// QoS is the requested (or granted) maximum QoS.
	QoS byte

	// NoLocal suppresses messages published by this client (v5).
	NoLocal bool

	// RetainAsPublished preserves the RETAIN flag on forwarded messages (v5).
	RetainAsPublished bool

	// RetainHandling controls retained message delivery on subscribe (v5).
	RetainHandling byte
}

// Options returns the wire options for the subscription.
func (s Subscription) Options() SubscribeOptions {
	return SubscribeOptions{
		QoS:               s.QoS,
		NoLocal:           s.NoLocal,
		RetainAsPublished: s.RetainAsPublished,
		RetainHandling:    s.RetainHandling,
	}
}

// SubscribePacket represents an MQTT SUBSCRIBE packet.
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
	Props         Properties
}

// Type returns the packet type.
func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

// Properties returns a pointer to the packet's properties.
func (p *SubscribePacket) Properties() *Properties { return &p.Props }

// GetPacketID returns the packet identifier.
func (p *SubscribePacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *SubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

// Encode writes the packet to the writer.
func (p *SubscribePacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	if _, err := encodeUint16(&buf, p.PacketID); err != nil {
		return 0, err
	}

	if version.Is5() {
		if _, err := p.Props.Encode(&buf); err != nil {
			return 0, err
		}
	}

	for _, sub := range p.Subscriptions {
		if _, err := encodeString(&buf, sub.Filter); err != nil {
			return 0, err
		}
		buf.WriteByte(sub.Options().toByte(version))
	}

	header := FixedHeader{
		PacketType:      PacketSUBSCRIBE,
		Flags:           0x02,
		RemainingLength: uint32(buf.Len()),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write(buf.Bytes())
	return total + n, err
}

// Decode reads the packet body from the reader.
func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketSUBSCRIBE {
		return 0, ErrInvalidPacketType
	}

	var totalRead int

	id, n, err := decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if id == 0 {
		return totalRead, ErrPacketIDRequired
	}
	p.PacketID = id

	if version.Is5() {
		n, err = p.Props.Decode(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := p.Props.ValidateFor(PropCtxSUBSCRIBE); err != nil {
			return totalRead, err
		}
	}

	for totalRead < int(header.RemainingLength) {
		filter, n, err := decodeString(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		var optBuf [1]byte
		n, err = io.ReadFull(r, optBuf[:])
		totalRead += n
		if err != nil {
			return totalRead, err
		}

		opts, err := subscribeOptionsFromByte(optBuf[0], version)
		if err != nil {
			return totalRead, err
		}

		p.Subscriptions = append(p.Subscriptions, Subscription{
			Filter:            filter,
			QoS:               opts.QoS,
			NoLocal:           opts.NoLocal,
			RetainAsPublished: opts.RetainAsPublished,
			RetainHandling:    opts.RetainHandling,
		})
	}

	if len(p.Subscriptions) == 0 {
		return totalRead, ErrNoSubscriptions
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *SubscribePacket) Validate(version ProtocolVersion) error {
	if !version.Valid() {
		return ErrUnsupportedVersion
	}

	if p.PacketID == 0 {
		return ErrPacketIDRequired
	}

	if len(p.Subscriptions) == 0 {
		return ErrNoSubscriptions
	}

	for _, sub := range p.Subscriptions {
		if sub.QoS > 2 {
			return ErrInvalidQoS
		}
		if sub.RetainHandling > RetainSendNever {
			return ErrInvalidRetainHandling
		}
		if err := ValidateTopicFilter(sub.Filter); err != nil {
			return err
		}
	}

	if !version.Is5() && p.Props.Len() > 0 {
		return ErrPropertiesUnsupported
	}

	return nil
}
