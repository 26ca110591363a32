package mqttc

import (
	"bytes"
	"errors"
	"io"
)

// ErrNoReasonCodes is returned when a SUBACK or UNSUBACK carries no
// per-filter result bytes.
var ErrNoReasonCodes = errors.New("acknowledgement must contain at least one reason code")

// SubackPacket represents an MQTT SUBACK packet: one reason code per filter
// of the matching SUBSCRIBE, in order. For v3.1.1 the codes are the granted
// QoS (0x00-0x02) or failure (0x80).
type SubackPacket struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       Properties
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

// Properties returns a pointer to the packet's properties.
func (p *SubackPacket) Properties() *Properties { return &p.Props }

// GetPacketID returns the packet identifier.
func (p *SubackPacket) GetPacketID() uint16 { return p.PacketID }

// SetPacketID sets the packet identifier.
func (p *SubackPacket) SetPacketID(id uint16) { p.PacketID = id }

// Encode writes the packet to the writer.
func (p *SubackPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
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

	for _, rc := range p.ReasonCodes {
		buf.WriteByte(byte(rc))
	}

	header := FixedHeader{
		PacketType:      PacketSUBACK,
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
func (p *SubackPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketSUBACK {
		return 0, ErrInvalidPacketType
	}

	var totalRead int

	id, n, err := decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.PacketID = id

	if version.Is5() {
		n, err = p.Props.Decode(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := p.Props.ValidateFor(PropCtxSUBACK); err != nil {
			return totalRead, err
		}
	}

	for totalRead < int(header.RemainingLength) {
		var buf [1]byte
		n, err = io.ReadFull(r, buf[:])
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		p.ReasonCodes = append(p.ReasonCodes, ReasonCode(buf[0]))
	}

	if len(p.ReasonCodes) == 0 {
		return totalRead, ErrNoReasonCodes
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *SubackPacket) Validate(version ProtocolVersion) error {
	if p.PacketID == 0 {
		return ErrPacketIDRequired
	}

	if len(p.ReasonCodes) == 0 {
		return ErrNoReasonCodes
	}

	for _, rc := range p.ReasonCodes {
		if version.Is5() {
			if !rc.ValidForSUBACK() {
				return ErrInvalidReasonCode
			}
		} else if byte(rc) > 2 && byte(rc) != SubackFailureV311 {
			return ErrInvalidReasonCode
		}
	}

	return nil
}
