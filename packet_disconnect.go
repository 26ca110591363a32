package mqttc

import (
	"bytes"
	"io"
)

// DisconnectPacket represents an MQTT DISCONNECT packet. For v3.1.1 the
// body is empty; v5 optionally carries a reason code and properties.
type DisconnectPacket struct {
	// ReasonCode is the disconnect reason (v5 only).
	ReasonCode ReasonCode

	// Props contains the DISCONNECT properties (v5 only).
	Props Properties
}

// Type returns the packet type.
func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

// Properties returns a pointer to the packet's properties.
func (p *DisconnectPacket) Properties() *Properties { return &p.Props }

// Encode writes the packet to the writer.
func (p *DisconnectPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	// The reason code and properties are omitted for a normal v5
	// disconnect with no properties; v3.1.1 has a zero-byte body.
	if version.Is5() && (p.ReasonCode != ReasonSuccess || p.Props.Len() > 0) {
		buf.WriteByte(byte(p.ReasonCode))

		if p.Props.Len() > 0 {
			if _, err := p.Props.Encode(&buf); err != nil {
				return 0, err
			}
		}
	}

	header := FixedHeader{
		PacketType:      PacketDISCONNECT,
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
func (p *DisconnectPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketDISCONNECT {
		return 0, ErrInvalidPacketType
	}

	p.ReasonCode = ReasonSuccess

	if !version.Is5() || header.RemainingLength == 0 {
		return 0, nil
	}

	var totalRead int

	var buf [1]byte
	n, err := io.ReadFull(r, buf[:])
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	p.ReasonCode = ReasonCode(buf[0])

	if header.RemainingLength > 1 {
		n, err = p.Props.Decode(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := p.Props.ValidateFor(PropCtxDISCONNECT); err != nil {
			return totalRead, err
		}
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *DisconnectPacket) Validate(version ProtocolVersion) error {
	if !version.Valid() {
		return ErrUnsupportedVersion
	}

	if !version.Is5() {
		if p.ReasonCode != ReasonSuccess || p.Props.Len() > 0 {
			return ErrPropertiesUnsupported
		}
		return nil
	}

	if p.ReasonCode != ReasonSuccess && !p.ReasonCode.IsError() &&
		p.ReasonCode != ReasonDisconnectWithWill {
		return ErrInvalidReasonCode
	}

	return nil
}
