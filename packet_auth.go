package mqttc

import (
	"bytes"
	"io"
)

// AuthPacket represents an MQTT v5.0 AUTH packet, used for enhanced
// authentication exchanges. It does not exist in v3.1.1.
type AuthPacket struct {
	// ReasonCode is 0x00 (success), 0x18 (continue) or 0x19 (re-auth).
	ReasonCode ReasonCode

	// Props carries the authentication method and data.
	Props Properties
}

// Type returns the packet type.
func (p *AuthPacket) Type() PacketType { return PacketAUTH }

// Properties returns a pointer to the packet's properties.
func (p *AuthPacket) Properties() *Properties { return &p.Props }

// Encode writes the packet to the writer.
func (p *AuthPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	if p.ReasonCode != ReasonSuccess || p.Props.Len() > 0 {
		buf.WriteByte(byte(p.ReasonCode))

		if p.Props.Len() > 0 {
			if _, err := p.Props.Encode(&buf); err != nil {
				return 0, err
			}
		}
	}

	header := FixedHeader{
		PacketType:      PacketAUTH,
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
func (p *AuthPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketAUTH {
		return 0, ErrInvalidPacketType
	}
	if !version.Is5() {
		return 0, ErrUnsupportedVersion
	}

	p.ReasonCode = ReasonSuccess

	if header.RemainingLength == 0 {
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
		if err := p.Props.ValidateFor(PropCtxAUTH); err != nil {
			return totalRead, err
		}
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *AuthPacket) Validate(version ProtocolVersion) error {
	if !version.Is5() {
		return ErrUnsupportedVersion
	}

	if !p.ReasonCode.ValidForAUTH() {
		return ErrInvalidReasonCode
	}

	return nil
}
