package mqttc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// CONNACK packet errors.
var (
	ErrInvalidConnackFlags = fmt.Errorf("%w: invalid connack flags", ErrMalformedPacket)
	ErrInvalidReturnCode   = errors.New("invalid connack return code")
)

// ConnackPacket represents an MQTT CONNACK packet.
//
// For v5 connections ReasonCode holds an MQTT 5 reason code; for v3.1.1 it
// holds the return code byte (ConnAccepted..ConnRefusedNotAuthorized).
type ConnackPacket struct {
	// SessionPresent indicates the server retained a previous session.
	SessionPresent bool

	// ReasonCode is the connect reason code (v5) or return code (v3.1.1).
	ReasonCode ReasonCode

	// Props contains the CONNACK properties (v5 only).
	Props Properties
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType {
	return PacketCONNACK
}

// Properties returns a pointer to the packet's properties.
func (p *ConnackPacket) Properties() *Properties {
	return &p.Props
}

// Encode writes the packet to the writer.
func (p *ConnackPacket) Encode(w io.Writer, version ProtocolVersion) (int, error) {
	if err := p.Validate(version); err != nil {
		return 0, err
	}

	var buf bytes.Buffer

	var ackFlags byte
	if p.SessionPresent {
		ackFlags = 0x01
	}
	buf.WriteByte(ackFlags)
	buf.WriteByte(byte(p.ReasonCode))

	if version.Is5() {
		if _, err := p.Props.Encode(&buf); err != nil {
			return 0, err
		}
	}

	header := FixedHeader{
		PacketType:      PacketCONNACK,
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
func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader, version ProtocolVersion) (int, error) {
	if header.PacketType != PacketCONNACK {
		return 0, ErrInvalidPacketType
	}

	var buf [2]byte
	totalRead, err := io.ReadFull(r, buf[:])
	if err != nil {
		return totalRead, err
	}

	if buf[0]&0xFE != 0 {
		return totalRead, ErrInvalidConnackFlags
	}
	p.SessionPresent = buf[0]&0x01 != 0
	p.ReasonCode = ReasonCode(buf[1])

	if version.Is5() && header.RemainingLength > 2 {
		n, err := p.Props.Decode(r)
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		if err := p.Props.ValidateFor(PropCtxCONNACK); err != nil {
			return totalRead, err
		}
	}

	return totalRead, nil
}

// Validate validates the packet contents.
func (p *ConnackPacket) Validate(version ProtocolVersion) error {
	if !version.Valid() {
		return ErrUnsupportedVersion
	}

	if version.Is5() {
		if !p.ReasonCode.ValidForCONNACK() {
			return ErrInvalidReturnCode
		}
		// A refused connection never carries session state.
		if p.ReasonCode.IsError() && p.SessionPresent {
			return ErrInvalidConnackFlags
		}
		return nil
	}

	if byte(p.ReasonCode) > ConnRefusedNotAuthorized {
		return ErrInvalidReturnCode
	}

	if p.Props.Len() > 0 {
		return ErrPropertiesUnsupported
	}

	return nil
}
