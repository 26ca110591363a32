package mqttc

import (
	"bytes"
	"errors"
	"io"
)

// ErrInvalidReasonCode is returned when an acknowledgement carries a reason
// code not valid for its packet type.
var ErrInvalidReasonCode = errors.New("invalid reason code for packet type")

// ackPacket is the common shape of PUBACK, PUBREC, PUBREL and PUBCOMP: a
// packet identifier, an optional reason code and optional properties. For
// v3.1.1 the body is the packet identifier alone.
type ackPacket struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

// encodeAck encodes an acknowledgement packet with the given type and flags.
func encodeAck(w io.Writer, packetType PacketType, flags byte, ack *ackPacket, version ProtocolVersion) (int, error) {
	var buf bytes.Buffer

	if _, err := encodeUint16(&buf, ack.PacketID); err != nil {
		return 0, err
	}

	// The reason code and properties are omitted for a success ack with
	// no properties, and entirely absent on v3.1.1.
	if version.Is5() && (ack.ReasonCode != ReasonSuccess || ack.Props.Len() > 0) {
		buf.WriteByte(byte(ack.ReasonCode))

		if ack.Props.Len() > 0 {
			if _, err := ack.Props.Encode(&buf); err != nil {
				return 0, err
			}
		}
	}

	header := FixedHeader{
		PacketType:      packetType,
		Flags:           flags,
		RemainingLength: uint32(buf.Len()),
	}

	total, err := header.Encode(w)
	if err != nil {
		return total, err
	}

	n, err := w.Write(buf.Bytes())
	return total + n, err
}

// decodeAck decodes an acknowledgement packet with property validation.
func decodeAck(r io.Reader, header FixedHeader, ack *ackPacket, propCtx PropertyContext, version ProtocolVersion) (int, error) {
	var totalRead int

	id, n, err := decodeUint16(r)
	totalRead += n
	if err != nil {
		return totalRead, err
	}
	if id == 0 {
		return totalRead, ErrPacketIDRequired
	}
	ack.PacketID = id
	ack.ReasonCode = ReasonSuccess

	if version.Is5() && header.RemainingLength > 2 {
		var reasonBuf [1]byte
		n, err = io.ReadFull(r, reasonBuf[:])
		totalRead += n
		if err != nil {
			return totalRead, err
		}
		ack.ReasonCode = ReasonCode(reasonBuf[0])

		if header.RemainingLength > 3 {
			n, err = ack.Props.Decode(r)
			totalRead += n
			if err != nil {
				return totalRead, err
			}
			if err := ack.Props.ValidateFor(propCtx); err != nil {
				return totalRead, err
			}
		}
	}

	return totalRead, nil
}
