package mqttc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
)

var (
	ErrPacketTooLarge    = errors.New("mqttc: packet exceeds maximum size")
	ErrUnknownPacketType = errors.New("mqttc: unknown packet type")
)

// malformedErr tags a decode failure with ErrMalformedPacket while keeping
// the underlying error chain intact. A clean EOF between packets and a read
// deadline expiry are transport conditions, not malformed packets, and pass
// through untouched.
func malformedErr(err error) error {
	if err == nil || errors.Is(err, ErrMalformedPacket) {
		return err
	}
	if errors.Is(err, io.EOF) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return err
	}
	return fmt.Errorf("%w: %w", ErrMalformedPacket, err)
}

// ReadPacket reads one complete MQTT packet from r using the wire layout of
// the given protocol version. If maxSize is greater than 0, packets whose
// remaining length exceeds it return ErrPacketTooLarge before the body is
// read into memory.
func ReadPacket(r io.Reader, version ProtocolVersion, maxSize uint32) (Packet, int, error) {
	if !version.Valid() {
		return nil, 0, ErrUnsupportedVersion
	}

	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		return nil, n, malformedErr(err)
	}

	if err := header.ValidateFlags(); err != nil {
		return nil, n, malformedErr(err)
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	remaining := make([]byte, header.RemainingLength)
	if header.RemainingLength > 0 {
		rn, err := io.ReadFull(r, remaining)
		n += rn
		if err != nil {
			return nil, n, malformedErr(err)
		}
	}

	var packet Packet
	switch header.PacketType {
	case PacketCONNECT:
		packet = &ConnectPacket{}
	case PacketCONNACK:
		packet = &ConnackPacket{}
	case PacketPUBLISH:
		packet = &PublishPacket{}
	case PacketPUBACK:
		packet = &PubackPacket{}
	case PacketPUBREC:
		packet = &PubrecPacket{}
	case PacketPUBREL:
		packet = &PubrelPacket{}
	case PacketPUBCOMP:
		packet = &PubcompPacket{}
	case PacketSUBSCRIBE:
		packet = &SubscribePacket{}
	case PacketSUBACK:
		packet = &SubackPacket{}
	case PacketUNSUBSCRIBE:
		packet = &UnsubscribePacket{}
	case PacketUNSUBACK:
		packet = &UnsubackPacket{}
	case PacketPINGREQ:
		packet = &PingreqPacket{}
	case PacketPINGRESP:
		packet = &PingrespPacket{}
	case PacketDISCONNECT:
		packet = &DisconnectPacket{}
	case PacketAUTH:
		if !version.Is5() {
			return nil, n, malformedErr(ErrUnknownPacketType)
		}
		packet = &AuthPacket{}
	default:
		return nil, n, malformedErr(ErrUnknownPacketType)
	}

	// The body is already in memory here, so any failure out of Decode is
	// a framing problem, never a transport condition.
	if _, err := packet.Decode(bytes.NewReader(remaining), header, version); err != nil {
		if errors.Is(err, ErrMalformedPacket) {
			return nil, n, err
		}
		return nil, n, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}

	return packet, n, nil
}

// WritePacket validates and writes one complete MQTT packet to w. Packet
// bytes hit the writer all-or-nothing: the packet is staged in a buffer and
// written with a single Write call, so a failed size check or encode error
// leaves nothing on the wire. If maxSize is greater than 0, packets larger
// than maxSize return ErrPacketTooLarge.
func WritePacket(w io.Writer, packet Packet, version ProtocolVersion, maxSize uint32) (int, error) {
	if !version.Valid() {
		return 0, ErrUnsupportedVersion
	}

	if err := packet.Validate(version); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	n, err := packet.Encode(&buf, version)
	if err != nil {
		return 0, err
	}

	if maxSize > 0 && uint32(n) > maxSize {
		return 0, ErrPacketTooLarge
	}

	return w.Write(buf.Bytes())
}
