package mqttc

import (
	"errors"
	"fmt"
	"time"
)

// EventHandler receives client lifecycle events. Events are errors so they
// compose with errors.Is / errors.As; delivery is synchronous on the
// goroutine that raises the event: the read loop for events driven by
// inbound packets (which therefore follow packet arrival order), and the
// calling or reconnecting goroutine for connect, disconnect and reconnect
// events.
type EventHandler func(client *Client, event error)

// Sentinel events for the client lifecycle - check with errors.Is().
var (
	// ErrConnected is emitted when the client successfully connects.
	ErrConnected = errors.New("connected")

	// ErrDisconnected is emitted when the client disconnects gracefully.
	ErrDisconnected = errors.New("disconnected")

	// ErrConnectionLost is emitted when the connection is lost unexpectedly.
	ErrConnectionLost = errors.New("connection lost")

	// ErrReconnecting is emitted when the client is about to reconnect.
	ErrReconnecting = errors.New("reconnecting")

	// ErrReconnectFailed is emitted when all reconnection attempts failed.
	ErrReconnectFailed = errors.New("reconnect failed")
)

// Sentinel errors - check with errors.Is().
var (
	// ErrMalformedPacket is returned when a packet failed to decode.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrProtocolError is returned when a packet decoded but is
	// semantically illegal (invalid topic alias, unexpected packet type
	// for the connection state).
	ErrProtocolError = errors.New("protocol error")

	// ErrConnectionRefused is returned when CONNACK rejects the handshake.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrServerDisconnect is returned when the server sends DISCONNECT.
	ErrServerDisconnect = errors.New("server disconnect")

	// ErrKeepAliveTimeout is returned when inbound silence exceeds 1.5x
	// the keep-alive interval.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")

	// ErrNotConnected is returned when an operation requires an active
	// connection.
	ErrNotConnected = errors.New("not connected")

	// ErrClientClosed is returned for operations on a closed client.
	ErrClientClosed = errors.New("client closed")

	// ErrAuthFailed is returned when authentication fails.
	ErrAuthFailed = errors.New("authentication failed")
)

// TimeoutError reports a caller or internal deadline that elapsed.
// Extract with errors.As().
type TimeoutError struct {
	// Operation names the timed-out call ("connect", "publish",
	// "await_message", ...).
	Operation string
	Elapsed   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Elapsed)
}

// Timeout marks the error for callers probing with net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }

// ConnectError carries the reason a CONNACK refused the handshake.
// Extract with errors.As().
type ConnectError struct {
	// ReasonCode is the v5 reason code, or the v3.1.1 return code.
	ReasonCode ReasonCode
	Properties *Properties
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect refused: %s (0x%02X)", e.ReasonCode, byte(e.ReasonCode))
}

func (e *ConnectError) Unwrap() error { return ErrConnectionRefused }

// DisconnectError carries a DISCONNECT's reason code and properties.
// Remote is true when the server initiated it. Extract with errors.As().
type DisconnectError struct {
	ReasonCode ReasonCode
	Properties *Properties
	Remote     bool
}

func (e *DisconnectError) Error() string {
	if e.Remote {
		return "server disconnect: " + e.ReasonCode.String()
	}
	return "disconnected: " + e.ReasonCode.String()
}

func (e *DisconnectError) Unwrap() error {
	if e.Remote {
		return ErrServerDisconnect
	}
	return ErrDisconnected
}

// ConnectionLostError wraps the transport error that killed a connection.
// Extract with errors.As().
type ConnectionLostError struct {
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return "connection lost: " + e.Cause.Error()
	}
	return "connection lost"
}

// Unwrap exposes the cause alongside the sentinel so taxonomy checks like
// errors.Is(err, ErrMalformedPacket) see through the wrapper.
func (e *ConnectionLostError) Unwrap() []error {
	if e.Cause != nil {
		return []error{ErrConnectionLost, e.Cause}
	}
	return []error{ErrConnectionLost}
}

// PublishError reports a broker-side publish rejection (ack reason code
// >= 0x80). Extract with errors.As().
type PublishError struct {
	Topic      string
	PacketID   uint16
	ReasonCode ReasonCode
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish rejected: %s (packet %d)", e.ReasonCode, e.PacketID)
}

// SubscribeError reports a broker-side subscription rejection.
// Extract with errors.As().
type SubscribeError struct {
	Filter     string
	ReasonCode ReasonCode
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe rejected: %s (%s)", e.ReasonCode, e.Filter)
}

// ServerDisconnectEvent is delivered to the event handler when the server
// sends a DISCONNECT. WillReconnect reports whether the client's reconnect
// policy will re-run the handshake. Extract with errors.As().
type ServerDisconnectEvent struct {
	// Packet is the DISCONNECT packet as received.
	Packet *DisconnectPacket

	// WillReconnect is true when auto-reconnect is about to engage.
	WillReconnect bool
}

func (e *ServerDisconnectEvent) Error() string {
	return "server disconnect: " + e.Packet.ReasonCode.String()
}

func (e *ServerDisconnectEvent) Unwrap() error { return ErrServerDisconnect }

// ConnectedEvent is delivered to the event handler after a successful
// CONNACK. Extract with errors.As().
type ConnectedEvent struct {
	SessionPresent bool
	ServerProps    *Properties
}

func (e *ConnectedEvent) Error() string { return ErrConnected.Error() }
func (e *ConnectedEvent) Unwrap() error { return ErrConnected }

// ReconnectEvent is delivered before each reconnect attempt.
// Extract with errors.As().
type ReconnectEvent struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}

func (e *ReconnectEvent) Error() string { return ErrReconnecting.Error() }
func (e *ReconnectEvent) Unwrap() error { return ErrReconnecting }
