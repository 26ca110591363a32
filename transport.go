package mqttc

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Conn is the byte stream the wire codec reads and writes. It is opaque to
// the protocol layer: TLS, tunnels and QUIC all live behind this interface.
type Conn interface {
	net.Conn
}

// Dialer establishes connections to brokers. Address formats are
// dialer-specific; the built-in TCP and TLS dialers take "host:port".
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (Conn, error)
}

// TCPDialer connects to brokers over plain TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout beyond the context's.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Conn, error) {
	var dialer net.Dialer
	if d.Timeout > 0 {
		dialer.Timeout = d.Timeout
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to brokers over TLS. The handshake happens entirely
// inside the dialer; the protocol layer sees only the byte stream.
type TLSDialer struct {
	// Config is the TLS configuration.
	Config *tls.Config

	// Timeout is the maximum time to wait for a connection.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{
			Timeout: d.Timeout,
		},
		Config: d.Config,
	}
	return dialer.DialContext(ctx, "tcp", address)
}
