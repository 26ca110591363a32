package mqttc

import "context"

// EnhancedAuthContext carries one step of a v5 enhanced authentication
// exchange: the data and reason code from the server's AUTH packet plus any
// authenticator state from the previous step.
type EnhancedAuthContext struct {
	// AuthMethod is the authentication method in use.
	AuthMethod string

	// AuthData is the authentication data from the server's AUTH packet.
	AuthData []byte

	// ReasonCode is the reason code from the server's AUTH packet.
	ReasonCode ReasonCode

	// State holds authenticator-specific state between exchanges.
	State any
}

// EnhancedAuthResult is the client's next move in an enhanced
// authentication exchange.
type EnhancedAuthResult struct {
	// Done indicates authentication is complete on the client side.
	Done bool

	// AuthData is the authentication data to send to the server.
	AuthData []byte

	// State holds authenticator-specific state for the next exchange.
	State any
}

// Authenticator drives client-side enhanced authentication over v5 AUTH
// packets. AuthStart supplies the initial data for the CONNECT properties;
// AuthContinue answers each AUTH packet with reason code 0x18 until the
// server completes the handshake in CONNACK.
type Authenticator interface {
	// AuthMethod returns the authentication method name
	// (e.g. "SCRAM-SHA-256").
	AuthMethod() string

	// AuthStart begins the exchange, producing the initial auth data for
	// the CONNECT packet.
	AuthStart(ctx context.Context) (*EnhancedAuthResult, error)

	// AuthContinue processes a server AUTH packet and produces the next
	// client response.
	AuthContinue(ctx context.Context, authCtx *EnhancedAuthContext) (*EnhancedAuthResult, error)
}
