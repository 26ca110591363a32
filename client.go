package mqttc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionState is the client's position in its connection lifecycle.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateReconnecting
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConnectResult reports the outcome of the CONNECT/CONNACK handshake.
type ConnectResult struct {
	SessionPresent bool
	ReasonCode     ReasonCode
	Properties     *Properties
}

// MessageHandler receives inbound application messages.
type MessageHandler func(msg *Message)

// awaitQueueSize bounds messages buffered for AwaitMessage when no handler
// is registered.
const awaitQueueSize = 128

// Client is an MQTT client for one broker session. All mutable state is
// owned by the client; the session store is the only object shared with
// application code.
type Client struct {
	opts *clientOptions

	// Effective connection parameters; CONNACK may override the
	// configured values.
	version     ProtocolVersion
	clientID    string
	keepAlive   uint16
	maxOutbound uint32

	conn   Conn
	connMu sync.Mutex

	packetIDs   *PacketIDManager
	outbound    *OutboundTracker
	inboundQoS2 *InboundTracker
	aliases     *TopicAliasManager
	flow        *FlowController
	subs        *subscriptionRegistry
	limiter     *publishLimiter

	handlerMu sync.Mutex
	handler   MessageHandler
	msgQueue  chan *Message

	// Waiters for SUBACK / UNSUBACK keyed by packet ID.
	ackMu      sync.Mutex
	ackWaiters map[uint16]chan Packet

	state    atomic.Int32
	closed   atomic.Bool
	stopMu   sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	readDone chan struct{}
	termMu   sync.Mutex
	termErr  error

	writeMu   sync.Mutex
	lastWrite atomic.Int64 // unix nano
	lastRead  atomic.Int64 // unix nano

	reconnectAttempts int

	logger Logger
}

// Dial connects to a broker and returns a connected client.
func Dial(opts ...Option) (*Client, error) {
	return DialContext(context.Background(), opts...)
}

// DialContext connects to a broker with a context bounding the handshake.
func DialContext(ctx context.Context, opts ...Option) (*Client, error) {
	c, err := NewClient(opts...)
	if err != nil {
		return nil, err
	}

	if _, err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// NewClient creates a client without connecting. Call Connect to establish
// the session.
func NewClient(opts ...Option) (*Client, error) {
	options := applyOptions(opts...)

	if len(options.servers) == 0 {
		return nil, errors.New("no servers configured: use WithServers")
	}
	if !options.version.Valid() {
		return nil, ErrUnsupportedVersion
	}
	for _, f := range options.messageFilters {
		if err := ValidateTopicFilter(f); err != nil {
			return nil, fmt.Errorf("message filter %q: %w", f, err)
		}
	}

	c := &Client{
		opts:        options,
		version:     options.version,
		clientID:    options.clientID,
		keepAlive:   options.keepAlive,
		packetIDs:   NewPacketIDManager(),
		outbound:    NewOutboundTracker(),
		inboundQoS2: NewInboundTracker(),
		aliases:     NewTopicAliasManager(options.aliasInboundMax, options.topicAliasMaximum),
		flow:        NewFlowController(options.receiveMaximum),
		subs:        newSubscriptionRegistry(),
		limiter:     newPublishLimiter(options.publishRate, options.publishBurst),
		msgQueue:    make(chan *Message, awaitQueueSize),
		ackWaiters:  make(map[uint16]chan Packet),
		done:        make(chan struct{}),
		logger:      options.logger,
	}
	c.state.Store(int32(StateDisconnected))
	c.maxOutbound = 0 // no outbound limit until CONNACK says otherwise
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// ClientID returns the effective client identifier, which may have been
// assigned by the server.
func (c *Client) ClientID() string {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.clientID
}

// InFlight returns the number of outstanding outbound QoS 1/2 publishes.
func (c *Client) InFlight() uint16 {
	return c.flow.InFlight()
}

// Connect establishes the session: transport dial, CONNECT/CONNACK
// handshake (including enhanced authentication), session restoration and
// loop startup.
func (c *Client) Connect(ctx context.Context) (*ConnectResult, error) {
	if c.closed.Load() {
		return nil, ErrClientClosed
	}

	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return nil, fmt.Errorf("%w: connect while %s", ErrProtocolError, c.State())
	}

	result, err := c.connectOnce(ctx)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return nil, err
	}
	return result, nil
}

// connectOnce runs one full handshake attempt. The caller has already
// moved the state to StateConnecting or StateReconnecting.
func (c *Client) connectOnce(ctx context.Context) (*ConnectResult, error) {
	if c.opts.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.connectTimeout)
		defer cancel()
	}

	conn, err := c.dialAny(ctx)
	if err != nil {
		return nil, &ConnectionLostError{Cause: err}
	}

	result, err := c.handshake(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.aliases.Reset()
	c.inboundQoS2.Reset()
	c.flow.Reset()

	c.applyConnack(result)

	if err := c.restoreSession(result.SessionPresent); err != nil {
		conn.Close()
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		return nil, err
	}

	c.stopMu.Lock()
	c.stop = make(chan struct{})
	c.stopMu.Unlock()
	c.readDone = make(chan struct{})
	now := time.Now().UnixNano()
	c.lastWrite.Store(now)
	c.lastRead.Store(now)

	c.state.Store(int32(StateConnected))
	c.reconnectAttempts = 0

	go c.readLoop(c.stop)
	if c.keepAlive > 0 {
		go c.keepAliveLoop(c.stop)
	}

	c.emit(&ConnectedEvent{
		SessionPresent: result.SessionPresent,
		ServerProps:    result.Properties,
	})

	c.logger.Info("connected", LogFields{
		LogFieldClientID: c.clientID,
	})

	return result, nil
}

// dialAny tries each configured server address in order.
func (c *Client) dialAny(ctx context.Context) (Conn, error) {
	var lastErr error
	for _, server := range c.opts.servers {
		dialer, addr, err := c.dialerFor(server)
		if err != nil {
			lastErr = err
			continue
		}

		conn, err := dialer.Dial(ctx, addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no servers configured")
	}
	return nil, lastErr
}

// dialerFor resolves a server URI to a dialer and address. An explicit
// WithDialer overrides the scheme.
func (c *Client) dialerFor(server string) (Dialer, string, error) {
	u, err := url.Parse(server)
	if err != nil || u.Host == "" && u.Scheme != "unix" {
		// Bare host:port defaults to TCP.
		if !strings.Contains(server, "://") {
			if c.opts.dialer != nil {
				return c.opts.dialer, server, nil
			}
			return &TCPDialer{Timeout: c.opts.connectTimeout}, server, nil
		}
		if err == nil {
			err = fmt.Errorf("invalid server address %q", server)
		}
		return nil, "", err
	}

	if c.opts.dialer != nil {
		return c.opts.dialer, u.Host, nil
	}

	switch u.Scheme {
	case "tcp", "mqtt":
		return &TCPDialer{Timeout: c.opts.connectTimeout}, u.Host, nil
	case "tls", "ssl", "mqtts":
		return &TLSDialer{Config: c.opts.tlsConfig, Timeout: c.opts.connectTimeout}, u.Host, nil
	case "unix":
		return NewUnixDialer(), u.Path, nil
	case "quic":
		return NewQUICDialer(c.opts.tlsConfig), u.Host, nil
	default:
		return nil, "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// handshake writes CONNECT and consumes packets until CONNACK, running
// enhanced authentication exchanges along the way.
func (c *Client) handshake(ctx context.Context, conn Conn) (*ConnectResult, error) {
	connect := &ConnectPacket{
		ClientID:   c.opts.clientID,
		CleanStart: c.opts.cleanStart,
		KeepAlive:  c.opts.keepAlive,
		Username:   c.opts.username,
		Password:   c.opts.password,
	}

	if c.opts.willTopic != "" {
		connect.WillFlag = true
		connect.WillTopic = c.opts.willTopic
		connect.WillPayload = c.opts.willPayload
		connect.WillQoS = c.opts.willQoS
		connect.WillRetain = c.opts.willRetain
		if c.version.Is5() && c.opts.willProps != nil {
			connect.WillProps = *c.opts.willProps
		}
	}

	var authState any
	if c.version.Is5() {
		if c.opts.sessionExpirySet {
			connect.Props.Set(PropSessionExpiryInterval, c.opts.sessionExpiry)
		}
		if c.opts.receiveMaximum != 65535 {
			connect.Props.Set(PropReceiveMaximum, c.opts.receiveMaximum)
		}
		if c.opts.aliasInboundMax > 0 {
			connect.Props.Set(PropTopicAliasMaximum, c.opts.aliasInboundMax)
		}
		if c.opts.maxPacketSize > 0 && c.opts.maxPacketSize < MaxPacketSizeProtocol {
			connect.Props.Set(PropMaximumPacketSize, c.opts.maxPacketSize)
		}
		for _, up := range c.opts.userProperties {
			connect.Props.Add(PropUserProperty, up)
		}

		if c.opts.authenticator != nil {
			start, err := c.opts.authenticator.AuthStart(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
			}
			connect.Props.Set(PropAuthenticationMethod, c.opts.authenticator.AuthMethod())
			if len(start.AuthData) > 0 {
				connect.Props.Set(PropAuthenticationData, start.AuthData)
			}
			authState = start.State
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	if _, err := WritePacket(conn, connect, c.version, 0); err != nil {
		return nil, &ConnectionLostError{Cause: err}
	}

	for {
		packet, _, err := ReadPacket(conn, c.version, c.opts.maxPacketSize)
		if err != nil {
			return nil, &ConnectionLostError{Cause: err}
		}

		switch p := packet.(type) {
		case *ConnackPacket:
			return c.finishHandshake(ctx, p, authState)

		case *AuthPacket:
			if c.opts.authenticator == nil {
				return nil, fmt.Errorf("%w: unexpected AUTH packet", ErrProtocolError)
			}
			if p.ReasonCode != ReasonContinueAuth {
				return nil, fmt.Errorf("%w: AUTH reason %s", ErrAuthFailed, p.ReasonCode)
			}

			next, err := c.opts.authenticator.AuthContinue(ctx, &EnhancedAuthContext{
				AuthMethod: p.Props.GetString(PropAuthenticationMethod),
				AuthData:   p.Props.GetBinary(PropAuthenticationData),
				ReasonCode: p.ReasonCode,
				State:      authState,
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
			}
			authState = next.State

			reply := &AuthPacket{ReasonCode: ReasonContinueAuth}
			reply.Props.Set(PropAuthenticationMethod, c.opts.authenticator.AuthMethod())
			if len(next.AuthData) > 0 {
				reply.Props.Set(PropAuthenticationData, next.AuthData)
			}
			if _, err := WritePacket(conn, reply, c.version, 0); err != nil {
				return nil, &ConnectionLostError{Cause: err}
			}

		default:
			return nil, fmt.Errorf("%w: expected CONNACK, got %s", ErrProtocolError, packet.Type())
		}
	}
}

// finishHandshake validates the CONNACK, including any server-final
// authentication data.
func (c *Client) finishHandshake(ctx context.Context, connack *ConnackPacket, authState any) (*ConnectResult, error) {
	refused := false
	if c.version.Is5() {
		refused = connack.ReasonCode.IsError()
	} else {
		refused = byte(connack.ReasonCode) != ConnAccepted
	}
	if refused {
		return nil, &ConnectError{ReasonCode: connack.ReasonCode, Properties: &connack.Props}
	}

	// The server's final SCRAM-style proof rides in the CONNACK
	// properties; give the authenticator a chance to verify it.
	if c.opts.authenticator != nil && authState != nil {
		if data := connack.Props.GetBinary(PropAuthenticationData); len(data) > 0 {
			_, err := c.opts.authenticator.AuthContinue(ctx, &EnhancedAuthContext{
				AuthMethod: connack.Props.GetString(PropAuthenticationMethod),
				AuthData:   data,
				ReasonCode: connack.ReasonCode,
				State:      authState,
			})
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
			}
		}
	}

	return &ConnectResult{
		SessionPresent: connack.SessionPresent,
		ReasonCode:     connack.ReasonCode,
		Properties:     &connack.Props,
	}, nil
}

// applyConnack folds the broker's CONNACK properties into the effective
// connection parameters.
func (c *Client) applyConnack(result *ConnectResult) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.keepAlive = c.opts.keepAlive
	c.maxOutbound = 0

	if !c.version.Is5() || result.Properties == nil {
		return
	}
	props := result.Properties

	if c.clientID == "" {
		if assigned := props.GetString(PropAssignedClientIdentifier); assigned != "" {
			c.clientID = assigned
		}
	}

	if props.Has(PropServerKeepAlive) {
		c.keepAlive = props.GetUint16(PropServerKeepAlive)
	}

	if props.Has(PropReceiveMaximum) {
		c.flow.SetReceiveMaximum(props.GetUint16(PropReceiveMaximum))
	} else {
		c.flow.SetReceiveMaximum(65535)
	}

	// Outbound aliases are only usable up to what the broker advertises.
	serverAliasMax := props.GetUint16(PropTopicAliasMaximum)
	if serverAliasMax < c.opts.topicAliasMaximum {
		c.aliases.SetOutboundMax(serverAliasMax)
	} else {
		c.aliases.SetOutboundMax(c.opts.topicAliasMaximum)
	}

	if props.Has(PropMaximumPacketSize) {
		c.maxOutbound = props.GetUint32(PropMaximumPacketSize)
	}
}

// restoreSession applies the clean-session x session-present matrix.
func (c *Client) restoreSession(sessionPresent bool) error {
	store := c.opts.store

	if c.opts.cleanStart {
		if store != nil {
			if err := store.Delete(c.storeKey()); err != nil {
				c.logger.Warn("session delete failed", LogFields{LogFieldError: err})
			}
		}
		return nil
	}

	if store == nil {
		return nil
	}

	state, err := store.Load(c.storeKey())
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	if !sessionPresent {
		// The broker lost the session; local state is stale.
		c.logger.Warn("broker has no session, clearing local state", LogFields{
			LogFieldClientID: c.clientID,
		})
		if err := store.Delete(c.storeKey()); err != nil {
			c.logger.Warn("session delete failed", LogFields{LogFieldError: err})
		}
		c.subs.clear()
		return nil
	}

	c.subs.restore(state.Subscriptions)

	// Only the PUBREL phase survives a reconnect; replay it now.
	for _, id := range state.PendingQoS2 {
		if err := c.packetIDs.Claim(id); err != nil {
			continue
		}
		c.outbound.RestorePubrel(id)

		pubrel := &PubrelPacket{PacketID: id, ReasonCode: ReasonSuccess}
		if _, err := c.writePacket(pubrel); err != nil {
			return err
		}
		c.logger.Debug("replayed PUBREL", LogFields{LogFieldPacketID: id})
	}

	return nil
}

// storeKey is the client ID used with the session store.
func (c *Client) storeKey() string {
	if c.clientID != "" {
		return c.clientID
	}
	return c.opts.clientID
}

// saveSession snapshots the subscription registry and PUBREL set. Saves
// are skipped for clean sessions and when no store is configured.
func (c *Client) saveSession() {
	store := c.opts.store
	if store == nil || c.opts.cleanStart {
		return
	}

	state := NewSessionState()
	state.Subscriptions = c.subs.snapshot(c.version)
	state.PendingQoS2 = c.outbound.PendingPubrel()

	if err := store.Save(c.storeKey(), state); err != nil {
		c.logger.Error("session save failed", LogFields{LogFieldError: err})
	}
}

// writePacket serialises one packet onto the transport. Packets are staged
// and written with a single call, so a failed encode leaves nothing on the
// wire.
func (c *Client) writePacket(packet Packet) (int, error) {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	if conn == nil {
		return 0, ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.opts.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}

	n, err := WritePacket(conn, packet, c.version, c.maxOutbound)
	if err == nil {
		c.lastWrite.Store(time.Now().UnixNano())
	}
	return n, err
}

// Publish sends an application message. For QoS 1 and 2 it returns the
// packet identifier after flow-control admission and the transport write;
// broker-side rejection surfaces later through the event handler. QoS 0
// returns packet ID 0.
func (c *Client) Publish(ctx context.Context, msg *Message) (uint16, error) {
	if c.State() != StateConnected {
		return 0, ErrNotConnected
	}
	if msg.QoS > 2 {
		return 0, ErrInvalidQoS
	}
	if msg.Topic != "" {
		if err := ValidateTopicName(msg.Topic); err != nil {
			return 0, err
		}
	}

	if err := c.limiter.wait(ctx); err != nil {
		return 0, err
	}

	pub := &PublishPacket{
		Topic:   msg.Topic,
		Payload: msg.Payload,
		QoS:     msg.QoS,
		Retain:  msg.Retain,
	}
	if c.version.Is5() {
		pub.Props = msg.ToProperties()

		// The topic string is kept alongside the alias even on reuse, so
		// a broker that dropped its alias table recovers. Callers
		// chasing the wire saving publish with an empty topic once the
		// alias is established.
		if msg.Topic != "" {
			if alias, outcome := c.aliases.Assign(msg.Topic); outcome != AliasNone {
				pub.Props.Set(PropTopicAlias, alias)
			}
		}
	}

	if msg.QoS == 0 {
		if _, err := c.writePacket(pub); err != nil {
			c.connectionLost(err)
			return 0, err
		}
		return 0, nil
	}

	timeout := c.opts.acquireTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := c.flow.Acquire(ctx, timeout); err != nil {
		return 0, err
	}

	id, err := c.packetIDs.Allocate()
	if err != nil {
		c.flow.Release()
		return 0, err
	}
	pub.PacketID = id

	tracked := msg.Clone()
	tracked.Topic = pub.Topic
	if msg.QoS == 1 {
		c.outbound.TrackQoS1(id, tracked)
	} else {
		c.outbound.TrackQoS2(id, tracked)
	}

	if _, err := c.writePacket(pub); err != nil {
		c.outbound.Remove(id)
		c.packetIDs.Release(id)
		c.flow.Release()
		c.connectionLost(err)
		return 0, err
	}

	return id, nil
}

// Subscribe sends SUBSCRIBE and waits for the SUBACK. It returns one
// reason code per filter, in order. Granted subscriptions enter the
// registry with their granted QoS.
func (c *Client) Subscribe(ctx context.Context, subs ...Subscription) ([]ReasonCode, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	if len(subs) == 0 {
		return nil, ErrNoSubscriptions
	}
	for _, sub := range subs {
		if err := ValidateTopicFilter(sub.Filter); err != nil {
			return nil, err
		}
	}

	id, err := c.packetIDs.Allocate()
	if err != nil {
		return nil, err
	}
	defer c.packetIDs.Release(id)

	packet := &SubscribePacket{PacketID: id, Subscriptions: subs}

	ack, err := c.exchange(ctx, id, packet)
	if err != nil {
		return nil, err
	}

	suback, ok := ack.(*SubackPacket)
	if !ok {
		return nil, fmt.Errorf("%w: expected SUBACK", ErrProtocolError)
	}
	if len(suback.ReasonCodes) != len(subs) {
		return nil, fmt.Errorf("%w: SUBACK reason code count mismatch", ErrProtocolError)
	}

	for i, rc := range suback.ReasonCodes {
		if rc.IsError() {
			c.logger.Warn("subscription rejected", LogFields{
				LogFieldTopic:      subs[i].Filter,
				LogFieldReasonCode: byte(rc),
			})
			continue
		}
		granted := subs[i]
		granted.QoS = byte(rc) // granted QoS, not requested
		c.subs.set(granted)
	}

	c.saveSession()
	return suback.ReasonCodes, nil
}

// Unsubscribe sends UNSUBSCRIBE and waits for the UNSUBACK. For v3.1.1 the
// returned codes are all success since the packet carries none.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) ([]ReasonCode, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	if len(filters) == 0 {
		return nil, ErrNoTopicFilters
	}

	id, err := c.packetIDs.Allocate()
	if err != nil {
		return nil, err
	}
	defer c.packetIDs.Release(id)

	packet := &UnsubscribePacket{PacketID: id, TopicFilters: filters}

	ack, err := c.exchange(ctx, id, packet)
	if err != nil {
		return nil, err
	}

	unsuback, ok := ack.(*UnsubackPacket)
	if !ok {
		return nil, fmt.Errorf("%w: expected UNSUBACK", ErrProtocolError)
	}

	codes := unsuback.ReasonCodes
	if !c.version.Is5() {
		codes = make([]ReasonCode, len(filters))
	}

	for i, filter := range filters {
		if i < len(codes) && codes[i].IsError() {
			continue
		}
		c.subs.remove(filter)
	}

	c.saveSession()
	return codes, nil
}

// exchange writes a packet and waits for its acknowledgement by packet ID.
func (c *Client) exchange(ctx context.Context, id uint16, packet Packet) (Packet, error) {
	waiter := make(chan Packet, 1)

	c.ackMu.Lock()
	c.ackWaiters[id] = waiter
	c.ackMu.Unlock()

	defer func() {
		c.ackMu.Lock()
		delete(c.ackWaiters, id)
		c.ackMu.Unlock()
	}()

	start := time.Now()
	if _, err := c.writePacket(packet); err != nil {
		c.connectionLost(err)
		return nil, err
	}

	timeout := c.opts.readTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	c.stopMu.Lock()
	stop := c.stop
	c.stopMu.Unlock()

	select {
	case ack := <-waiter:
		return ack, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-stop:
		return nil, ErrNotConnected
	case <-timer.C:
		return nil, &TimeoutError{Operation: packet.Type().String(), Elapsed: time.Since(start)}
	}
}

// OnMessage registers the application message handler. With no handler,
// inbound messages queue for AwaitMessage.
func (c *Client) OnMessage(handler MessageHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = handler
}

// AwaitMessage returns the next inbound message, or nil when the timeout
// elapses. Disconnect aborts the wait immediately with ErrNotConnected.
func (c *Client) AwaitMessage(timeout time.Duration) (*Message, error) {
	// Drain anything already queued before checking connectivity.
	select {
	case msg := <-c.msgQueue:
		return msg, nil
	default:
	}

	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	c.stopMu.Lock()
	stop := c.stop
	c.stopMu.Unlock()

	select {
	case msg := <-c.msgQueue:
		return msg, nil
	case <-timer.C:
		return nil, nil
	case <-stop:
		return nil, ErrNotConnected
	}
}

// Run registers the handler and blocks until the connection ends,
// returning the terminal connection error (nil after a graceful
// disconnect). idleSleep bounds how often the loop wakes when idle.
func (c *Client) Run(ctx context.Context, handler MessageHandler, idleSleep time.Duration) error {
	if handler != nil {
		c.OnMessage(handler)
	}
	if idleSleep <= 0 {
		idleSleep = 100 * time.Millisecond
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return c.terminalError()
		case <-time.After(idleSleep):
			if c.closed.Load() {
				return c.terminalError()
			}
		}
	}
}

// Disconnect ends the session gracefully: session state is saved, a
// DISCONNECT with reason 0x00 is written, and the transport is closed.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.DisconnectWithReason(ctx, ReasonSuccess, nil)
}

// DisconnectWithReason ends the session with a v5 reason code and optional
// properties. For v3.1.1 the reason is ignored on the wire.
func (c *Client) DisconnectWithReason(_ context.Context, reason ReasonCode, props *Properties) error {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		// Already down; closing an idle client is not an error.
		c.close(nil)
		return nil
	}

	c.saveSession()

	packet := &DisconnectPacket{}
	if c.version.Is5() {
		packet.ReasonCode = reason
		if props != nil {
			packet.Props = *props
		}
	}

	_, writeErr := c.writePacket(packet)

	c.teardown()
	c.state.Store(int32(StateDisconnected))
	c.close(nil)
	c.emit(&DisconnectError{ReasonCode: reason, Remote: false})

	return writeErr
}

// teardown stops the loops and closes the transport.
func (c *Client) teardown() {
	c.signalStop()

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

func (c *Client) signalStop() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()

	if c.stop == nil {
		return
	}
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// close marks the client finished and records the terminal error.
func (c *Client) close(err error) {
	if c.closed.CompareAndSwap(false, true) {
		c.termMu.Lock()
		c.termErr = err
		c.termMu.Unlock()
		close(c.done)
	}
}

func (c *Client) terminalError() error {
	c.termMu.Lock()
	defer c.termMu.Unlock()
	return c.termErr
}

// readLoop is the single consumer of the transport. Every inbound packet
// passes through here, so handler delivery order matches arrival order.
func (c *Client) readLoop(stop chan struct{}) {
	defer close(c.readDone)

	for {
		select {
		case <-stop:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		// The read deadline doubles as the keep-alive death check: no
		// packet of any kind within 1.5x the interval kills the link.
		if c.keepAlive > 0 {
			conn.SetReadDeadline(time.Now().Add(time.Duration(c.keepAlive) * time.Second * 3 / 2))
		} else if c.opts.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.opts.readTimeout * 10))
		}

		packet, _, err := ReadPacket(conn, c.version, c.opts.maxPacketSize)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}

			if isTimeout(err) && c.keepAlive > 0 {
				c.connectionLost(ErrKeepAliveTimeout)
			} else {
				c.connectionLost(err)
			}
			return
		}

		c.lastRead.Store(time.Now().UnixNano())
		c.dispatch(packet)
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// keepAliveLoop writes PINGREQ once half the interval passes without an
// outbound packet.
func (c *Client) keepAliveLoop(stop chan struct{}) {
	interval := time.Duration(c.keepAlive) * time.Second
	ticker := time.NewTicker(interval / 4)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, c.lastWrite.Load()))
			if idle < interval/2 {
				continue
			}
			if c.State() != StateConnected {
				return
			}
			if _, err := c.writePacket(&PingreqPacket{}); err != nil {
				c.connectionLost(err)
				return
			}
			c.logger.Debug("ping", nil)
		}
	}
}

// dispatch routes one inbound packet.
func (c *Client) dispatch(packet Packet) {
	switch p := packet.(type) {
	case *PublishPacket:
		c.handleInboundPublish(p)

	case *PubackPacket:
		if _, ok := c.outbound.HandlePuback(p.PacketID); ok {
			c.packetIDs.Release(p.PacketID)
			c.flow.Release()
			if p.ReasonCode.IsError() {
				c.emit(&PublishError{PacketID: p.PacketID, ReasonCode: p.ReasonCode})
			}
		}

	case *PubrecPacket:
		if p.ReasonCode.IsError() {
			// The broker rejected the publish; the exchange is dead.
			if c.outbound.Remove(p.PacketID) {
				c.packetIDs.Release(p.PacketID)
				c.flow.Release()
				c.emit(&PublishError{PacketID: p.PacketID, ReasonCode: p.ReasonCode})
			}
			return
		}
		if _, ok := c.outbound.HandlePubrec(p.PacketID); ok {
			c.saveSession()
			pubrel := &PubrelPacket{PacketID: p.PacketID, ReasonCode: ReasonSuccess}
			if _, err := c.writePacket(pubrel); err != nil {
				c.connectionLost(err)
			}
		}

	case *PubrelPacket:
		// PUBCOMP goes back unconditionally; a duplicate PUBREL means
		// our earlier PUBCOMP was lost.
		c.inboundQoS2.Complete(p.PacketID)
		pubcomp := &PubcompPacket{PacketID: p.PacketID, ReasonCode: ReasonSuccess}
		if _, err := c.writePacket(pubcomp); err != nil {
			c.connectionLost(err)
		}

	case *PubcompPacket:
		if _, ok := c.outbound.HandlePubcomp(p.PacketID); ok {
			c.packetIDs.Release(p.PacketID)
			c.flow.Release()
			c.saveSession()
			if p.ReasonCode.IsError() {
				c.emit(&PublishError{PacketID: p.PacketID, ReasonCode: p.ReasonCode})
			}
		}

	case *SubackPacket:
		c.deliverAck(p.PacketID, p)

	case *UnsubackPacket:
		c.deliverAck(p.PacketID, p)

	case *PingrespPacket:
		// lastRead is already updated; nothing else to do.

	case *DisconnectPacket:
		c.handleServerDisconnect(p)

	case *AuthPacket:
		c.handleReauth(p)

	default:
		c.logger.Warn("unexpected packet", LogFields{
			LogFieldPacketType: packet.Type().String(),
		})
	}
}

func (c *Client) deliverAck(id uint16, packet Packet) {
	c.ackMu.Lock()
	waiter, ok := c.ackWaiters[id]
	c.ackMu.Unlock()

	if ok {
		select {
		case waiter <- packet:
		default:
		}
	}
}

// handleInboundPublish resolves topic aliases, applies client-side
// filters, deduplicates QoS 2 and acknowledges per QoS.
func (c *Client) handleInboundPublish(p *PublishPacket) {
	topic := p.Topic

	if c.version.Is5() && p.Props.Has(PropTopicAlias) {
		alias := p.Props.GetUint16(PropTopicAlias)

		if topic != "" {
			// Carrying both registers (or re-registers) the alias.
			if err := c.aliases.Register(alias, topic); err != nil {
				c.protocolViolation(ReasonTopicAliasInvalid, err)
				return
			}
		} else {
			resolved, err := c.aliases.Resolve(alias)
			if err != nil {
				c.protocolViolation(ReasonTopicAliasInvalid, err)
				return
			}
			topic = resolved
		}
	}

	if topic == "" {
		c.protocolViolation(ReasonProtocolError, ErrTopicNameEmpty)
		return
	}

	msg := p.ToMessage(topic)

	switch p.QoS {
	case 0:
		c.deliver(msg)

	case 1:
		c.deliver(msg)
		puback := &PubackPacket{PacketID: p.PacketID, ReasonCode: ReasonSuccess}
		if _, err := c.writePacket(puback); err != nil {
			c.connectionLost(err)
		}

	case 2:
		// Deliver only on first sight of the packet ID; PUBREC goes back
		// either way.
		if c.inboundQoS2.Admit(p.PacketID) {
			c.deliver(msg)
		}
		pubrec := &PubrecPacket{PacketID: p.PacketID, ReasonCode: ReasonSuccess}
		if _, err := c.writePacket(pubrec); err != nil {
			c.connectionLost(err)
		}
	}
}

// deliver hands a message to the handler (or the await queue), applying
// client-side filters on the resolved topic. Handler panics are contained.
func (c *Client) deliver(msg *Message) {
	if len(c.opts.messageFilters) > 0 {
		matched := false
		for _, f := range c.opts.messageFilters {
			if TopicMatch(f, msg.Topic) {
				matched = true
				break
			}
		}
		if !matched {
			return
		}
	}

	c.handlerMu.Lock()
	handler := c.handler
	c.handlerMu.Unlock()

	if handler == nil {
		select {
		case c.msgQueue <- msg:
		default:
			c.logger.Warn("await queue full, dropping message", LogFields{
				LogFieldTopic: msg.Topic,
			})
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked", LogFields{
				LogFieldTopic: msg.Topic,
				LogFieldError: fmt.Sprint(r),
			})
		}
	}()
	handler(msg)
}

// protocolViolation disconnects with the given reason code after a fatal
// inbound protocol error.
func (c *Client) protocolViolation(reason ReasonCode, cause error) {
	c.logger.Error("protocol violation", LogFields{
		LogFieldReasonCode: byte(reason),
		LogFieldError:      cause,
	})

	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		packet := &DisconnectPacket{ReasonCode: reason}
		c.writePacket(packet)
		c.saveSession()
		c.teardown()
		c.state.Store(int32(StateDisconnected))
		c.close(fmt.Errorf("%w: %v", ErrProtocolError, cause))
	}
}

// handleServerDisconnect processes a server-initiated DISCONNECT: emit the
// typed event, tear the connection down and decide on reconnection.
func (c *Client) handleServerDisconnect(p *DisconnectPacket) {
	willReconnect := c.opts.autoReconnect && p.ReasonCode.IsError()

	c.emit(&ServerDisconnectEvent{Packet: p, WillReconnect: willReconnect})

	c.logger.Info("server disconnect", LogFields{
		LogFieldReasonCode: byte(p.ReasonCode),
	})

	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		return
	}

	c.saveSession()
	c.teardown()

	err := &DisconnectError{ReasonCode: p.ReasonCode, Properties: &p.Props, Remote: true}

	if willReconnect {
		c.state.Store(int32(StateReconnecting))
		go c.reconnectLoop()
		return
	}

	c.state.Store(int32(StateDisconnected))
	if p.ReasonCode.IsError() {
		c.close(err)
	} else {
		c.close(nil)
	}
}

// handleReauth answers a server-initiated re-authentication exchange.
func (c *Client) handleReauth(p *AuthPacket) {
	if c.opts.authenticator == nil || p.ReasonCode != ReasonContinueAuth {
		c.protocolViolation(ReasonProtocolError, ErrAuthFailed)
		return
	}

	next, err := c.opts.authenticator.AuthContinue(context.Background(), &EnhancedAuthContext{
		AuthMethod: p.Props.GetString(PropAuthenticationMethod),
		AuthData:   p.Props.GetBinary(PropAuthenticationData),
		ReasonCode: p.ReasonCode,
	})
	if err != nil {
		c.protocolViolation(ReasonNotAuthorized, err)
		return
	}

	reply := &AuthPacket{ReasonCode: ReasonContinueAuth}
	reply.Props.Set(PropAuthenticationMethod, c.opts.authenticator.AuthMethod())
	if len(next.AuthData) > 0 {
		reply.Props.Set(PropAuthenticationData, next.AuthData)
	}
	if _, err := c.writePacket(reply); err != nil {
		c.connectionLost(err)
	}
}

// connectionLost handles abnormal termination: teardown, event, and
// either reconnection or surfacing the error.
func (c *Client) connectionLost(cause error) {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting)) {
		return
	}

	c.logger.Warn("connection lost", LogFields{LogFieldError: cause})

	c.saveSession()
	c.teardown()

	var lost error
	if errors.Is(cause, ErrKeepAliveTimeout) {
		lost = cause
	} else {
		lost = &ConnectionLostError{Cause: cause}
	}
	c.emit(lost)

	if c.opts.autoReconnect {
		c.state.Store(int32(StateReconnecting))
		go c.reconnectLoop()
		return
	}

	c.state.Store(int32(StateDisconnected))
	c.close(lost)
}

// backoffDelay computes the reconnect delay for an attempt (1-based):
// min(max, base*2^(attempt-1)), then jittered by 1 + uniform(-j, +j).
func backoffDelay(attempt int, base, maxDelay time.Duration, jitter float64) time.Duration {
	if base <= 0 {
		base = time.Second
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	if jitter > 0 {
		factor := 1 + (rand.Float64()*2-1)*jitter
		delay = time.Duration(float64(delay) * factor)
	}

	return delay
}

// reconnectLoop re-runs the handshake with exponential backoff until it
// succeeds, the attempt budget runs out, or the client closes.
func (c *Client) reconnectLoop() {
	for {
		if c.closed.Load() {
			return
		}

		c.reconnectAttempts++
		attempt := c.reconnectAttempts

		if c.opts.maxReconnects >= 0 && attempt > c.opts.maxReconnects {
			c.logger.Error("reconnect attempts exhausted", LogFields{
				LogFieldAttempt: attempt - 1,
			})
			c.emit(ErrReconnectFailed)
			c.state.Store(int32(StateDisconnected))
			c.close(ErrReconnectFailed)
			return
		}

		delay := backoffDelay(attempt, c.opts.reconnectBackoff, c.opts.maxBackoff, c.opts.reconnectJitter)

		c.emit(&ReconnectEvent{
			Attempt:     attempt,
			MaxAttempts: c.opts.maxReconnects,
			Delay:       delay,
		})
		c.logger.Info("reconnecting", LogFields{
			LogFieldAttempt: attempt,
			LogFieldDelay:   delay.String(),
		})

		select {
		case <-time.After(delay):
		case <-c.done:
			return
		}

		result, err := c.connectOnce(context.Background())
		if err != nil {
			c.logger.Warn("reconnect failed", LogFields{
				LogFieldAttempt: attempt,
				LogFieldError:   err,
			})

			// A refused CONNACK is terminal; the broker answered and
			// said no.
			var connErr *ConnectError
			if errors.As(err, &connErr) {
				c.emit(ErrReconnectFailed)
				c.state.Store(int32(StateDisconnected))
				c.close(err)
				return
			}
			continue
		}

		// Exchanges caught in the PUBREL phase when the connection
		// dropped resume with a fresh PUBREL. Ids restored from the
		// session store were already replayed during the handshake;
		// these are the ones the tracker carried across in memory.
		for _, id := range c.outbound.PendingPubrel() {
			pubrel := &PubrelPacket{PacketID: id, ReasonCode: ReasonSuccess}
			if _, err := c.writePacket(pubrel); err != nil {
				c.connectionLost(err)
				return
			}
		}

		// Unacknowledged publishes from the previous connection go out
		// again with DUP set when the broker resumed the session; without
		// a session they are dropped and their packet IDs released.
		for _, pub := range c.outbound.Unacked() {
			if !result.SessionPresent {
				c.outbound.Remove(pub.PacketID)
				c.packetIDs.Release(pub.PacketID)
				continue
			}
			if pub.Message == nil {
				continue
			}
			dup := &PublishPacket{
				Topic:    pub.Message.Topic,
				Payload:  pub.Message.Payload,
				QoS:      pub.Message.QoS,
				Retain:   pub.Message.Retain,
				DUP:      true,
				PacketID: pub.PacketID,
			}
			if c.version.Is5() {
				dup.Props = pub.Message.ToProperties()
			}
			if _, err := c.writePacket(dup); err != nil {
				c.connectionLost(err)
				return
			}
		}

		return
	}
}

// emit delivers an event to the observer, synchronously.
func (c *Client) emit(event error) {
	if c.opts.onEvent == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", LogFields{
				LogFieldError: fmt.Sprint(r),
			})
		}
	}()
	c.opts.onEvent(c, event)
}
