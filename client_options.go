package mqttc

import (
	"crypto/tls"
	"time"
)

// Maximum packet size bounds.
const (
	// MaxPacketSizeProtocol is the largest packet MQTT can frame.
	MaxPacketSizeProtocol uint32 = maxVarint

	// MaxPacketSizeDefault is the default inbound packet size limit.
	MaxPacketSizeDefault uint32 = 4 * 1024 * 1024
)

// clientOptions holds the configuration for a Client. The options are
// immutable once applied; every With function is a pure derivation on the
// value under construction.
type clientOptions struct {
	// Connection settings
	servers    []string
	version    ProtocolVersion
	clientID   string
	username   string
	password   []byte
	keepAlive  uint16
	cleanStart bool

	// Transport
	dialer    Dialer
	tlsConfig *tls.Config

	// Timeouts
	connectTimeout time.Duration
	writeTimeout   time.Duration
	readTimeout    time.Duration
	acquireTimeout time.Duration

	// Will message
	willTopic   string
	willPayload []byte
	willRetain  bool
	willQoS     byte
	willProps   *Properties

	// Auto reconnect settings
	autoReconnect    bool
	maxReconnects    int
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
	reconnectJitter  float64

	// Event handler
	onEvent EventHandler

	// Limits
	maxPacketSize uint32

	// CONNECT properties (v5)
	sessionExpiry     uint32
	sessionExpirySet  bool
	receiveMaximum    uint16
	topicAliasMaximum uint16
	aliasInboundMax   uint16
	userProperties    []StringPair

	// Delivery filters
	messageFilters []string

	// Publish pacing
	publishRate  float64
	publishBurst int

	// Session persistence
	store SessionStore

	// Enhanced authentication
	authenticator Authenticator

	logger Logger
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *clientOptions {
	return &clientOptions{
		version:          ProtocolV50,
		keepAlive:        60,
		cleanStart:       true,
		connectTimeout:   10 * time.Second,
		writeTimeout:     5 * time.Second,
		readTimeout:      5 * time.Second,
		acquireTimeout:   DefaultAcquireTimeout,
		maxReconnects:    10,
		reconnectBackoff: 1 * time.Second,
		maxBackoff:       60 * time.Second,
		reconnectJitter:  0.2,
		maxPacketSize:    MaxPacketSizeDefault,
		receiveMaximum:   65535,
		aliasInboundMax:  32,
		logger:           NewNoOpLogger(),
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithServers sets the broker addresses tried in order on each connect.
// Addresses use URI form: tcp://host:port, tls://host:port,
// unix:///path/to.sock, quic://host:port.
func WithServers(servers ...string) Option {
	return func(o *clientOptions) {
		o.servers = append(o.servers, servers...)
	}
}

// WithProtocolVersion selects MQTT 3.1.1 or 5.0. Default is 5.0.
func WithProtocolVersion(v ProtocolVersion) Option {
	return func(o *clientOptions) {
		o.version = v
	}
}

// WithClientID sets the client identifier. An empty ID on v5 lets the
// server assign one.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
	}
}

// WithCredentials sets the username and password for authentication.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithKeepAlive sets the keep-alive interval in seconds.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanSession sets the clean session (v3.1.1) / clean start (v5)
// flag. Default is true.
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) {
		o.cleanStart = clean
	}
}

// WithTLS sets the TLS configuration. tls:// server addresses use it.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.tlsConfig = config
	}
}

// WithDialer overrides the transport for every server address. When set,
// the address scheme no longer selects the dialer.
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) {
		o.dialer = d
	}
}

// WithConnectTimeout bounds the initial connection and handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithWriteTimeout bounds each transport write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.writeTimeout = d
	}
}

// WithReadTimeout bounds how long Subscribe and Unsubscribe wait for their
// acknowledgement (10 seconds when zero or negative). With keep-alive
// disabled it also sets the transport read deadline, at ten times the
// value. Default is 5 seconds.
func WithReadTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.readTimeout = d
	}
}

// WithAcquireTimeout bounds flow-control admission for publish calls that
// carry no context deadline. Default is 5 seconds.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.acquireTimeout = d
	}
}

// WithWill sets the Will message published by the broker if the connection
// terminates abnormally.
func WithWill(topic string, payload []byte, qos byte, retain bool) Option {
	return func(o *clientOptions) {
		o.willTopic = topic
		o.willPayload = payload
		o.willQoS = qos
		o.willRetain = retain
	}
}

// WithWillProps sets the v5 properties for the Will message.
func WithWillProps(props *Properties) Option {
	return func(o *clientOptions) {
		o.willProps = props
	}
}

// WithAutoReconnect enables automatic reconnection on abnormal
// termination.
func WithAutoReconnect(enabled bool) Option {
	return func(o *clientOptions) {
		o.autoReconnect = enabled
	}
}

// WithMaxReconnects caps reconnection attempts. -1 means unlimited.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) {
		o.maxReconnects = n
	}
}

// WithReconnectBackoff sets the base delay for exponential backoff.
func WithReconnectBackoff(d time.Duration) Option {
	return func(o *clientOptions) {
		o.reconnectBackoff = d
	}
}

// WithMaxBackoff caps the backoff delay.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *clientOptions) {
		o.maxBackoff = d
	}
}

// WithReconnectJitter sets the jitter fraction applied to each backoff
// delay: the delay is multiplied by 1 + uniform(-j, +j). Zero disables
// jitter.
func WithReconnectJitter(j float64) Option {
	return func(o *clientOptions) {
		if j < 0 {
			j = 0
		}
		if j > 1 {
			j = 1
		}
		o.reconnectJitter = j
	}
}

// OnEvent sets the observer for client lifecycle events.
func OnEvent(handler EventHandler) Option {
	return func(o *clientOptions) {
		o.onEvent = handler
	}
}

// WithMaxPacketSize limits the size of inbound packets. Values above the
// protocol maximum are clamped.
func WithMaxPacketSize(size uint32) Option {
	return func(o *clientOptions) {
		if size > MaxPacketSizeProtocol {
			size = MaxPacketSizeProtocol
		}
		o.maxPacketSize = size
	}
}

// WithSessionExpiry sets the v5 session expiry interval in seconds. When
// not set, the property is omitted from CONNECT.
func WithSessionExpiry(seconds uint32) Option {
	return func(o *clientOptions) {
		o.sessionExpiry = seconds
		o.sessionExpirySet = true
	}
}

// WithReceiveMaximum bounds concurrent inbound QoS 1 and 2 publishes and
// seeds the outbound flow controller until CONNACK overrides it.
// Range 1..65535; default 65535.
func WithReceiveMaximum(maxValue uint16) Option {
	return func(o *clientOptions) {
		if maxValue == 0 {
			maxValue = 65535
		}
		o.receiveMaximum = maxValue
	}
}

// WithTopicAliasMaximum caps the number of topic aliases the client assigns
// to outbound publishes. The value is not sent in CONNECT; the broker's
// CONNACK topic-alias-maximum lowers it further, and a broker that
// advertises none disables outbound aliases. Zero disables outbound aliases.
func WithTopicAliasMaximum(maxValue uint16) Option {
	return func(o *clientOptions) {
		o.topicAliasMaximum = maxValue
	}
}

// WithUserProperties adds user properties to the CONNECT packet.
func WithUserProperties(pairs ...StringPair) Option {
	return func(o *clientOptions) {
		o.userProperties = append(o.userProperties, pairs...)
	}
}

// WithMessageFilters installs client-side delivery filters. When
// non-empty, an inbound PUBLISH reaches the handler only if its resolved
// topic matches at least one filter.
func WithMessageFilters(filters ...string) Option {
	return func(o *clientOptions) {
		o.messageFilters = append(o.messageFilters, filters...)
	}
}

// WithPublishRateLimit paces outbound publishes to ratePerSec with the
// given burst. Zero disables pacing.
func WithPublishRateLimit(ratePerSec float64, burst int) Option {
	return func(o *clientOptions) {
		o.publishRate = ratePerSec
		o.publishBurst = burst
	}
}

// WithSessionStore sets the store used to persist session state across
// connections when clean session is off.
func WithSessionStore(store SessionStore) Option {
	return func(o *clientOptions) {
		o.store = store
	}
}

// WithAuthenticator enables v5 enhanced authentication.
func WithAuthenticator(auth Authenticator) Option {
	return func(o *clientOptions) {
		o.authenticator = auth
	}
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// applyOptions applies all options to the defaults.
func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
