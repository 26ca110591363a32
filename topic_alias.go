package mqttc

import (
	"errors"
	"sync"
)

var (
	ErrTopicAliasInvalid  = errors.New("topic alias invalid")
	ErrTopicAliasNotFound = errors.New("topic alias not found")
)

// AliasOutcome describes the result of an outbound alias assignment.
type AliasOutcome int

const (
	// AliasNone means no alias applies: aliases disabled, empty topic,
	// or all slots taken.
	AliasNone AliasOutcome = iota

	// AliasNew means a fresh alias was assigned to the topic.
	AliasNew

	// AliasReuse means the topic already had an alias. The topic string
	// is still sent alongside the alias so brokers that dropped their
	// alias table (for instance after an error) re-learn the mapping.
	AliasReuse
)

// TopicAliasManager manages topic alias mappings for one connection.
// Outbound aliases are assigned locally against the broker's advertised
// maximum; inbound aliases are registered as the broker sends them. The
// mirror maps (topic->alias and alias->topic per direction) always agree.
type TopicAliasManager struct {
	mu           sync.Mutex
	inbound      map[uint16]string
	outbound     map[string]uint16
	outboundNext uint16
	inboundMax   uint16 // aliases we accept from the broker
	outboundMax  uint16 // aliases the broker accepts from us
}

// NewTopicAliasManager creates a topic alias manager. inboundMax is the
// maximum the client advertises in CONNECT; outboundMax is reduced to the
// broker's CONNACK topic-alias-maximum before use. Zero disables the
// respective direction.
func NewTopicAliasManager(inboundMax, outboundMax uint16) *TopicAliasManager {
	return &TopicAliasManager{
		inbound:      make(map[uint16]string),
		outbound:     make(map[string]uint16),
		outboundNext: 1,
		inboundMax:   inboundMax,
		outboundMax:  outboundMax,
	}
}

// Assign returns the alias to use for an outbound topic. The outcome is
// AliasNew on first assignment, AliasReuse when the topic is already
// mapped, and AliasNone when no alias applies.
func (m *TopicAliasManager) Assign(topic string) (uint16, AliasOutcome) {
	if topic == "" {
		return 0, AliasNone
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.outboundMax == 0 {
		return 0, AliasNone
	}

	if alias, ok := m.outbound[topic]; ok {
		return alias, AliasReuse
	}

	if m.outboundNext > m.outboundMax {
		return 0, AliasNone
	}

	alias := m.outboundNext
	m.outbound[topic] = alias
	m.outboundNext++
	return alias, AliasNew
}

// Register records an inbound (alias, topic) pair from a PUBLISH that
// carries both. Re-registration of an alias to a new topic is an update.
// Alias 0 or above the advertised maximum is a protocol violation.
func (m *TopicAliasManager) Register(alias uint16, topic string) error {
	if alias == 0 || topic == "" {
		return ErrTopicAliasInvalid
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inboundMax == 0 || alias > m.inboundMax {
		return ErrTopicAliasInvalid
	}

	m.inbound[alias] = topic
	return nil
}

// Resolve looks up the topic for an inbound alias.
func (m *TopicAliasManager) Resolve(alias uint16) (string, error) {
	if alias == 0 {
		return "", ErrTopicAliasInvalid
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inboundMax == 0 || alias > m.inboundMax {
		return "", ErrTopicAliasInvalid
	}

	topic, ok := m.inbound[alias]
	if !ok {
		return "", ErrTopicAliasNotFound
	}

	return topic, nil
}

// SetOutboundMax caps the outbound maximum from the broker's CONNACK.
func (m *TopicAliasManager) SetOutboundMax(maxVal uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outboundMax = maxVal
}

// OutboundMax returns the outbound alias maximum.
func (m *TopicAliasManager) OutboundMax() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outboundMax
}

// InboundMax returns the inbound alias maximum.
func (m *TopicAliasManager) InboundMax() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inboundMax
}

// OutboundCount returns the number of assigned outbound aliases.
func (m *TopicAliasManager) OutboundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbound)
}

// Reset clears both directions. Aliases are connection-scoped, so this
// runs on every reconnect.
func (m *TopicAliasManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = make(map[uint16]string)
	m.outbound = make(map[string]uint16)
	m.outboundNext = 1
}
