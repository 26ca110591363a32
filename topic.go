package mqttc

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidTopicName   = errors.New("invalid topic name")
	ErrInvalidTopicFilter = errors.New("invalid topic filter")
	ErrEmptyTopic         = errors.New("topic cannot be empty")
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
	sharedPrefix        = "$share/"
)

// ValidateTopicName validates a topic name for publishing. Topic names
// cannot contain wildcards and must be valid UTF-8.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}

	for _, r := range topic {
		if r == 0 || r == singleLevelWildcard || r == multiLevelWildcard {
			return ErrInvalidTopicName
		}
	}

	return nil
}

// ValidateTopicFilter validates a topic filter. Wildcards must follow the
// MQTT placement rules: '+' occupies a whole level, '#' occupies the last
// level. Shared subscription filters ($share/group/filter) are validated
// on their in-group filter part.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(filter) {
		return ErrInvalidTopicFilter
	}

	for _, r := range filter {
		if r == 0 {
			return ErrInvalidTopicFilter
		}
	}

	if IsSharedSubscription(filter) {
		_, err := ParseSharedSubscription(filter)
		return err
	}

	levels := strings.Split(filter, string(topicSeparator))

	for i, level := range levels {
		if strings.ContainsRune(level, singleLevelWildcard) && level != "+" {
			return ErrInvalidTopicFilter
		}

		if strings.ContainsRune(level, multiLevelWildcard) {
			if level != "#" || i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}

	return nil
}

// TopicMatch reports whether a topic name matches a topic filter. Shared
// subscription filters match on their in-group filter part. Topics starting
// with '$' never match filters starting with a wildcard.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if shared, err := ParseSharedSubscription(filter); err == nil && shared != nil {
		filter = shared.TopicFilter
	}

	if topic[0] == '$' {
		if filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard {
			return false
		}
	}

	return matchLevels(filter, topic)
}

// matchLevels walks both strings level by level without allocating.
func matchLevels(filter, topic string) bool {
	fi, ti := 0, 0
	flen, tlen := len(filter), len(topic)

	for fi < flen {
		fstart := fi
		for fi < flen && filter[fi] != topicSeparator {
			fi++
		}
		flevel := filter[fstart:fi]

		if flevel == "#" {
			return true
		}

		if ti >= tlen {
			return false
		}

		tstart := ti
		for ti < tlen && topic[ti] != topicSeparator {
			ti++
		}
		tlevel := topic[tstart:ti]

		if flevel != "+" && flevel != tlevel {
			return false
		}

		if fi < flen {
			fi++
		}
		if ti < tlen {
			ti++
		}
	}

	return ti >= tlen
}

// SharedSubscription represents a parsed $share/{group}/{filter} filter.
type SharedSubscription struct {
	ShareName   string
	TopicFilter string
}

// ParseSharedSubscription parses a shared subscription filter. It returns
// (nil, nil) for ordinary filters.
func ParseSharedSubscription(filter string) (*SharedSubscription, error) {
	if !strings.HasPrefix(filter, sharedPrefix) {
		return nil, nil
	}

	rest := filter[len(sharedPrefix):]
	idx := strings.IndexByte(rest, topicSeparator)
	if idx <= 0 {
		return nil, ErrInvalidTopicFilter
	}

	shareName := rest[:idx]
	topicFilter := rest[idx+1:]

	if topicFilter == "" {
		return nil, ErrInvalidTopicFilter
	}

	if strings.ContainsAny(shareName, "#+") {
		return nil, ErrInvalidTopicFilter
	}

	if err := ValidateTopicFilter(topicFilter); err != nil {
		return nil, err
	}

	return &SharedSubscription{
		ShareName:   shareName,
		TopicFilter: topicFilter,
	}, nil
}

// IsSharedSubscription returns true if the filter is a shared subscription.
func IsSharedSubscription(filter string) bool {
	return strings.HasPrefix(filter, sharedPrefix)
}
