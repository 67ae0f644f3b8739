package mqttv3

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
	topicSeparator      = "/"
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// ValidateTopicName validates a topic name used in PUBLISH.
// Topic names cannot contain wildcards and must be valid UTF-8 without U+0000.
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}

	if strings.ContainsAny(topic, "\x00"+singleLevelWildcard+multiLevelWildcard) {
		return ErrInvalidTopicName
	}

	return nil
}

// ValidateTopicFilter validates a subscription topic filter.
// A wildcard must occupy a whole level, and '#' is only allowed as the last level.
func ValidateTopicFilter(filter string) error {
	if filter == "" {
		return ErrEmptyTopic
	}

	if !utf8.ValidString(filter) || strings.ContainsRune(filter, 0) {
		return ErrInvalidTopicFilter
	}

	levels := strings.Split(filter, topicSeparator)

	for i, level := range levels {
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return ErrInvalidTopicFilter
		}

		if strings.Contains(level, multiLevelWildcard) {
			if level != multiLevelWildcard || i != len(levels)-1 {
				return ErrInvalidTopicFilter
			}
		}
	}

	return nil
}

// TopicMatcher evaluates one validated topic filter against topic names.
// It is immutable and safe for concurrent use.
type TopicMatcher struct {
	filter string
	levels []string
}

// NewTopicMatcher validates filter and compiles it into a matcher.
// On failure it returns an *InvalidTopicMatcherError carrying the filter.
func NewTopicMatcher(filter string) (*TopicMatcher, error) {
	if err := ValidateTopicFilter(filter); err != nil {
		return nil, &InvalidTopicMatcherError{Filter: filter, err: err}
	}

	return &TopicMatcher{
		filter: filter,
		levels: strings.Split(filter, topicSeparator),
	}, nil
}

// Filter returns the topic filter the matcher was built from.
func (m *TopicMatcher) Filter() string {
	return m.filter
}

// Matches reports whether topic matches the filter.
func (m *TopicMatcher) Matches(topic string) bool {
	return matchLevels(m.levels, strings.Split(topic, topicSeparator))
}

// MatchesMessage reports whether the topic of an inbound PUBLISH matches the filter.
func (m *TopicMatcher) MatchesMessage(p *PublishPacket) bool {
	if p == nil {
		return false
	}
	return m.Matches(p.Topic)
}

func (m *TopicMatcher) String() string {
	return m.filter
}

// topicMatch matches a raw filter without validating it first.
func topicMatch(filter, topic string) bool {
	return matchLevels(strings.Split(filter, topicSeparator), strings.Split(topic, topicSeparator))
}

// matchLevels zips filter and topic levels.
// '#' matches every remaining level including none. '+' consumes one level,
// and still matches when the topic has run out of levels.
func matchLevels(filter, topic []string) bool {
	for i, level := range filter {
		if level == multiLevelWildcard {
			return true
		}

		if i >= len(topic) {
			if level == singleLevelWildcard {
				continue
			}
			return false
		}

		if level != singleLevelWildcard && level != topic[i] {
			return false
		}
	}

	return len(topic) <= len(filter)
}
