package model

import (
	"errors"
	"fmt"
	"strings"
)

// TopicKind is the namespace of a broadcast topic.
type TopicKind string

const (
	TopicMarket TopicKind = "market"
	TopicUser   TopicKind = "user"
	TopicGlobal TopicKind = "global"
)

// ErrInvalidTopic reports a malformed topic string.
var ErrInvalidTopic = errors.New("invalid topic")

// Topic is a parsed broadcast channel name.
type Topic struct {
	Kind TopicKind
	ID   string
}

// GlobalTopic is the system-wide topic.
var GlobalTopic = Topic{Kind: TopicGlobal}

// MarketTopic returns the topic for a market id.
func MarketTopic(id string) Topic {
	return Topic{Kind: TopicMarket, ID: id}
}

// UserTopic returns the topic for a user address. Addresses are lower-cased.
func UserTopic(id string) Topic {
	return Topic{Kind: TopicUser, ID: strings.ToLower(id)}
}

func (t Topic) String() string {
	if t.Kind == TopicGlobal {
		return string(TopicGlobal)
	}
	return string(t.Kind) + ":" + t.ID
}

// ParseTopic parses "global", "market:<id>" or "user:<id>".
func ParseTopic(input string) (Topic, error) {
	input = strings.TrimSpace(input)
	if input == string(TopicGlobal) {
		return GlobalTopic, nil
	}
	kind, id, ok := strings.Cut(input, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, input)
	}
	id = strings.TrimSpace(id)
	switch TopicKind(kind) {
	case TopicMarket:
		return MarketTopic(id), nil
	case TopicUser:
		return UserTopic(id), nil
	default:
		return Topic{}, fmt.Errorf("%w: %q", ErrInvalidTopic, input)
	}
}

// DomainNotification is a state change pushed to topic subscribers.
type DomainNotification struct {
	Topic     string      `json:"topic"`
	EventType string      `json:"eventType"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// EventBody is the payload of a notification derived from a ledger event.
type EventBody struct {
	EventID     string  `json:"eventId"`
	TxHash      string  `json:"txHash"`
	BlockNumber uint64  `json:"blockNumber"`
	Data        Payload `json:"data"`
}
