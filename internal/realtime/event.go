// Package realtime fans change notifications, broadcasts and presence out to
// subscribers of named topics.
package realtime

import (
	"encoding/json"
	"strings"
	"time"
)

// EventKind separates the three kinds of realtime traffic.
type EventKind string

const (
	KindChange    EventKind = "change"
	KindBroadcast EventKind = "broadcast"
	KindPresence  EventKind = "presence"
)

// ChangeType is the row operation behind a change event.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Tables that publish row changes.
const (
	TableMessages  = "messages"
	TableReactions = "reactions"
)

// Broadcast event names.
const (
	EventTypingStart      = "typingStart"
	EventTypingEnd        = "typingEnd"
	EventUserStatusChange = "userStatusChange"
)

// Presence event names.
const (
	PresenceSync  = "sync"
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

const (
	// UserChangeTopic carries profile and membership changes.
	UserChangeTopic = "user-change"
	// PresenceTopic carries the app-wide online list.
	PresenceTopic = "global-presence"

	messagesTopicPrefix  = "messages:"
	reactionsTopicPrefix = "reactions:"
	channelTopicPrefix   = "channel-"
)

// Event is one realtime notification.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Topic     string          `json:"topic"`
	Table     string          `json:"table,omitempty"`
	Type      ChangeType      `json:"type,omitempty"`
	ChannelID string          `json:"channelId,omitempty"`
	ActorID   string          `json:"actorId,omitempty"`
	New       json.RawMessage `json:"new,omitempty"`
	Old       json.RawMessage `json:"old,omitempty"`
	Broadcast *Broadcast      `json:"broadcast,omitempty"`
	Presence  *PresenceDiff   `json:"presence,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Broadcast is an ephemeral client-to-client message such as a typing indicator.
type Broadcast struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PresenceDiff describes a presence change together with the full online list.
type PresenceDiff struct {
	Event  string   `json:"event"`
	Joins  []string `json:"joins,omitempty"`
	Leaves []string `json:"leaves,omitempty"`
	Online []string `json:"online"`
}

// TypingPayload is the body of typingStart and typingEnd broadcasts.
type TypingPayload struct {
	Message string `json:"message"`
}

// MessagesTopic names the topic carrying message rows of a channel.
func MessagesTopic(channelID string) string {
	return messagesTopicPrefix + channelID
}

// ReactionsTopic names the topic carrying reaction rows of a channel.
func ReactionsTopic(channelID string) string {
	return reactionsTopicPrefix + channelID
}

// ChannelTopic names the broadcast topic of a channel.
func ChannelTopic(channelID string) string {
	return channelTopicPrefix + channelID
}

// TableTopic names the change topic of table rows scoped to channelID.
func TableTopic(table, channelID string) string {
	return table + ":" + channelID
}

// ChannelOf returns the channel a topic is scoped to, or "" for global topics.
func ChannelOf(topic string) string {
	for _, prefix := range []string{messagesTopicPrefix, reactionsTopicPrefix, channelTopicPrefix} {
		if strings.HasPrefix(topic, prefix) {
			return strings.TrimPrefix(topic, prefix)
		}
	}
	return ""
}

// IsKnownTopic reports whether topic is one the hub serves.
func IsKnownTopic(topic string) bool {
	if topic == UserChangeTopic || topic == PresenceTopic {
		return true
	}
	return ChannelOf(topic) != ""
}
