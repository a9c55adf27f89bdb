package storage

import (
	"errors"

	"github.com/sweeply/sweeply-backend/internal/models"
)

// ErrFeedDisconnected is returned when subscribing to a change feed that has
// shut down. It is soft: an open subscription signals the same condition by
// closing its event channel, and consumers resubscribe rather than fail.
var ErrFeedDisconnected = errors.New("storage: change feed disconnected")

// EventType classifies a change event.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
)

// MessageEvent is pushed on every message insert.
type MessageEvent struct {
	Type    EventType
	Message models.Message
}

// ConversationEvent is pushed when a conversation row is created or its
// last-activity timestamp bumped.
type ConversationEvent struct {
	Type         EventType
	Conversation models.Conversation
}

// PresenceEvent is pushed on every presence upsert.
type PresenceEvent struct {
	Type   EventType
	Record models.PresenceRecord
}

// FeedHandle is an open subscription. Closing it stops delivery to the
// subscriber's channel; Close never blocks on a network round trip and is
// safe to call more than once. The subscriber owns its channel and decides
// when to close it.
type FeedHandle interface {
	Close()
}

// ChangeFeed is the push side of the gateway: near-real-time notification of
// row changes. Delivery order is best effort and may not match persistence
// order; consumers re-sort by timestamp rather than append blindly. A dropped
// feed is reported by closing the event channel, after which the consumer
// resubscribes.
type ChangeFeed interface {
	SubscribeMessages(ch chan<- MessageEvent) (FeedHandle, error)
	SubscribeConversations(ch chan<- ConversationEvent) (FeedHandle, error)
	SubscribePresence(ch chan<- PresenceEvent) (FeedHandle, error)
}
