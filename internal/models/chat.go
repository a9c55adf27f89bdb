package models

import "time"

// MessageKind tags the payload carried by a Message. A text message has a
// non-empty Text and an empty ImageRef; an image message is the reverse.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// ImagePreview is the fixed preview string shown for image messages in
// conversation summaries instead of the raw image reference.
const ImagePreview = "sent an image"

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Kind           MessageKind `json:"kind"`
	Text           string      `json:"text,omitempty"`
	ImageRef       string      `json:"image_ref,omitempty"`
	Read           bool        `json:"read"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Preview returns the summary line for the message: the literal text for text
// messages, the fixed placeholder for image messages.
func (m *Message) Preview() string {
	if m.Kind == KindImage {
		return ImagePreview
	}
	return m.Text
}

type Conversation struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"` // Always 2, stored in sorted order
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Counterpart returns the other participant of the conversation, or "" if
// userID is not a participant.
func (c *Conversation) Counterpart(userID string) string {
	switch userID {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}

// HasParticipant reports whether userID is one of the two parties.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// InsertByTimestamp places m into msgs keeping created_at ascending order.
// Feed delivery can lag persistence order, so consumers holding an open
// message list use this instead of appending to the tail.
func InsertByTimestamp(msgs []Message, m Message) []Message {
	i := len(msgs)
	for i > 0 && msgs[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	msgs = append(msgs, Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = m
	return msgs
}

// ConversationSummary is the derived per-conversation view used for list
// rendering. It is recomputed from Message state on every load, never stored.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	Counterpart    Profile   `json:"counterpart"`
	UnreadCount    int       `json:"unread_count"`
	LastMessage    string    `json:"last_message,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}
