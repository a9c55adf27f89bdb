package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sweeply/sweeply-backend/internal/models"
)

// Frame is the JSON envelope pushed to connected clients.
type Frame struct {
	Type           string                 `json:"type"` // "message" | "history" | "conversations" | "presence"
	ConversationID string                 `json:"conversation_id,omitempty"`
	Message        *models.Message        `json:"message,omitempty"`
	Messages       []models.Message       `json:"messages,omitempty"`
	Presence       *models.PresenceRecord `json:"presence,omitempty"`
	UserID         string                 `json:"user_id,omitempty"`
}

// PushHistory sends the full ordered message list of a conversation, used
// when the client opens a conversation view.
func (c *Client) PushHistory(conversationID string, msgs []models.Message) {
	c.push(Frame{Type: "history", ConversationID: conversationID, Messages: msgs})
}

type Client struct {
	UserID string
	Send   chan []byte
	Conn   *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		Send:   make(chan []byte, 256),
		Conn:   conn,
		done:   make(chan struct{}),
	}
}

// Close signals the write pump to exit. Send itself is never closed: feed
// goroutines may still be mid-flight with a frame after teardown, and a send
// on a closed channel panics where a send to an unread buffer is dropped.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed when the client shuts down; the write pump selects on it.
func (c *Client) Done() <-chan struct{} { return c.done }

// push marshals and queues a frame; a slow consumer drops the frame rather
// than stalling the dispatch goroutine.
func (c *Client) push(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		log.Printf("[WS] Marshal failed: %v", err)
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// The Client is the observer for its session's subscription manager: feed
// events become frames on the socket and the browser re-renders from them.

func (c *Client) OnNewMessage(conversationID string, msg models.Message) {
	c.push(Frame{Type: "message", ConversationID: conversationID, Message: &msg})
}

func (c *Client) OnConversationsChanged() {
	c.push(Frame{Type: "conversations"})
}

func (c *Client) OnPresenceChanged(userID string, rec models.PresenceRecord) {
	c.push(Frame{Type: "presence", UserID: userID, Presence: &rec})
}
