package postgres

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage"
)

const (
	channelMessages      = "messages_changes"
	channelConversations = "conversations_changes"
	channelPresence      = "presence_changes"
)

// notification is the JSON payload published by the schema's NOTIFY triggers.
// Conversation and presence rows are small enough to ride inside it; message
// notifications carry only the row id (bodies can exceed the NOTIFY payload
// limit) and the feed re-reads the row.
type notification struct {
	Type storage.EventType `json:"type"`
	Row  json.RawMessage   `json:"row,omitempty"`
	ID   string            `json:"id,omitempty"`
}

// messageLookup re-reads a message row by id. Implemented by Store.
type messageLookup interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
}

// Feed delivers row changes over PostgreSQL LISTEN/NOTIFY. One pq.Listener
// serves all local subscribers; pq reconnects it on connection loss and the
// subscriber channels stay registered across reconnects.
type Feed struct {
	listener *pq.Listener
	lookup   messageLookup

	mu            sync.RWMutex
	closed        bool
	nextID        int
	messages      map[int]chan<- storage.MessageEvent
	conversations map[int]chan<- storage.ConversationEvent
	presence      map[int]chan<- storage.PresenceEvent
}

// NewFeed opens a listener on the three change channels and starts the
// dispatch loop. lookup resolves message notifications back to full rows.
func NewFeed(dataSourceName string, lookup messageLookup) (*Feed, error) {
	f := &Feed{
		lookup:        lookup,
		messages:      make(map[int]chan<- storage.MessageEvent),
		conversations: make(map[int]chan<- storage.ConversationEvent),
		presence:      make(map[int]chan<- storage.PresenceEvent),
	}
	f.listener = pq.NewListener(dataSourceName, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("[Feed] Listener event %v: %v", ev, err)
		}
	})
	for _, channel := range []string{channelMessages, channelConversations, channelPresence} {
		if err := f.listener.Listen(channel); err != nil {
			f.listener.Close()
			return nil, err
		}
	}
	go f.run()
	return f, nil
}

func (f *Feed) run() {
	for n := range f.listener.Notify {
		if n == nil {
			// Reconnect marker: events may have been missed while the
			// connection was down. Consumers refresh via list/load calls.
			log.Printf("[Feed] Reconnected, events may have been missed")
			continue
		}
		f.dispatch(n.Channel, []byte(n.Extra))
	}
}

func (f *Feed) dispatch(channel string, payload []byte) {
	var note notification
	if err := json.Unmarshal(payload, &note); err != nil {
		log.Printf("[Feed] Bad payload on %s: %v", channel, err)
		return
	}

	switch channel {
	case channelMessages:
		if note.ID == "" {
			log.Printf("[Feed] Message notification without id")
			return
		}
		msg, err := f.lookup.GetMessage(context.Background(), note.ID)
		if err != nil {
			// Subscribers miss this event; their next load catches up.
			log.Printf("[Feed] Re-read failed for message %s: %v", note.ID, err)
			return
		}
		f.mu.RLock()
		for _, ch := range f.messages {
			select {
			case ch <- storage.MessageEvent{Type: note.Type, Message: *msg}:
			default:
			}
		}
		f.mu.RUnlock()
	case channelConversations:
		var conv models.Conversation
		if err := json.Unmarshal(note.Row, &conv); err != nil {
			log.Printf("[Feed] Bad conversation row: %v", err)
			return
		}
		f.mu.RLock()
		for _, ch := range f.conversations {
			select {
			case ch <- storage.ConversationEvent{Type: note.Type, Conversation: conv}:
			default:
			}
		}
		f.mu.RUnlock()
	case channelPresence:
		var rec models.PresenceRecord
		if err := json.Unmarshal(note.Row, &rec); err != nil {
			log.Printf("[Feed] Bad presence row: %v", err)
			return
		}
		f.mu.RLock()
		for _, ch := range f.presence {
			select {
			case ch <- storage.PresenceEvent{Type: note.Type, Record: rec}:
			default:
			}
		}
		f.mu.RUnlock()
	}
}

type handle struct {
	once  sync.Once
	close func()
}

func (h *handle) Close() { h.once.Do(h.close) }

func (f *Feed) subscribe(register func(id int), unregister func(id int)) (storage.FeedHandle, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, storage.ErrFeedDisconnected
	}
	id := f.nextID
	f.nextID++
	register(id)
	f.mu.Unlock()
	return &handle{close: func() {
		f.mu.Lock()
		unregister(id)
		f.mu.Unlock()
	}}, nil
}

func (f *Feed) SubscribeMessages(ch chan<- storage.MessageEvent) (storage.FeedHandle, error) {
	return f.subscribe(
		func(id int) { f.messages[id] = ch },
		func(id int) { delete(f.messages, id) },
	)
}

func (f *Feed) SubscribeConversations(ch chan<- storage.ConversationEvent) (storage.FeedHandle, error) {
	return f.subscribe(
		func(id int) { f.conversations[id] = ch },
		func(id int) { delete(f.conversations, id) },
	)
}

func (f *Feed) SubscribePresence(ch chan<- storage.PresenceEvent) (storage.FeedHandle, error) {
	return f.subscribe(
		func(id int) { f.presence[id] = ch },
		func(id int) { delete(f.presence, id) },
	)
}

// Close shuts the listener down and rejects further subscriptions. Dispatch
// ends when the notify channel closes.
func (f *Feed) Close() error {
	err := f.listener.Close()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return err
}
