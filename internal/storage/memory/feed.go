package memory

import (
	"sync"

	"github.com/sweeply/sweeply-backend/internal/storage"
)

// feed is the in-process change feed: a registry of subscriber channels keyed
// by an internal id. Publishes never block; a subscriber whose channel is full
// misses the event (consumers refresh from the store on demand, so a dropped
// event degrades to staleness, not corruption).
type feed struct {
	mu            sync.RWMutex
	nextID        int
	messages      map[int]chan<- storage.MessageEvent
	conversations map[int]chan<- storage.ConversationEvent
	presence      map[int]chan<- storage.PresenceEvent
}

func newFeed() *feed {
	return &feed{
		messages:      make(map[int]chan<- storage.MessageEvent),
		conversations: make(map[int]chan<- storage.ConversationEvent),
		presence:      make(map[int]chan<- storage.PresenceEvent),
	}
}

type handle struct {
	once  sync.Once
	close func()
}

func (h *handle) Close() { h.once.Do(h.close) }

func (f *feed) subscribe(register func(id int), unregister func(id int)) storage.FeedHandle {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	register(id)
	f.mu.Unlock()
	return &handle{close: func() {
		f.mu.Lock()
		unregister(id)
		f.mu.Unlock()
	}}
}

func (s *Store) SubscribeMessages(ch chan<- storage.MessageEvent) (storage.FeedHandle, error) {
	f := s.feed
	return f.subscribe(
		func(id int) { f.messages[id] = ch },
		func(id int) { delete(f.messages, id) },
	), nil
}

func (s *Store) SubscribeConversations(ch chan<- storage.ConversationEvent) (storage.FeedHandle, error) {
	f := s.feed
	return f.subscribe(
		func(id int) { f.conversations[id] = ch },
		func(id int) { delete(f.conversations, id) },
	), nil
}

func (s *Store) SubscribePresence(ch chan<- storage.PresenceEvent) (storage.FeedHandle, error) {
	f := s.feed
	return f.subscribe(
		func(id int) { f.presence[id] = ch },
		func(id int) { delete(f.presence, id) },
	), nil
}

func (f *feed) publishMessage(ev storage.MessageEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.messages {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (f *feed) publishConversation(ev storage.ConversationEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.conversations {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (f *feed) publishPresence(ev storage.PresenceEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.presence {
		select {
		case ch <- ev:
		default:
		}
	}
}
