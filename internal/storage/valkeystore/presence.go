// Package valkeystore keeps presence records in Valkey: one JSON value per
// user with a TTL for garbage collection, and pub/sub as the presence change
// feed. Chat data stays in the relational store; presence is the hot,
// disposable part of the gateway and suits a key/value store.
package valkeystore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage"
	"github.com/valkey-io/valkey-go"
)

const (
	keyPrefix     = "presence:"
	pubsubChannel = "presence_changes"

	// recordTTL garbage-collects records of users who never come back. The
	// staleness window stays a read-time rule; the TTL is much longer so
	// last-seen timestamps survive for "last seen 20 minutes ago" rendering.
	recordTTL = time.Hour
)

type PresenceStore struct {
	client valkey.Client

	mu          sync.RWMutex
	nextID      int
	subscribers map[int]chan<- storage.PresenceEvent
	cancel      context.CancelFunc
}

// NewPresenceStore connects to Valkey and starts the pub/sub listener.
func NewPresenceStore(addr string) (*PresenceStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &PresenceStore{
		client:      client,
		subscribers: make(map[int]chan<- storage.PresenceEvent),
		cancel:      cancel,
	}
	go s.listen(ctx)
	log.Println("Successfully connected to Valkey for presence.")
	return s, nil
}

func (s *PresenceStore) Upsert(ctx context.Context, rec models.PresenceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	set := s.client.B().Set().Key(keyPrefix + rec.UserID).Value(string(data)).Ex(recordTTL).Build()
	if err := s.client.Do(ctx, set).Error(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	pub := s.client.B().Publish().Channel(pubsubChannel).Message(string(data)).Build()
	if err := s.client.Do(ctx, pub).Error(); err != nil {
		// The write landed; a lost publish only delays peers until their
		// next fetch.
		log.Printf("[Valkey] Publish failed for %s: %v", rec.UserID, err)
	}
	return nil
}

func (s *PresenceStore) Fetch(ctx context.Context, userIDs []string) (map[string]models.PresenceRecord, error) {
	if len(userIDs) == 0 {
		return map[string]models.PresenceRecord{}, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = keyPrefix + id
	}
	items, err := s.client.Do(ctx, s.client.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	result := make(map[string]models.PresenceRecord, len(userIDs))
	for _, item := range items {
		raw, err := item.ToString()
		if err != nil {
			// Nil entry: no record for that id, which is not an error.
			continue
		}
		var rec models.PresenceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			log.Printf("[Valkey] Bad presence record: %v", err)
			continue
		}
		result[rec.UserID] = rec
	}
	return result, nil
}

func (s *PresenceStore) SubscribePresence(ch chan<- storage.PresenceEvent) (storage.FeedHandle, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = ch
	s.mu.Unlock()
	return &handle{close: func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}}, nil
}

type handle struct {
	once  sync.Once
	close func()
}

func (h *handle) Close() { h.once.Do(h.close) }

// listen fans pub/sub messages out to local subscribers, reconnecting with a
// backoff when the subscription drops.
func (s *PresenceStore) listen(ctx context.Context) {
	for {
		err := s.client.Receive(ctx, s.client.B().Subscribe().Channel(pubsubChannel).Build(), func(m valkey.PubSubMessage) {
			var rec models.PresenceRecord
			if err := json.Unmarshal([]byte(m.Message), &rec); err != nil {
				log.Printf("[Valkey] Bad presence event: %v", err)
				return
			}
			ev := storage.PresenceEvent{Type: storage.EventUpdate, Record: rec}
			s.mu.RLock()
			for _, ch := range s.subscribers {
				select {
				case ch <- ev:
				default:
				}
			}
			s.mu.RUnlock()
		})
		if ctx.Err() != nil {
			return
		}
		log.Printf("[Valkey] Subscription dropped: %v", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// Close stops the listener and releases the client.
func (s *PresenceStore) Close() {
	s.cancel()
	s.client.Close()
}
