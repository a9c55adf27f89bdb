// Package memory implements the storage gateway with in-process maps. It
// backs local development and tests; the change feed is delivered over
// channels with no network in between.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage"
)

type Store struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation // conversation ID -> conversation
	messages      map[string][]models.Message     // conversation ID -> messages, insert order
	userIndex     map[string][]string             // user ID -> []conversation ID
	presence      map[string]models.PresenceRecord
	profiles      map[string]models.Profile

	feed *feed

	// now is swappable so tests can control timestamps.
	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]models.Message),
		userIndex:     make(map[string][]string),
		presence:      make(map[string]models.PresenceRecord),
		profiles:      make(map[string]models.Profile),
		feed:          newFeed(),
		now:           time.Now,
	}
}

// SetClock overrides the store's clock. Test use only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func sortPair(p1, p2 string) (string, string) {
	if p1 > p2 {
		return p2, p1
	}
	return p1, p2
}

func (s *Store) FindByParticipants(_ context.Context, p1, p2 string) (*models.Conversation, error) {
	p1, p2 = sortPair(p1, p2)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.userIndex[p1] {
		conv := s.conversations[id]
		if conv.Participants[0] == p1 && conv.Participants[1] == p2 {
			c := *conv
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) Create(_ context.Context, p1, p2 string) (*models.Conversation, error) {
	p1, p2 = sortPair(p1, p2)
	s.mu.Lock()
	// Re-check under the write lock so concurrent creates for the same pair
	// converge on one row, mirroring the unique constraint in the SQL backend.
	for _, id := range s.userIndex[p1] {
		conv := s.conversations[id]
		if conv.Participants[0] == p1 && conv.Participants[1] == p2 {
			c := *conv
			s.mu.Unlock()
			return &c, nil
		}
	}
	now := s.now()
	conv := &models.Conversation{
		ID:           uuid.NewString(),
		Participants: [2]string{p1, p2},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.conversations[conv.ID] = conv
	s.userIndex[p1] = append(s.userIndex[p1], conv.ID)
	if p2 != p1 {
		s.userIndex[p2] = append(s.userIndex[p2], conv.ID)
	}
	c := *conv
	s.mu.Unlock()

	s.feed.publishConversation(storage.ConversationEvent{Type: storage.EventInsert, Conversation: c})
	return &c, nil
}

func (s *Store) Get(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *conv
	return &c, nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]*models.Conversation, error) {
	s.mu.RLock()
	var result []*models.Conversation
	for _, id := range s.userIndex[userID] {
		c := *s.conversations[id]
		result = append(result, &c)
	}
	s.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (s *Store) Insert(_ context.Context, msg *models.Message) (*models.Message, error) {
	s.mu.Lock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		s.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	stored := *msg
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.now()
	stored.Read = false
	s.messages[conv.ID] = append(s.messages[conv.ID], stored)
	conv.UpdatedAt = stored.CreatedAt
	c := *conv
	s.mu.Unlock()

	s.feed.publishMessage(storage.MessageEvent{Type: storage.EventInsert, Message: stored})
	s.feed.publishConversation(storage.ConversationEvent{Type: storage.EventUpdate, Conversation: c})
	return &stored, nil
}

func (s *Store) List(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	msgs := append([]models.Message(nil), s.messages[conversationID]...)
	s.mu.RUnlock()
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (s *Store) Last(ctx context.Context, conversationID string) (*models.Message, error) {
	msgs, err := s.List(ctx, conversationID)
	if err != nil || len(msgs) == 0 {
		return nil, storage.ErrNotFound
	}
	last := msgs[len(msgs)-1]
	return &last, nil
}

func (s *Store) CountUnread(_ context.Context, conversationID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, m := range s.messages[conversationID] {
		if m.SenderID != userID && !m.Read {
			count++
		}
	}
	return count, nil
}

func (s *Store) MarkRead(_ context.Context, conversationID, readerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].SenderID != readerID {
			msgs[i].Read = true
		}
	}
	return nil
}

func (s *Store) Upsert(_ context.Context, rec models.PresenceRecord) error {
	s.mu.Lock()
	s.presence[rec.UserID] = rec
	s.mu.Unlock()
	s.feed.publishPresence(storage.PresenceEvent{Type: storage.EventUpdate, Record: rec})
	return nil
}

func (s *Store) Fetch(_ context.Context, userIDs []string) (map[string]models.PresenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]models.PresenceRecord, len(userIDs))
	for _, id := range userIDs {
		if rec, ok := s.presence[id]; ok {
			result[id] = rec
		}
	}
	return result, nil
}

// PutProfile seeds a profile. Used by tests and local fixtures.
func (s *Store) PutProfile(p models.Profile) {
	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()
}

func (s *Store) GetProfile(_ context.Context, userID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}
