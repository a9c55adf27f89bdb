// Package storage defines the persistence gateway consumed by the chat and
// presence services. Implementations live in the memory, postgres and
// valkeystore subpackages; services depend only on these interfaces.
package storage

import (
	"context"
	"errors"

	"github.com/sweeply/sweeply-backend/internal/models"
)

var (
	// ErrNotFound is returned by point lookups that match no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("storage: unavailable")
)

// ConversationStore persists two-party conversations. Participants are always
// stored in sorted order so that the pair (A,B) and (B,A) resolve to the same
// row under the unique pair constraint.
type ConversationStore interface {
	// FindByParticipants returns the conversation for the sorted pair (p1, p2),
	// or ErrNotFound.
	FindByParticipants(ctx context.Context, p1, p2 string) (*models.Conversation, error)
	// Create inserts a conversation for the sorted pair (p1, p2). If a
	// concurrent create won the race, implementations return the existing row
	// rather than a duplicate.
	Create(ctx context.Context, p1, p2 string) (*models.Conversation, error)
	// Get returns the conversation by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.Conversation, error)
	// ListByUser returns every conversation userID participates in, ordered by
	// updated_at descending.
	ListByUser(ctx context.Context, userID string) ([]*models.Conversation, error)
}

// MessageStore persists messages. Inserts assign the id and created_at
// timestamp and bump the owning conversation's updated_at.
type MessageStore interface {
	Insert(ctx context.Context, msg *models.Message) (*models.Message, error)
	// List returns all messages of a conversation ordered by created_at
	// ascending.
	List(ctx context.Context, conversationID string) ([]models.Message, error)
	// Last returns the most recent message of a conversation, or ErrNotFound
	// if the conversation has none.
	Last(ctx context.Context, conversationID string) (*models.Message, error)
	// CountUnread counts messages in the conversation that are unread and not
	// authored by userID.
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
	// MarkRead flips read=true on every message in the conversation not
	// authored by readerID. Idempotent.
	MarkRead(ctx context.Context, conversationID, readerID string) error
}

// PresenceStore persists one presence record per user.
type PresenceStore interface {
	Upsert(ctx context.Context, rec models.PresenceRecord) error
	// Fetch bulk-reads records for the given ids. Ids without a record are
	// absent from the result, not an error.
	Fetch(ctx context.Context, userIDs []string) (map[string]models.PresenceRecord, error)
}

// ProfileStore resolves user identities for summary enrichment.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}
