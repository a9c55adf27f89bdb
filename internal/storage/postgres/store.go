// Package postgres implements the storage gateway on PostgreSQL via lib/pq.
// schema.sql carries the DDL, including the unique index on the ordered
// participant pair and the NOTIFY triggers feeding the change feed.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage"
)

// Store implements the storage interfaces using PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore opens the database connection and verifies it.
func NewStore(dataSourceName string) (*Store, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Println("Successfully connected to PostgreSQL database.")

	return &Store{db: db}, nil
}

func sortPair(p1, p2 string) (string, string) {
	participants := []string{p1, p2}
	sort.Strings(participants)
	return participants[0], participants[1]
}

func (s *Store) FindByParticipants(ctx context.Context, p1, p2 string) (*models.Conversation, error) {
	p1, p2 = sortPair(p1, p2)
	conv := &models.Conversation{}
	query := `
		SELECT id, participant1_id, participant2_id, created_at, updated_at
		FROM conversations
		WHERE participant1_id = $1 AND participant2_id = $2
	`
	err := s.db.QueryRowContext(ctx, query, p1, p2).Scan(
		&conv.ID, &conv.Participants[0], &conv.Participants[1], &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return conv, nil
}

func (s *Store) Create(ctx context.Context, p1, p2 string) (*models.Conversation, error) {
	p1, p2 = sortPair(p1, p2)
	conv := &models.Conversation{}
	// ON CONFLICT DO NOTHING plus a re-read resolves the first-contact race:
	// whichever session lost the insert still gets the surviving row.
	query := `
		INSERT INTO conversations (participant1_id, participant2_id)
		VALUES ($1, $2)
		ON CONFLICT (participant1_id, participant2_id) DO NOTHING
		RETURNING id, participant1_id, participant2_id, created_at, updated_at
	`
	err := s.db.QueryRowContext(ctx, query, p1, p2).Scan(
		&conv.ID, &conv.Participants[0], &conv.Participants[1], &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return s.FindByParticipants(ctx, p1, p2)
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	log.Printf("Created conversation %s between %s and %s", conv.ID, p1, p2)
	return conv, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	query := `
		SELECT id, participant1_id, participant2_id, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.Participants[0], &conv.Participants[1], &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return conv, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `
		SELECT id, participant1_id, participant2_id, created_at, updated_at
		FROM conversations
		WHERE participant1_id = $1 OR participant2_id = $1
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var convs []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		if err := rows.Scan(
			&conv.ID, &conv.Participants[0], &conv.Participants[1], &conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return convs, nil
}

func (s *Store) Insert(ctx context.Context, msg *models.Message) (*models.Message, error) {
	stored := &models.Message{}
	query := `
		INSERT INTO messages (conversation_id, sender_id, kind, text, image_ref)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		RETURNING id, conversation_id, sender_id, kind, COALESCE(text, ''), COALESCE(image_ref, ''), read, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		msg.ConversationID, msg.SenderID, string(msg.Kind), msg.Text, msg.ImageRef,
	).Scan(
		&stored.ID, &stored.ConversationID, &stored.SenderID, &stored.Kind,
		&stored.Text, &stored.ImageRef, &stored.Read, &stored.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "foreign_key_violation" {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	// Bump the conversation's last-activity timestamp. Non-fatal for the
	// send itself.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = NOW() WHERE id = $1`, msg.ConversationID,
	); err != nil {
		log.Printf("Error updating conversation %s timestamp: %v", msg.ConversationID, err)
	}
	return stored, nil
}

func (s *Store) List(ctx context.Context, conversationID string) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, kind, COALESCE(text, ''), COALESCE(image_ref, ''), read, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Kind,
			&msg.Text, &msg.ImageRef, &msg.Read, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return msgs, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg := &models.Message{}
	query := `
		SELECT id, conversation_id, sender_id, kind, COALESCE(text, ''), COALESCE(image_ref, ''), read, created_at
		FROM messages
		WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Kind,
		&msg.Text, &msg.ImageRef, &msg.Read, &msg.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return msg, nil
}

func (s *Store) Last(ctx context.Context, conversationID string) (*models.Message, error) {
	msg := &models.Message{}
	query := `
		SELECT id, conversation_id, sender_id, kind, COALESCE(text, ''), COALESCE(image_ref, ''), read, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Kind,
		&msg.Text, &msg.ImageRef, &msg.Read, &msg.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return msg, nil
}

func (s *Store) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1 AND sender_id <> $2 AND read = FALSE
	`
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return count, nil
}

func (s *Store) MarkRead(ctx context.Context, conversationID, readerID string) error {
	query := `
		UPDATE messages SET read = TRUE
		WHERE conversation_id = $1 AND sender_id <> $2 AND read = FALSE
	`
	if _, err := s.db.ExecContext(ctx, query, conversationID, readerID); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, rec models.PresenceRecord) error {
	query := `
		INSERT INTO presence (user_id, is_online, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET is_online = EXCLUDED.is_online, last_seen = EXCLUDED.last_seen
	`
	if _, err := s.db.ExecContext(ctx, query, rec.UserID, rec.IsOnline, rec.LastSeen); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Fetch(ctx context.Context, userIDs []string) (map[string]models.PresenceRecord, error) {
	query := `
		SELECT user_id, is_online, last_seen
		FROM presence
		WHERE user_id = ANY($1)
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(userIDs))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	result := make(map[string]models.PresenceRecord, len(userIDs))
	for rows.Next() {
		var rec models.PresenceRecord
		if err := rows.Scan(&rec.UserID, &rec.IsOnline, &rec.LastSeen); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		result[rec.UserID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return result, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	p := &models.Profile{}
	query := `
		SELECT id, display_name, COALESCE(avatar_url, '')
		FROM profiles
		WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&p.ID, &p.DisplayName, &p.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return p, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
