// Package chat implements the conversation directory and message channel: one
// unique conversation per pair of users, message append/list with read-state
// tracking, and derived conversation summaries for list rendering.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage"
)

// Gateway is the slice of the persistence gateway the chat service needs.
type Gateway interface {
	storage.ConversationStore
	storage.MessageStore
	storage.ProfileStore
}

type Service struct {
	store Gateway
}

func NewService(store Gateway) *Service {
	return &Service{store: store}
}

// GetOrCreateConversation resolves the unique conversation between the two
// parties, creating it on first contact. Lookup is symmetric: (a, b) and
// (b, a) yield the same conversation. The lookup-then-insert sequence is not
// atomic, so a lost race against a concurrent first contact falls through to
// the store's conflict handling and is resolved by a re-read.
func (s *Service) GetOrCreateConversation(ctx context.Context, a, b string) (*models.Conversation, error) {
	if a == "" || b == "" || a == b {
		return nil, fmt.Errorf("%w: %q, %q", ErrPartyInvalid, a, b)
	}

	conv, err := s.store.FindByParticipants(ctx, a, b)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	conv, err = s.store.Create(ctx, a, b)
	if err != nil {
		// The unique pair constraint may have rejected us because the other
		// party created the conversation first. Re-read before giving up.
		if existing, ferr := s.store.FindByParticipants(ctx, a, b); ferr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	log.Printf("[Chat] Created conversation %s between %s and %s", conv.ID, a, b)
	return conv, nil
}

// ListConversations returns summaries for every conversation userID is a
// party to, most recently active first. Each summary carries the counterpart
// profile, the unread count and the last-message preview. The per-conversation
// point queries fan out; fine at this scale.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	if userID == "" {
		return nil, ErrPartyInvalid
	}
	convs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	summaries := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		summary := models.ConversationSummary{
			ConversationID: conv.ID,
			UpdatedAt:      conv.UpdatedAt,
		}

		counterpartID := conv.Counterpart(userID)
		if profile, err := s.store.GetProfile(ctx, counterpartID); err == nil {
			summary.Counterpart = *profile
		} else {
			// Profile lookup is enrichment, not correctness: fall back to the
			// bare id so the conversation still renders.
			log.Printf("[Chat] Profile lookup failed for %s: %v", counterpartID, err)
			summary.Counterpart = models.Profile{ID: counterpartID}
		}

		unread, err := s.store.CountUnread(ctx, conv.ID, userID)
		if err != nil {
			log.Printf("[Chat] Unread count failed for conversation %s: %v", conv.ID, err)
		}
		summary.UnreadCount = unread

		if last, err := s.store.Last(ctx, conv.ID); err == nil {
			summary.LastMessage = last.Preview()
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// SendMessage validates the payload against its kind and appends it to the
// conversation with read=false. Fanout to other clients happens through the
// change feed observed by their subscription managers, not here.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, payload string, kind models.MessageKind) (*models.Message, error) {
	if senderID == "" {
		return nil, ErrPartyInvalid
	}
	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Kind:           kind,
	}
	switch kind {
	case models.KindText:
		if payload == "" {
			return nil, fmt.Errorf("%w: text message with empty text", ErrKindMismatch)
		}
		msg.Text = payload
	case models.KindImage:
		if payload == "" {
			return nil, fmt.Errorf("%w: image message with empty reference", ErrKindMismatch)
		}
		msg.ImageRef = payload
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrKindMismatch, kind)
	}

	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !conv.HasParticipant(senderID) {
		return nil, fmt.Errorf("%w: %s is not a participant of %s", ErrPartyInvalid, senderID, conversationID)
	}

	stored, err := s.store.Insert(ctx, msg)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return stored, nil
}

// LoadMessages returns the conversation's messages oldest first, then marks
// everything not authored by viewerID as read. Opening a conversation is the
// read signal; there is no separate acknowledgement call in the UI.
func (s *Service) LoadMessages(ctx context.Context, conversationID, viewerID string) ([]models.Message, error) {
	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !conv.HasParticipant(viewerID) {
		return nil, fmt.Errorf("%w: %s is not a participant of %s", ErrPartyInvalid, viewerID, conversationID)
	}
	msgs, err := s.store.List(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := s.MarkRead(ctx, conversationID, viewerID); err != nil {
		// The caller got their messages; a failed read-flag flip only delays
		// the unread counter.
		log.Printf("[Chat] MarkRead failed for conversation %s: %v", conversationID, err)
	}
	return msgs, nil
}

// MarkRead flips read=true on every message in the conversation not authored
// by readerID. Re-invoking has no additional effect.
func (s *Service) MarkRead(ctx context.Context, conversationID, readerID string) error {
	if readerID == "" {
		return ErrPartyInvalid
	}
	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !conv.HasParticipant(readerID) {
		return fmt.Errorf("%w: %s is not a participant of %s", ErrPartyInvalid, readerID, conversationID)
	}
	if err := s.store.MarkRead(ctx, conversationID, readerID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
