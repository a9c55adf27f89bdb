package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage/memory"
)

func newTestService() (*Service, *memory.Store) {
	store := memory.NewStore()
	return NewService(store), store
}

// tickingClock hands out strictly increasing timestamps so message order is
// deterministic.
func tickingClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestGetOrCreateConversation_Symmetric(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	c1, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	c2, err := svc.GetOrCreateConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID, "pair lookup must be symmetric")

	c3, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c3.ID, "repeated lookup must be idempotent")
}

func TestGetOrCreateConversation_InvalidParty(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.GetOrCreateConversation(ctx, "", "bob")
	assert.ErrorIs(t, err, ErrPartyInvalid)

	_, err = svc.GetOrCreateConversation(ctx, "alice", "")
	assert.ErrorIs(t, err, ErrPartyInvalid)

	_, err = svc.GetOrCreateConversation(ctx, "alice", "alice")
	assert.ErrorIs(t, err, ErrPartyInvalid)
}

func TestSendMessage_KindValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		kind    models.MessageKind
	}{
		{"text with empty payload", "", models.KindText},
		{"image with empty reference", "", models.KindImage},
		{"unknown kind", "hello", models.MessageKind("video")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, conv.ID, "alice", tc.payload, tc.kind)
			assert.ErrorIs(t, err, ErrKindMismatch)
		})
	}
}

func TestSendMessage_ConversationNotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.SendMessage(context.Background(), "no-such-id", "alice", "hello", models.KindText)
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestNonParticipantRejected(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, "mallory", "hello", models.KindText)
	assert.ErrorIs(t, err, ErrPartyInvalid)

	_, err = svc.LoadMessages(ctx, conv.ID, "mallory")
	assert.ErrorIs(t, err, ErrPartyInvalid)

	err = svc.MarkRead(ctx, conv.ID, "mallory")
	assert.ErrorIs(t, err, ErrPartyInvalid)
}

func TestFirstContactFlow(t *testing.T) {
	svc, store := newTestService()
	store.SetClock(tickingClock(time.Now()))
	store.PutProfile(models.Profile{ID: "alice", DisplayName: "Alice"})
	ctx := context.Background()

	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, conv.ID, "alice", "Hello", models.KindText)
	require.NoError(t, err)
	assert.False(t, msg.Read, "new messages start unread")
	assert.NotEmpty(t, msg.ID)

	summaries, err := svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, conv.ID, summaries[0].ConversationID)
	assert.Equal(t, 1, summaries[0].UnreadCount)
	assert.Equal(t, "Hello", summaries[0].LastMessage)
	assert.Equal(t, "Alice", summaries[0].Counterpart.DisplayName)

	// Opening the conversation as Bob acknowledges it.
	msgs, err := svc.LoadMessages(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	summaries, err = svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 0, summaries[0].UnreadCount)
}

func TestImageMessagePreview(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, "alice", "/img/123.png", models.KindImage)
	require.NoError(t, err)

	summaries, err := svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, models.ImagePreview, summaries[0].LastMessage,
		"image messages preview as the fixed placeholder, not the raw reference")
}

func TestMarkRead_IdempotentAndMonotonic(t *testing.T) {
	svc, store := newTestService()
	store.SetClock(tickingClock(time.Now()))
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, conv.ID, "alice", "one", models.KindText)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, conv.ID, "alice", "two", models.KindText)
	require.NoError(t, err)

	require.NoError(t, svc.MarkRead(ctx, conv.ID, "bob"))
	require.NoError(t, svc.MarkRead(ctx, conv.ID, "bob"))

	msgs, err := svc.LoadMessages(ctx, conv.ID, "bob")
	require.NoError(t, err)
	for _, m := range msgs {
		assert.True(t, m.Read)
	}

	// A later send does not regress earlier flags, and a sender never marks
	// their own messages.
	_, err = svc.SendMessage(ctx, conv.ID, "bob", "three", models.KindText)
	require.NoError(t, err)
	msgs, err = svc.LoadMessages(ctx, conv.ID, "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.True(t, msgs[0].Read)
	assert.True(t, msgs[1].Read)

	summaries, err := svc.ListConversations(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, summaries[0].UnreadCount, "own messages never count as unread")
}

func TestListConversations_MostRecentFirst(t *testing.T) {
	svc, store := newTestService()
	store.SetClock(tickingClock(time.Now()))
	ctx := context.Background()

	withBob, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	withCarol, err := svc.GetOrCreateConversation(ctx, "alice", "carol")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, withBob.ID, "bob", "hi", models.KindText)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, withCarol.ID, "carol", "hi", models.KindText)
	require.NoError(t, err)

	summaries, err := svc.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, withCarol.ID, summaries[0].ConversationID, "most recently active first")
	assert.Equal(t, withBob.ID, summaries[1].ConversationID)
}

func TestLoadMessages_AscendingOrder(t *testing.T) {
	svc, store := newTestService()
	store.SetClock(tickingClock(time.Now()))
	ctx := context.Background()
	conv, err := svc.GetOrCreateConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err := svc.SendMessage(ctx, conv.ID, "alice", text, models.KindText)
		require.NoError(t, err)
	}

	msgs, err := svc.LoadMessages(ctx, conv.ID, "bob")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Text)
	assert.Equal(t, "three", msgs[2].Text)
	assert.True(t, !msgs[1].CreatedAt.Before(msgs[0].CreatedAt))
	assert.True(t, !msgs[2].CreatedAt.Before(msgs[1].CreatedAt))
}
