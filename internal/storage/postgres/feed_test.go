package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage"
)

type fakeLookup struct {
	msgs    map[string]*models.Message
	asked   []string
	failErr error
}

func (l *fakeLookup) GetMessage(_ context.Context, id string) (*models.Message, error) {
	l.asked = append(l.asked, id)
	if l.failErr != nil {
		return nil, l.failErr
	}
	msg, ok := l.msgs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return msg, nil
}

func newTestFeed(lookup messageLookup) *Feed {
	return &Feed{
		lookup:        lookup,
		messages:      make(map[int]chan<- storage.MessageEvent),
		conversations: make(map[int]chan<- storage.ConversationEvent),
		presence:      make(map[int]chan<- storage.PresenceEvent),
	}
}

// Message notifications carry only the row id; the feed must re-read the row
// so bodies larger than the NOTIFY payload limit still reach subscribers.
func TestMessageNotificationRereadsRow(t *testing.T) {
	large := &models.Message{
		ID:             "m1",
		ConversationID: "c1",
		SenderID:       "alice",
		Kind:           models.KindText,
		Text:           strings.Repeat("x", 16*1024),
		CreatedAt:      time.Now().UTC(),
	}
	lookup := &fakeLookup{msgs: map[string]*models.Message{"m1": large}}
	f := newTestFeed(lookup)

	ch := make(chan storage.MessageEvent, 1)
	handle, err := f.SubscribeMessages(ch)
	require.NoError(t, err)
	defer handle.Close()

	payload, err := json.Marshal(map[string]string{"type": "INSERT", "id": "m1"})
	require.NoError(t, err)
	f.dispatch(channelMessages, payload)

	require.Len(t, ch, 1)
	ev := <-ch
	assert.Equal(t, storage.EventInsert, ev.Type)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.Equal(t, large.Text, ev.Message.Text)
	assert.Equal(t, []string{"m1"}, lookup.asked)
}

func TestMessageNotificationRereadFailureDropsEvent(t *testing.T) {
	lookup := &fakeLookup{failErr: storage.ErrUnavailable}
	f := newTestFeed(lookup)

	ch := make(chan storage.MessageEvent, 1)
	handle, err := f.SubscribeMessages(ch)
	require.NoError(t, err)
	defer handle.Close()

	f.dispatch(channelMessages, []byte(`{"type":"INSERT","id":"m1"}`))
	assert.Empty(t, ch)
}
