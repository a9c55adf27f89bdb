package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage/memory"
	"github.com/sweeply/sweeply-backend/internal/ws"
)

type recordingNotifier struct {
	mu    sync.Mutex
	users []string
}

func (n *recordingNotifier) Notify(_ context.Context, recipientID string, _ models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, recipientID)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.users)
}

func TestSendNotifiesDisconnectedPeerOnly(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	conv, err := store.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	hub := ws.NewHub()
	go hub.Run()
	notifier := &recordingNotifier{}
	h := &Handler{Hub: hub, Convs: store, Notifier: notifier}

	msg := models.Message{
		ConversationID: conv.ID,
		SenderID:       "alice",
		Kind:           models.KindText,
		Text:           "are you there",
	}

	// No socket open for bob: the handler is the only notification path.
	h.notifyOffline(ctx, conv.ID, "alice", msg)
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, "bob", notifier.users[0])

	// With a socket open, bob's own subscription notifies; the handler
	// must stay quiet.
	client := ws.NewClient("bob", nil)
	hub.Register <- client
	require.Eventually(t, func() bool { return hub.Connections("bob") == 1 },
		time.Second, 5*time.Millisecond)
	h.notifyOffline(ctx, conv.ID, "alice", msg)
	assert.Equal(t, 1, notifier.count())
}
