package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage/memory"
	"github.com/sweeply/sweeply-backend/internal/subscription"
)

// gatedConvStore holds every Get until released, standing in for a slow
// network round trip to the gateway.
type gatedConvStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (s *gatedConvStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.entered <- struct{}{}
	<-s.release
	return s.Store.Get(ctx, id)
}

// A disconnect can race an event whose membership lookup is still in flight;
// the late frame must land in the client's buffer (or be dropped), never
// panic the process.
func TestDisconnectDuringInflightEvent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	conv, err := store.Create(ctx, "alice", "bob")
	require.NoError(t, err)
	gated := &gatedConvStore{
		Store:   store,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}

	hub := NewHub()
	go hub.Run()

	client := NewClient("bob", nil)
	mgr := subscription.NewManager(store, gated, nil, nil, client)
	require.NoError(t, mgr.OnAuthenticate(ctx, "bob"))

	hub.Register <- client
	require.Eventually(t, func() bool { return hub.Connections("bob") == 1 },
		time.Second, 5*time.Millisecond)

	// A message lands and its membership lookup blocks mid-flight.
	_, err = store.Insert(ctx, &models.Message{
		ConversationID: conv.ID, SenderID: "alice", Kind: models.KindText, Text: "hi",
	})
	require.NoError(t, err)
	<-gated.entered

	// Ordinary disconnect teardown while the lookup is still out.
	mgr.OnDeauthenticate()
	hub.Unregister <- client
	client.Close()
	client.Close() // repeat is safe
	require.Eventually(t, func() bool { return hub.Connections("bob") == 0 },
		time.Second, 5*time.Millisecond)

	// The lookup returns and the dispatcher pushes the frame after teardown.
	close(gated.release)
	time.Sleep(50 * time.Millisecond)

	// Late frames sit in the unread buffer (or are dropped); drain whatever
	// arrived and check it is well-formed. Only a panic would be a defect.
	for {
		select {
		case data := <-client.Send:
			var frame Frame
			require.NoError(t, json.Unmarshal(data, &frame))
			assert.NotEmpty(t, frame.Type)
		default:
			return
		}
	}
}
