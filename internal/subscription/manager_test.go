package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage"
	"github.com/sweeply/sweeply-backend/internal/storage/memory"
)

// scriptedFeed hands out subscriptions whose channels the test can close,
// simulating a transport that drops its subscribers on reconnect.
type scriptedFeed struct {
	mu      sync.Mutex
	fail    bool
	msgChs  []chan<- storage.MessageEvent
	convChs []chan<- storage.ConversationEvent
}

type noopHandle struct{}

func (noopHandle) Close() {}

func (f *scriptedFeed) SubscribeMessages(ch chan<- storage.MessageEvent) (storage.FeedHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, storage.ErrFeedDisconnected
	}
	f.msgChs = append(f.msgChs, ch)
	return noopHandle{}, nil
}

func (f *scriptedFeed) SubscribeConversations(ch chan<- storage.ConversationEvent) (storage.FeedHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, storage.ErrFeedDisconnected
	}
	f.convChs = append(f.convChs, ch)
	return noopHandle{}, nil
}

func (f *scriptedFeed) SubscribePresence(ch chan<- storage.PresenceEvent) (storage.FeedHandle, error) {
	return noopHandle{}, nil
}

func (f *scriptedFeed) msgSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgChs)
}

func (f *scriptedFeed) dropMessages(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.msgChs[i])
}

func (f *scriptedFeed) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *scriptedFeed) publishMessage(ev storage.MessageEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgChs[len(f.msgChs)-1] <- ev
}

// recordingObserver collects callbacks for assertions.
type recordingObserver struct {
	mu       sync.Mutex
	messages []models.Message
	reloads  int
}

func (o *recordingObserver) OnNewMessage(_ string, msg models.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
}

func (o *recordingObserver) OnConversationsChanged() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reloads++
}

func (o *recordingObserver) OnPresenceChanged(string, models.PresenceRecord) {}

func (o *recordingObserver) messageCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

// recordingNotifier collects notification dispatches.
type recordingNotifier struct {
	mu    sync.Mutex
	sent  []models.Message
	users []string
}

func (n *recordingNotifier) Notify(_ context.Context, recipientID string, msg models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, recipientID)
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func sendAs(t *testing.T, store *memory.Store, convID, sender, text string) {
	t.Helper()
	_, err := store.Insert(context.Background(), &models.Message{
		ConversationID: convID,
		SenderID:       sender,
		Kind:           models.KindText,
		Text:           text,
	})
	require.NoError(t, err)
}

func TestObserverReceivesOwnConversationMessages(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	conv, err := store.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	obs := &recordingObserver{}
	notifier := &recordingNotifier{}
	mgr := NewManager(store, store, nil, notifier, obs)
	require.NoError(t, mgr.OnAuthenticate(ctx, "bob"))
	defer mgr.OnDeauthenticate()

	sendAs(t, store, conv.ID, "alice", "hello")

	require.Eventually(t, func() bool { return obs.messageCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", obs.messages[0].Text)

	// A message from someone else triggers a notification for the session
	// user; own messages do not.
	require.Eventually(t, func() bool { return notifier.count() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "bob", notifier.users[0])

	sendAs(t, store, conv.ID, "bob", "hi yourself")
	require.Eventually(t, func() bool { return obs.messageCount() == 2 },
		time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, notifier.count(), "own messages never notify")
}

func TestMembershipFilter(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	mine, err := store.Create(ctx, "alice", "bob")
	require.NoError(t, err)
	other, err := store.Create(ctx, "carol", "dave")
	require.NoError(t, err)

	obs := &recordingObserver{}
	mgr := NewManager(store, store, nil, nil, obs)
	require.NoError(t, mgr.OnAuthenticate(ctx, "bob"))
	defer mgr.OnDeauthenticate()

	sendAs(t, store, other.ID, "carol", "private")
	sendAs(t, store, mine.ID, "alice", "for bob")

	require.Eventually(t, func() bool { return obs.messageCount() == 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, obs.messageCount(), "messages from foreign conversations are filtered out")
	assert.Equal(t, "for bob", obs.messages[0].Text)
}

func TestReauthenticateNoDuplicateSubscriptions(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	conv, err := store.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	obs := &recordingObserver{}
	mgr := NewManager(store, store, nil, nil, obs)

	// Token refresh: authenticate twice in a row.
	require.NoError(t, mgr.OnAuthenticate(ctx, "bob"))
	require.NoError(t, mgr.OnAuthenticate(ctx, "bob"))
	defer mgr.OnDeauthenticate()
	assert.True(t, mgr.Open())

	sendAs(t, store, conv.ID, "alice", "once only")

	require.Eventually(t, func() bool { return obs.messageCount() >= 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, obs.messageCount(),
		"a doubled subscription would deliver the message twice")
}

func TestDeauthenticateClosesFeeds(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	conv, err := store.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	obs := &recordingObserver{}
	mgr := NewManager(store, store, nil, nil, obs)
	require.NoError(t, mgr.OnAuthenticate(ctx, "bob"))
	mgr.OnDeauthenticate()
	mgr.OnDeauthenticate() // safe in any state
	assert.False(t, mgr.Open())

	sendAs(t, store, conv.ID, "alice", "into the void")
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, obs.messageCount(), "closed sessions receive nothing")
}

func TestFeedDropReopensSubscriptions(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	conv, err := store.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	feed := &scriptedFeed{}
	obs := &recordingObserver{}
	mgr := NewManager(feed, store, nil, nil, obs)
	require.NoError(t, mgr.OnAuthenticate(ctx, "bob"))
	defer mgr.OnDeauthenticate()
	require.Equal(t, 1, feed.msgSubs())

	// The transport dropping its subscribers must not leave the session
	// stranded on a dead feed while it still reports open.
	feed.dropMessages(0)
	require.Eventually(t, func() bool { return feed.msgSubs() == 2 },
		time.Second, 5*time.Millisecond)
	assert.True(t, mgr.Open())

	feed.publishMessage(storage.MessageEvent{
		Type: storage.EventInsert,
		Message: models.Message{
			ConversationID: conv.ID,
			SenderID:       "alice",
			Kind:           models.KindText,
			Text:           "after reopen",
		},
	})
	require.Eventually(t, func() bool { return obs.messageCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, "after reopen", obs.messages[0].Text)
}

func TestFeedDropWithDeadFeedClosesSession(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	feed := &scriptedFeed{}
	mgr := NewManager(feed, store, nil, nil, &recordingObserver{})
	require.NoError(t, mgr.OnAuthenticate(ctx, "bob"))

	feed.setFail(true)
	feed.dropMessages(0)
	require.Eventually(t, func() bool { return !mgr.Open() },
		time.Second, 5*time.Millisecond)
}

func TestUserSwitchReplacesSubscriptions(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	bobConv, err := store.Create(ctx, "alice", "bob")
	require.NoError(t, err)
	carolConv, err := store.Create(ctx, "alice", "carol")
	require.NoError(t, err)

	obs := &recordingObserver{}
	mgr := NewManager(store, store, nil, nil, obs)
	require.NoError(t, mgr.OnAuthenticate(ctx, "bob"))
	require.NoError(t, mgr.OnAuthenticate(ctx, "carol"))
	defer mgr.OnDeauthenticate()

	sendAs(t, store, bobConv.ID, "alice", "for bob")
	sendAs(t, store, carolConv.ID, "alice", "for carol")

	require.Eventually(t, func() bool { return obs.messageCount() >= 1 },
		time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, obs.messageCount())
	assert.Equal(t, "for carol", obs.messages[0].Text,
		"after a user switch only the new user's feed is live")
}
