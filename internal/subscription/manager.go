// Package subscription owns the realtime feed lifecycle for an authenticated
// session: one message feed and one conversation feed, opened on
// authentication and closed exactly once on logout or re-auth. Duplicate open
// subscriptions would double notifications and UI updates, so every open is
// preceded by a teardown of whatever came before.
package subscription

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/notify"
	"github.com/sweeply/sweeply-backend/internal/presence"
	"github.com/sweeply/sweeply-backend/internal/storage"
)

type state int

const (
	stateNoUser state = iota
	stateOpen
)

// Manager drives the subscription state machine for one client session.
type Manager struct {
	feed     storage.ChangeFeed
	convs    storage.ConversationStore
	tracker  *presence.Tracker
	notifier notify.Notifier
	observer Observer

	// authMu serializes authenticate/deauthenticate transitions. Without it
	// two concurrent logins could both pass teardown and layer feed pairs.
	authMu sync.Mutex

	mu         sync.Mutex
	st         state
	userID     string
	msgHandle  storage.FeedHandle
	convHandle storage.FeedHandle
	done       chan struct{}

	// membership caches conversation-participation checks so the message
	// feed filter does not hit the store for every event.
	membership map[string]bool
}

func NewManager(feed storage.ChangeFeed, convs storage.ConversationStore, tracker *presence.Tracker, notifier notify.Notifier, observer Observer) *Manager {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Manager{
		feed:     feed,
		convs:    convs,
		tracker:  tracker,
		notifier: notifier,
		observer: observer,
	}
}

// OnAuthenticate transitions to SubscriptionsOpen for userID. Any previously
// open feed pair is torn down first, so re-authentication (token refresh,
// user switch) never layers duplicate subscriptions.
func (m *Manager) OnAuthenticate(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("subscription: empty user id")
	}
	m.authMu.Lock()
	defer m.authMu.Unlock()
	m.teardown()

	m.mu.Lock()
	m.st = stateOpen
	m.userID = userID
	m.membership = make(map[string]bool)
	m.done = make(chan struct{})
	done := m.done

	msgCh := make(chan storage.MessageEvent, 128)
	convCh := make(chan storage.ConversationEvent, 64)

	msgHandle, err := m.feed.SubscribeMessages(msgCh)
	if err != nil {
		m.st = stateNoUser
		m.userID = ""
		m.mu.Unlock()
		return err
	}
	convHandle, err := m.feed.SubscribeConversations(convCh)
	if err != nil {
		msgHandle.Close()
		m.st = stateNoUser
		m.userID = ""
		m.mu.Unlock()
		return err
	}
	m.msgHandle = msgHandle
	m.convHandle = convHandle
	m.mu.Unlock()

	go m.dispatch(userID, msgCh, convCh, done)

	if m.tracker != nil {
		m.tracker.Mount(ctx, userID)
	}
	log.Printf("[Subs] Feeds open for %s", userID)
	return nil
}

// OnDeauthenticate closes the open feed pair and returns to NoUser. Safe to
// call in any state and requires no network round trip, so it can run inside
// best-effort cleanup hooks.
func (m *Manager) OnDeauthenticate() {
	m.authMu.Lock()
	defer m.authMu.Unlock()
	m.teardown()
	if m.tracker != nil {
		m.tracker.Unmount()
	}
}

func (m *Manager) teardown() {
	m.mu.Lock()
	if m.st != stateOpen {
		m.mu.Unlock()
		return
	}
	m.st = stateNoUser
	userID := m.userID
	m.userID = ""
	if m.msgHandle != nil {
		m.msgHandle.Close()
		m.msgHandle = nil
	}
	if m.convHandle != nil {
		m.convHandle.Close()
		m.convHandle = nil
	}
	close(m.done)
	m.mu.Unlock()
	log.Printf("[Subs] Feeds closed for %s", userID)
}

// Open reports whether a feed pair is currently open. Exposed for tests and
// health reporting.
func (m *Manager) Open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st == stateOpen
}

func (m *Manager) dispatch(userID string, msgCh <-chan storage.MessageEvent, convCh <-chan storage.ConversationEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-msgCh:
			if !ok {
				log.Printf("[Subs] Message feed dropped for %s", userID)
				m.redial(userID, done)
				return
			}
			m.handleMessage(userID, ev.Message)
		case ev, ok := <-convCh:
			if !ok {
				log.Printf("[Subs] Conversation feed dropped for %s", userID)
				m.redial(userID, done)
				return
			}
			if ev.Conversation.HasParticipant(userID) && m.observer != nil {
				m.observer.OnConversationsChanged()
			}
		}
	}
}

// redial replaces a dropped feed pair with a fresh one. A transport that
// closes its subscriber channels (backend restart) must not strand the
// session on stale subscriptions while Open still reports true. dropped is
// the done token of the dispatch loop that observed the drop; if it no
// longer matches, a teardown or re-auth already superseded this session.
func (m *Manager) redial(userID string, dropped <-chan struct{}) {
	m.mu.Lock()
	if m.st != stateOpen || m.userID != userID || m.done != dropped {
		m.mu.Unlock()
		return
	}
	if m.msgHandle != nil {
		m.msgHandle.Close()
		m.msgHandle = nil
	}
	if m.convHandle != nil {
		m.convHandle.Close()
		m.convHandle = nil
	}

	msgCh := make(chan storage.MessageEvent, 128)
	convCh := make(chan storage.ConversationEvent, 64)

	msgHandle, err := m.feed.SubscribeMessages(msgCh)
	if err != nil {
		m.st = stateNoUser
		m.userID = ""
		close(m.done)
		m.mu.Unlock()
		log.Printf("[Subs] Feed redial failed for %s: %v", userID, err)
		return
	}
	convHandle, err := m.feed.SubscribeConversations(convCh)
	if err != nil {
		msgHandle.Close()
		m.st = stateNoUser
		m.userID = ""
		close(m.done)
		m.mu.Unlock()
		log.Printf("[Subs] Feed redial failed for %s: %v", userID, err)
		return
	}
	m.msgHandle = msgHandle
	m.convHandle = convHandle
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.dispatch(userID, msgCh, convCh, done)
	log.Printf("[Subs] Feeds reopened for %s", userID)
}

func (m *Manager) handleMessage(userID string, msg models.Message) {
	if !m.participates(userID, msg.ConversationID) {
		return
	}
	if m.observer != nil {
		m.observer.OnNewMessage(msg.ConversationID, msg)
		m.observer.OnConversationsChanged()
	}
	if msg.SenderID != userID {
		m.notifier.Notify(context.Background(), userID, msg)
	}
}

func (m *Manager) participates(userID, conversationID string) bool {
	m.mu.Lock()
	if member, ok := m.membership[conversationID]; ok {
		m.mu.Unlock()
		return member
	}
	m.mu.Unlock()

	member := false
	conv, err := m.convs.Get(context.Background(), conversationID)
	if err != nil {
		// Can't resolve membership right now; skip the event rather than
		// leak someone else's message. The next list/load call catches up.
		log.Printf("[Subs] Membership lookup failed for %s: %v", conversationID, err)
		return false
	}
	member = conv.HasParticipant(userID)

	m.mu.Lock()
	if m.membership != nil {
		m.membership[conversationID] = member
	}
	m.mu.Unlock()
	return member
}
