// Package presence tracks online/offline status. Each session writes only its
// own record (heartbeat upserts); everyone else's status is read from a local
// cache kept warm by bulk fetches and the presence change feed. All writes and
// reads are best effort: presence never fails a caller.
package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage"
)

type state int

const (
	stateUnmounted state = iota
	stateActive
)

// Gateway is the slice of the persistence gateway the tracker needs.
type Gateway interface {
	storage.PresenceStore
}

// Feed is the presence half of the change feed.
type Feed interface {
	SubscribePresence(ch chan<- storage.PresenceEvent) (storage.FeedHandle, error)
}

// Tracker maintains the local presence cache and heartbeats the session
// user's own record. One Active tracker exists per authenticated session;
// Mount while Active is a no-op.
type Tracker struct {
	store Gateway
	feed  Feed

	mu     sync.Mutex
	st     state
	userID string
	cache  map[string]models.PresenceRecord
	handle storage.FeedHandle
	events chan storage.PresenceEvent
	done   chan struct{}

	// OnPresenceChanged, when set before Mount, is invoked for every peer
	// presence update observed on the feed. Called from the feed goroutine.
	OnPresenceChanged func(userID string, rec models.PresenceRecord)

	now func() time.Time
}

func NewTracker(store Gateway, feed Feed) *Tracker {
	return &Tracker{
		store: store,
		feed:  feed,
		cache: make(map[string]models.PresenceRecord),
		now:   time.Now,
	}
}

// SetClock overrides the tracker's clock. Test use only.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// Mount marks the session user online and starts listening to the presence
// feed. Calling Mount while already active is a no-op.
func (t *Tracker) Mount(ctx context.Context, userID string) {
	t.mu.Lock()
	if t.st == stateActive {
		t.mu.Unlock()
		return
	}
	t.st = stateActive
	t.userID = userID
	t.events = make(chan storage.PresenceEvent, 64)
	t.done = make(chan struct{})

	handle, err := t.feed.SubscribePresence(t.events)
	if err != nil {
		// Degrades to "as of last fetch"; cached state keeps serving reads.
		log.Printf("[Presence] Feed subscribe failed: %v", err)
	} else {
		t.handle = handle
	}
	events, done := t.events, t.done
	t.mu.Unlock()

	go t.listen(events, done)
	t.SetOnline(ctx, userID, true)
}

// Heartbeat refreshes the session user's record. Wired to visibility-change
// style events by the caller; a no-op when not mounted.
func (t *Tracker) Heartbeat(ctx context.Context) {
	t.mu.Lock()
	userID, active := t.userID, t.st == stateActive
	t.mu.Unlock()
	if active {
		t.SetOnline(ctx, userID, true)
	}
}

// Unmount marks the session user offline and stops the feed listener. The
// offline write is fire-and-forget with a short deadline so teardown never
// hangs on the gateway.
func (t *Tracker) Unmount() {
	t.mu.Lock()
	if t.st != stateActive {
		t.mu.Unlock()
		return
	}
	t.st = stateUnmounted
	userID := t.userID
	t.userID = ""
	if t.handle != nil {
		t.handle.Close()
		t.handle = nil
	}
	close(t.done)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	t.SetOnline(ctx, userID, false)
}

// SetOnline upserts the presence record for userID. Failures are logged and
// swallowed: presence is ambient and never blocks the caller.
func (t *Tracker) SetOnline(ctx context.Context, userID string, online bool) {
	if userID == "" {
		return
	}
	rec := models.PresenceRecord{
		UserID:   userID,
		IsOnline: online,
		LastSeen: t.now(),
	}
	if err := t.store.Upsert(ctx, rec); err != nil {
		log.Printf("[Presence] Upsert failed for %s: %v", userID, err)
		return
	}
	t.mu.Lock()
	t.cache[userID] = rec
	t.mu.Unlock()
}

// FetchPresence bulk-reads records for the given ids and refreshes the cache.
// Ids without a record are absent from the result. On gateway failure the
// last cached state is returned.
func (t *Tracker) FetchPresence(ctx context.Context, userIDs []string) map[string]models.PresenceRecord {
	recs, err := t.store.Fetch(ctx, userIDs)
	if err != nil {
		log.Printf("[Presence] Fetch failed: %v", err)
		t.mu.Lock()
		defer t.mu.Unlock()
		recs = make(map[string]models.PresenceRecord, len(userIDs))
		for _, id := range userIDs {
			if rec, ok := t.cache[id]; ok {
				recs[id] = rec
			}
		}
		return recs
	}
	t.mu.Lock()
	for id, rec := range recs {
		t.cache[id] = rec
	}
	t.mu.Unlock()
	return recs
}

// IsOnline reports whether userID is online per the cached record: the stored
// flag must be true AND the record fresh within the staleness window. Returns
// false when nothing is cached.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	rec, ok := t.cache[userID]
	now := t.now()
	t.mu.Unlock()
	return ok && rec.IsOnline && rec.Fresh(now)
}

func (t *Tracker) listen(events <-chan storage.PresenceEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				// Feed dropped. Cache serves stale reads until the next
				// Mount resubscribes.
				log.Printf("[Presence] Feed closed")
				return
			}
			t.mu.Lock()
			t.cache[ev.Record.UserID] = ev.Record
			cb := t.OnPresenceChanged
			self := t.userID
			t.mu.Unlock()
			if cb != nil && ev.Record.UserID != self {
				cb(ev.Record.UserID, ev.Record)
			}
		}
	}
}
