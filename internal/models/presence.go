package models

import "time"

// PresenceRecord is a user's self-reported online status. Exactly one record
// exists per user (upsert semantics). The stored IsOnline flag alone is not
// authoritative: readers must also apply the freshness window, since a session
// that died without writing offline leaves a stale true behind.
type PresenceRecord struct {
	UserID   string    `json:"user_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// PresenceFreshness is the staleness window: a record older than this counts
// as offline regardless of the stored flag.
const PresenceFreshness = 5 * time.Minute

// Fresh reports whether the record is recent enough to be trusted at time now.
func (p *PresenceRecord) Fresh(now time.Time) bool {
	return now.Sub(p.LastSeen) < PresenceFreshness
}
