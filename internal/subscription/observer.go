package subscription

import "github.com/sweeply/sweeply-backend/internal/models"

// Observer receives feed-driven updates for re-rendering. Callbacks run on
// the manager's dispatch goroutine; implementations hand off to their own
// loop and must not block. Message events may arrive out of persistence
// order; consumers holding an open message list insert by created_at rather
// than appending blindly.
type Observer interface {
	// OnNewMessage fires for every message inserted into a conversation the
	// session user participates in, own messages included.
	OnNewMessage(conversationID string, msg models.Message)
	// OnConversationsChanged fires when any of the user's conversation rows
	// changes; the consumer reloads summaries.
	OnConversationsChanged()
	// OnPresenceChanged fires when a peer's presence record updates.
	OnPresenceChanged(userID string, rec models.PresenceRecord)
}
