// Package notify dispatches best-effort "new message" notifications. Dispatch
// failure never propagates; a missed notification costs nothing but a badge.
package notify

import (
	"context"
	"log"

	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/storage"
)

// Notifier delivers a notification about a message from another user.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, msg models.Message)
}

// LogNotifier resolves the sender's display name and writes the notification
// to the log. Stands in for desktop/push delivery, which lives client-side.
type LogNotifier struct {
	Profiles storage.ProfileStore
}

func (n *LogNotifier) Notify(ctx context.Context, recipientID string, msg models.Message) {
	sender := msg.SenderID
	if n.Profiles != nil {
		if p, err := n.Profiles.GetProfile(ctx, msg.SenderID); err == nil && p.DisplayName != "" {
			sender = p.DisplayName
		}
	}
	log.Printf("[Notify] To %s: %s: %s", recipientID, sender, msg.Preview())
}

// Noop discards notifications.
type Noop struct{}

func (Noop) Notify(context.Context, string, models.Message) {}
