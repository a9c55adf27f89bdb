package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	chatsvc "github.com/sweeply/sweeply-backend/internal/chat"
	"github.com/sweeply/sweeply-backend/internal/middleware"
	"github.com/sweeply/sweeply-backend/internal/models"
	"github.com/sweeply/sweeply-backend/internal/notify"
	"github.com/sweeply/sweeply-backend/internal/presence"
	"github.com/sweeply/sweeply-backend/internal/storage"
	"github.com/sweeply/sweeply-backend/internal/subscription"
	"github.com/sweeply/sweeply-backend/internal/ws"
)

// Handler holds the dependencies for the chat HTTP and WebSocket surface.
type Handler struct {
	Chat     *chatsvc.Service
	Hub      *ws.Hub
	Feed     storage.ChangeFeed
	Convs    storage.ConversationStore
	Presence storage.PresenceStore
	Notifier notify.Notifier
}

// StartOrGetConversation resolves or creates the conversation between the
// authenticated user and the peer in the request body.
func (h *Handler) StartOrGetConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeerID string `json:"peer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := middleware.UserID(r.Context())

	conv, err := h.Chat.GetOrCreateConversation(r.Context(), userID, req.PeerID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conv)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	summaries, err := h.Chat.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// GetMessages loads a conversation's messages for the authenticated user.
// Loading marks the counterpart's messages read.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	convID := r.URL.Query().Get("conversation_id")
	userID := middleware.UserID(r.Context())
	msgs, err := h.Chat.LoadMessages(r.Context(), convID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string             `json:"conversation_id"`
		Kind           models.MessageKind `json:"kind"`
		Payload        string             `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := middleware.UserID(r.Context())

	msg, err := h.Chat.SendMessage(r.Context(), req.ConversationID, userID, req.Payload, req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	h.notifyOffline(r.Context(), req.ConversationID, userID, *msg)

	// Fanout to subscribed clients rides the change feed, not this handler.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// notifyOffline pushes a notification to the counterpart when they hold no
// open socket. Connected counterparts see the message live through their own
// subscription, which notifies them itself; doing both would double up.
func (h *Handler) notifyOffline(ctx context.Context, conversationID, senderID string, msg models.Message) {
	if h.Notifier == nil {
		return
	}
	conv, err := h.Convs.Get(ctx, conversationID)
	if err != nil {
		return
	}
	peer := conv.Counterpart(senderID)
	if h.Hub.Connections(peer) == 0 {
		h.Notifier.Notify(ctx, peer, msg)
	}
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	userID := middleware.UserID(r.Context())
	if err := h.Chat.MarkRead(r.Context(), req.ConversationID, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // CORS middleware gates the handshake
}

// ServeWS upgrades the connection and binds the session's realtime lifecycle
// to it: a subscription manager and presence tracker live exactly as long as
// the socket. Closing the socket tears both down.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := ws.NewClient(userID, conn)

	tracker := presence.NewTracker(h.Presence, h.Feed)
	tracker.OnPresenceChanged = client.OnPresenceChanged
	mgr := subscription.NewManager(h.Feed, h.Convs, tracker, h.Notifier, client)
	if err := mgr.OnAuthenticate(r.Context(), userID); err != nil {
		log.Printf("[WS] Subscribe failed for %s: %v", userID, err)
		conn.Close()
		return
	}
	h.Hub.Register <- client

	// Read pump
	go func() {
		defer func() {
			mgr.OnDeauthenticate()
			h.Hub.Unregister <- client
			client.Close()
			conn.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.handleClientFrame(client, tracker, data)
		}
	}()
	// Write pump
	go func() {
		for {
			select {
			case message := <-client.Send:
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}
			case <-client.Done():
				return
			}
		}
	}()
}

// handleClientFrame services the small client-to-server protocol: heartbeats
// (visibility changes) and opening a conversation view.
func (h *Handler) handleClientFrame(client *ws.Client, tracker *presence.Tracker, data []byte) {
	var frame struct {
		Type           string `json:"type"`
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return
	}
	ctx := context.Background()
	switch frame.Type {
	case "heartbeat":
		tracker.Heartbeat(ctx)
	case "open":
		msgs, err := h.Chat.LoadMessages(ctx, frame.ConversationID, client.UserID)
		if err != nil {
			log.Printf("[WS] Load failed for %s: %v", frame.ConversationID, err)
			return
		}
		client.PushHistory(frame.ConversationID, msgs)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatsvc.ErrPartyInvalid), errors.Is(err, chatsvc.ErrKindMismatch):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, chatsvc.ErrConversationNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, "Storage unavailable, please retry", http.StatusServiceUnavailable)
	}
}
