package chat

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes registers all chat-related HTTP and WebSocket routes.
func RegisterRoutes(r *mux.Router, handler *Handler) {
	// OPTIONS is routed so the CORS middleware can answer preflights.
	r.HandleFunc("/api/v1/chat/start", logged(handler.StartOrGetConversation)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/v1/chat/conversations", logged(handler.ListConversations)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/v1/chat/messages", logged(handler.GetMessages)).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/api/v1/chat/send", logged(handler.SendMessage)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/v1/chat/read", logged(handler.MarkRead)).Methods(http.MethodPost, http.MethodOptions)

	r.HandleFunc("/ws/chat", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[Chat] WebSocket %s", r.URL.Path)
		handler.ServeWS(w, r)
	})
}

func logged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[Chat] %s %s", r.Method, r.URL.Path)
		next(w, r)
	}
}
