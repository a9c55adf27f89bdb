package presence

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes registers all presence-related HTTP routes.
func RegisterRoutes(r *mux.Router, handler *Handler) {
	r.HandleFunc("/api/v1/presence/heartbeat", logged(handler.Heartbeat)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/v1/presence/offline", logged(handler.Offline)).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/api/v1/presence/status", logged(handler.GetStatus)).Methods(http.MethodGet, http.MethodOptions)
}

func logged(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[Presence] %s %s", r.Method, r.URL.Path)
		next(w, r)
	}
}
