package presence

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sweeply/sweeply-backend/internal/middleware"
	"github.com/sweeply/sweeply-backend/internal/models"
	presencesvc "github.com/sweeply/sweeply-backend/internal/presence"
)

// Handler exposes presence over HTTP for views that have no open socket
// (e.g. a provider card on a search results page).
type Handler struct {
	Tracker *presencesvc.Tracker
}

// Heartbeat refreshes the authenticated user's online record. The client
// calls this on visibility changes.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	h.Tracker.SetOnline(r.Context(), userID, true)
	w.WriteHeader(http.StatusNoContent)
}

// Offline marks the authenticated user offline. Best-effort beacon target on
// page unload; the response body is intentionally empty.
func (h *Handler) Offline(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	h.Tracker.SetOnline(r.Context(), userID, false)
	w.WriteHeader(http.StatusNoContent)
}

type statusEntry struct {
	models.PresenceRecord
	Online bool `json:"online"` // derived: stored flag AND freshness window
}

// GetStatus bulk-reads presence for ids=a,b,c. Ids without a record are
// omitted. The "online" field already applies the staleness rule so callers
// never trust the raw flag.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		http.Error(w, "Missing ids", http.StatusBadRequest)
		return
	}
	ids := strings.Split(raw, ",")

	recs := h.Tracker.FetchPresence(r.Context(), ids)
	result := make(map[string]statusEntry, len(recs))
	for id, rec := range recs {
		result[id] = statusEntry{PresenceRecord: rec, Online: h.Tracker.IsOnline(id)}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
