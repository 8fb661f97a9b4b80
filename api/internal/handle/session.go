package handle

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"plant-debugger/api/internal/ratelimit"
)

// Usage reports the caller's accumulated token usage and dollar cost grouped
// by model tier.
func (h *Handle) Usage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	clientID := ratelimit.ClientID(r)
	if clientID != ratelimit.UnknownClient {
		h.Costs.MergeUnknown(clientID)
	}
	writeJSON(w, http.StatusOK, h.Costs.Totals(clientID))
}

// Session clears the caller's session state, in memory and in the store.
func (h *Handle) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "DELETE only")
		return
	}
	clientID := ratelimit.ClientID(r)
	id := sessionID(r, clientID)

	h.Sessions.Delete(id)
	if h.Repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Repo.Clear(ctx, id); err != nil {
			h.Log.Warn("session clear failed", zap.String("session", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
