package handle

import (
	"context"
	"net/http"

	"plant-debugger/api/internal/ratelimit"
)

// NoPlantMessage returns the one-shot "no plant detected" message for the
// current image signature; repeat calls for the same signature return the
// cached message without a new model call.
func (h *Handle) NoPlantMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	clientID := ratelimit.ClientID(r)
	if !h.gate(w, r, clientID) {
		return
	}
	sess := h.session(r)

	ctx, cancel := context.WithTimeout(r.Context(), deadline(r))
	defer cancel()

	msg, err := h.Orch.NoPlantMessage(ctx, sess)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.persist(sess)

	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}
