package handle

import (
	"context"
	"net/http"

	"plant-debugger/api/internal/diagnose"
	"plant-debugger/api/internal/ratelimit"
)

type IdentifyResponse struct {
	Name       string   `json:"name"`
	Confidence *float64 `json:"confidence,omitempty"`
	NoPlant    bool     `json:"no_plant"`
}

// Identify accepts the image set and runs the identification step. Replacing
// the images invalidates everything derived from the previous set.
func (h *Handle) Identify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	clientID := ratelimit.ClientID(r)
	if !h.gate(w, r, clientID) {
		return
	}
	sess := h.session(r)

	images, err := readImages(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(images) > 0 {
		h.Orch.ReplaceImages(sess, images)
	}
	if err := diagnose.ValidateImages(sess.Images()); err != nil {
		writeError(w, http.StatusBadRequest, "no images")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), deadline(r))
	defer cancel()

	id, err := h.Orch.Identify(ctx, sess)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.persist(sess)

	writeJSON(w, http.StatusOK, IdentifyResponse{
		Name:       id.Name,
		Confidence: id.Confidence,
		NoPlant:    id.Name == "",
	})
}
