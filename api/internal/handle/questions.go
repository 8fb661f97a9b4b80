package handle

import (
	"context"
	"net/http"

	"plant-debugger/api/internal/diagnose"
	"plant-debugger/api/internal/ratelimit"
)

type QuestionsResponse struct {
	Questions []diagnose.DiagnosticQuestion `json:"questions"`
}

// Questions generates the 2-5 clarifying yes/no questions for the session's
// image set.
func (h *Handle) Questions(w http.ResponseWriter, r *http.Request) {
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

	ctx, cancel := context.WithTimeout(r.Context(), deadline(r))
	defer cancel()

	qs, err := h.Orch.GenerateQuestions(ctx, sess)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.persist(sess)

	writeJSON(w, http.StatusOK, QuestionsResponse{Questions: qs})
}
