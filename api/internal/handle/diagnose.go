package handle

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"plant-debugger/api/internal/diagnose"
	"plant-debugger/api/internal/ratelimit"
)

// Diagnose applies the submitted answers/comment/name edits and runs the
// guarded initial -> aggregate -> final sequence. Answer and comment changes
// invalidate only a previously computed result; a manual plant-name edit
// invalidates nothing.
func (h *Handle) Diagnose(w http.ResponseWriter, r *http.Request) {
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

	if raw := strings.TrimSpace(r.FormValue("answers")); raw != "" {
		var answers []diagnose.DiagnosticAnswer
		if err := json.Unmarshal([]byte(raw), &answers); err != nil {
			writeError(w, http.StatusBadRequest, "bad answers payload: "+err.Error())
			return
		}
		for _, a := range answers {
			if a.QuestionID == "" {
				writeError(w, http.StatusBadRequest, "answer missing questionId")
				return
			}
			sess.SetAnswer(a)
		}
	}
	if comment := r.FormValue("comment"); comment != "" {
		sess.SetComment(comment)
	}
	if name := strings.TrimSpace(r.FormValue("plant_name")); name != "" {
		sess.SetPlantName(name)
	}

	ctx, cancel := context.WithTimeout(r.Context(), deadline(r))
	defer cancel()

	result, err := h.Orch.Diagnose(ctx, sess)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.persist(sess)

	writeJSON(w, http.StatusOK, result)
}
