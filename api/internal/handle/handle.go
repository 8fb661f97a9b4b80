package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"plant-debugger/api/internal/cost"
	"plant-debugger/api/internal/diagnose"
	"plant-debugger/api/internal/ratelimit"
	"plant-debugger/api/internal/resilience"
	"plant-debugger/api/internal/store"
	"plant-debugger/api/internal/util"
)

// StatusClientClosedRequest reports a request aborted by the client before the
// pipeline finished.
const StatusClientClosedRequest = 499

const (
	maxMultipartMemory = 32 << 20
	maxImageBytes      = 10 << 20
	defaultDeadline    = 180 * time.Second
)

type Handle struct {
	Orch     *diagnose.Orchestrator
	Sessions *diagnose.Manager
	Limiter  *ratelimit.Limiter
	Costs    *cost.Tracker
	Repo     *store.SessionRepo // nil means memory-only
	Log      *zap.Logger
}

func New(orch *diagnose.Orchestrator, sessions *diagnose.Manager, limiter *ratelimit.Limiter, costs *cost.Tracker, repo *store.SessionRepo, log *zap.Logger) *Handle {
	return &Handle{
		Orch:     orch,
		Sessions: sessions,
		Limiter:  limiter,
		Costs:    costs,
		Repo:     repo,
		Log:      log,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// sessionID prefers the explicit session header, falling back to the client id.
func sessionID(r *http.Request, clientID string) string {
	if v := strings.TrimSpace(r.Header.Get("X-Session-ID")); v != "" {
		return v
	}
	return clientID
}

// session resolves (or restores from the store) the request's session and
// folds any usage accumulated under the unknown client into the resolved id.
func (h *Handle) session(r *http.Request) *diagnose.Session {
	clientID := ratelimit.ClientID(r)
	id := sessionID(r, clientID)

	if _, ok := h.Sessions.Get(id); !ok && h.Repo != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if st, err := h.Repo.Load(ctx, id, 0); err == nil {
			h.Sessions.Put(diagnose.RestoreSession(*st))
		}
	}

	sess := h.Sessions.GetOrCreate(id, clientID)
	if clientID != ratelimit.UnknownClient {
		h.Costs.MergeUnknown(clientID)
	}
	return sess
}

// persist saves the session snapshot best effort; failures are logged, never
// surfaced.
func (h *Handle) persist(sess *diagnose.Session) {
	if h.Repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Repo.Save(ctx, sess.Snapshot()); err != nil {
		h.Log.Warn("session save failed", zap.String("session", sess.ID), zap.Error(err))
	}
}

// gate applies the hard rate limit and then the soft backpressure delay.
// Returns false after writing the 429 response.
func (h *Handle) gate(w http.ResponseWriter, r *http.Request, clientID string) bool {
	if !h.Limiter.Allow(clientID) {
		wait := h.Limiter.RetryAfter(clientID)
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("too many requests, try again in %ds", int(wait.Seconds()+0.999)))
		return false
	}
	if err := h.Limiter.Delay(r.Context(), clientID); err != nil {
		writeError(w, StatusClientClosedRequest, "request cancelled")
		return false
	}
	return true
}

// deadline honors X-Request-Timeout (seconds) or ?timeoutSec, else the default.
func deadline(r *http.Request) time.Duration {
	if ts := r.Header.Get("X-Request-Timeout"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	if ts := r.URL.Query().Get("timeoutSec"); ts != "" {
		if v, _ := strconv.Atoi(ts); v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return defaultDeadline
}

// readImages pulls the uploaded files out of the multipart form. An absent
// form or absent "images" field yields an empty slice, not an error, so
// endpoints can fall back to the session's stored images.
func readImages(r *http.Request) ([]diagnose.Image, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("bad multipart form: %w", err)
	}
	if r.MultipartForm == nil {
		return nil, nil
	}

	files := r.MultipartForm.File["images"]
	images := make([]diagnose.Image, 0, len(files))
	for _, fh := range files {
		if fh.Size > maxImageBytes {
			return nil, fmt.Errorf("image %q exceeds %d bytes", fh.Filename, maxImageBytes)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %q: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read upload %q: %w", fh.Filename, err)
		}
		if len(data) == 0 {
			continue
		}
		mime := util.PickMIME(fh.Header.Get("Content-Type"), "", data)
		images = append(images, diagnose.Image{
			ID:   util.ShortHash(data),
			MIME: mime,
			Size: int64(len(data)),
			Data: data,
		})
	}
	return images, nil
}

// fail maps pipeline errors onto the HTTP surface. Cancellation gets its own
// status and is never presented as an error; internal detail is logged, not
// leaked.
func (h *Handle) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case diagnose.IsAborted(err) || r.Context().Err() != nil:
		writeError(w, StatusClientClosedRequest, "request cancelled")
	case errors.Is(err, diagnose.ErrNoImages):
		writeError(w, http.StatusBadRequest, "no images")
	case errors.Is(err, diagnose.ErrRunInProgress):
		writeError(w, http.StatusConflict, "diagnosis already in progress")
	default:
		if wait, ok := resilience.WaitHint(err); ok {
			writeError(w, http.StatusServiceUnavailable,
				fmt.Sprintf("service busy, try again in %ds", int(wait.Seconds()+0.999)))
			return
		}
		h.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
