// Package httpserver wires the diagnosis handlers onto a mux and runs the
// listener.
package httpserver

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"plant-debugger/api/internal/handle"
)

// Routes builds the service mux. db may be nil; healthz then skips the ping.
func Routes(h *handle.Handle, db *sql.DB) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/v1/plant/identify", h.Identify)
	mux.HandleFunc("/v1/plant/questions", h.Questions)
	mux.HandleFunc("/v1/plant/no-plant-message", h.NoPlantMessage)
	mux.HandleFunc("/v1/plant/diagnose", h.Diagnose)
	mux.HandleFunc("/v1/plant/usage", h.Usage)
	mux.HandleFunc("/v1/plant/session", h.Session)

	return mux
}

func Start(addr string, mux *http.ServeMux, log *zap.Logger) error {
	log.Info("plant-debugger listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}
