// Package ratelimit gates entry to paid model calls with a fixed per-client
// window plus a soft backpressure delay below the hard cap.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	// UnknownClient is the fallback identity when no header resolves.
	UnknownClient = "unknown"

	defaultWindow        = 60 * time.Second
	defaultLimit         = 10
	defaultSoftThreshold = 5
	defaultSoftDelay     = 2 * time.Second
)

type record struct {
	count       int
	windowStart time.Time
}

// Limiter keeps a fixed window per client: the count resets and a fresh window
// starts on the first call after the previous window has fully elapsed.
type Limiter struct {
	window        time.Duration
	limit         int
	softThreshold int
	softDelay     time.Duration

	mu      sync.Mutex
	clients map[string]*record
	now     func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		window:        defaultWindow,
		limit:         defaultLimit,
		softThreshold: defaultSoftThreshold,
		softDelay:     defaultSoftDelay,
		clients:       make(map[string]*record),
		now:           time.Now,
	}
}

// Allow counts one request against the client's window and reports whether it
// is under the hard cap.
func (l *Limiter) Allow(clientID string) bool {
	if clientID == "" {
		clientID = UnknownClient
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec := l.clients[clientID]
	if rec == nil || now.Sub(rec.windowStart) >= l.window {
		rec = &record{windowStart: now}
		l.clients[clientID] = rec
	}
	rec.count++
	return rec.count <= l.limit
}

// RetryAfter reports how long until the client's current window expires.
func (l *Limiter) RetryAfter(clientID string) time.Duration {
	if clientID == "" {
		clientID = UnknownClient
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.clients[clientID]
	if rec == nil {
		return 0
	}
	remaining := l.window - l.now().Sub(rec.windowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Delay pauses before proceeding when the client's request frequency is
// elevated but still under the hard cap. Distinct from the hard block in Allow.
func (l *Limiter) Delay(ctx context.Context, clientID string) error {
	if clientID == "" {
		clientID = UnknownClient
	}
	l.mu.Lock()
	rec := l.clients[clientID]
	elevated := rec != nil &&
		l.now().Sub(rec.windowStart) < l.window &&
		rec.count > l.softThreshold
	l.mu.Unlock()

	if !elevated {
		return nil
	}

	t := time.NewTimer(l.softDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ClientID resolves the caller identity: explicit client header, then the
// first forwarded-for hop, then the real-ip header, then the unknown sentinel.
func ClientID(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Client-ID")); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); v != "" {
		if idx := strings.IndexByte(v, ','); idx > 0 {
			return strings.TrimSpace(v[:idx])
		}
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	return UnknownClient
}
