package diagnose

import (
	"strings"
	"sync"
)

// Signature derives the deduplication key from the ordered image id set.
func Signature(images []Image) string {
	ids := make([]string, 0, len(images))
	for _, img := range images {
		ids = append(ids, img.ID)
	}
	return strings.Join(ids, "|")
}

// Guard prevents duplicate concurrent runs for the same image signature,
// including duplicate starts fired by re-entrant UI lifecycle events. The
// check-and-set is atomic under one mutex, so two near-simultaneous start
// attempts cannot both acquire.
type Guard struct {
	mu            sync.Mutex
	inflight      map[string]struct{}
	lastCompleted string
}

func NewGuard() *Guard {
	return &Guard{inflight: make(map[string]struct{})}
}

// TryAcquire claims the signature. It refuses when a run is already in flight
// for the signature, or when the signature already produced a completed result
// that is still valid.
func (g *Guard) TryAcquire(signature string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inflight[signature]; busy {
		return false
	}
	if signature != "" && signature == g.lastCompleted {
		return false
	}
	g.inflight[signature] = struct{}{}
	return true
}

func (g *Guard) Release(signature string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, signature)
}

// MarkCompleted records the signature of the last successful run so repeated
// start triggers for unchanged inputs are suppressed.
func (g *Guard) MarkCompleted(signature string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastCompleted = signature
}

// InvalidateCompleted clears the completed marker after inputs change, letting
// a fresh run start for any signature.
func (g *Guard) InvalidateCompleted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastCompleted = ""
}

// ClearCompleted drops the completed marker for one signature. Used when the
// run's result has been invalidated (answers or comment changed) so the same
// image set may legitimately run again.
func (g *Guard) ClearCompleted(signature string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lastCompleted == signature {
		g.lastCompleted = ""
	}
}
