// Package cost accumulates model token usage per client and computes dollar
// cost from tiered per-million-token pricing.
package cost

import "sync"

type Tier string

const (
	TierHigh   Tier = "high"   // pro
	TierMedium Tier = "medium" // flash
	TierLow    Tier = "low"    // flash-lite
)

// UnknownClient collects usage recorded before a client identity resolves.
const UnknownClient = "unknown"

// Usage is the token count of a single model call.
type Usage struct {
	Tier         Tier  `json:"tier"`
	PromptTokens int64 `json:"prompt_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type rate struct {
	inputPerM  float64
	outputPerM float64
}

// Per-million-token USD rates. The pro tier steps to the higher rate once a
// single call's prompt exceeds proPromptThreshold tokens; the step applies
// per call, so totals are summed call by call and never recomputed from
// aggregate token counts.
const proPromptThreshold = 200_000

var (
	rateHighBase  = rate{inputPerM: 1.25, outputPerM: 10.00}
	rateHighAbove = rate{inputPerM: 2.50, outputPerM: 15.00}
	rateMedium    = rate{inputPerM: 0.30, outputPerM: 2.50}
	rateLow       = rate{inputPerM: 0.10, outputPerM: 0.40}
)

// CallCost computes the dollar cost of one call.
func CallCost(u Usage) float64 {
	var r rate
	switch u.Tier {
	case TierHigh:
		if u.PromptTokens > proPromptThreshold {
			r = rateHighAbove
		} else {
			r = rateHighBase
		}
	case TierMedium:
		r = rateMedium
	default:
		r = rateLow
	}
	return float64(u.PromptTokens)/1e6*r.inputPerM + float64(u.OutputTokens)/1e6*r.outputPerM
}

// TierTotals is the running aggregate for one tier of one client.
type TierTotals struct {
	Calls        int     `json:"calls"`
	PromptTokens int64   `json:"prompt_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Summary is a point-in-time copy of a client's totals.
type Summary struct {
	Calls        int                 `json:"calls"`
	PromptTokens int64               `json:"prompt_tokens"`
	OutputTokens int64               `json:"output_tokens"`
	CostUSD      float64             `json:"cost_usd"`
	ByTier       map[Tier]TierTotals `json:"by_tier"`
}

// Tracker owns per-client usage state. One instance is shared across requests;
// all access goes through the mutex.
type Tracker struct {
	mu      sync.Mutex
	clients map[string]map[Tier]*TierTotals
}

func NewTracker() *Tracker {
	return &Tracker{clients: make(map[string]map[Tier]*TierTotals)}
}

func (t *Tracker) Record(clientID string, u Usage) {
	if clientID == "" {
		clientID = UnknownClient
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(clientID, u)
}

func (t *Tracker) RecordAll(clientID string, usages []Usage) {
	if clientID == "" {
		clientID = UnknownClient
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, u := range usages {
		t.record(clientID, u)
	}
}

func (t *Tracker) record(clientID string, u Usage) {
	byTier := t.clients[clientID]
	if byTier == nil {
		byTier = make(map[Tier]*TierTotals)
		t.clients[clientID] = byTier
	}
	tt := byTier[u.Tier]
	if tt == nil {
		tt = &TierTotals{}
		byTier[u.Tier] = tt
	}
	tt.Calls++
	tt.PromptTokens += u.PromptTokens
	tt.OutputTokens += u.OutputTokens
	tt.CostUSD += CallCost(u)
}

func (t *Tracker) Totals(clientID string) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{ByTier: make(map[Tier]TierTotals)}
	for tier, tt := range t.clients[clientID] {
		s.ByTier[tier] = *tt
		s.Calls += tt.Calls
		s.PromptTokens += tt.PromptTokens
		s.OutputTokens += tt.OutputTokens
		s.CostUSD += tt.CostUSD
	}
	return s
}

func (t *Tracker) Reset(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, clientID)
}

// MergeUnknown folds usage accumulated under the unknown sentinel into a
// resolved client id. Handles identity becoming known partway through a session.
func (t *Tracker) MergeUnknown(clientID string) {
	if clientID == "" || clientID == UnknownClient {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	stray := t.clients[UnknownClient]
	if stray == nil {
		return
	}
	delete(t.clients, UnknownClient)

	byTier := t.clients[clientID]
	if byTier == nil {
		t.clients[clientID] = stray
		return
	}
	for tier, src := range stray {
		dst := byTier[tier]
		if dst == nil {
			byTier[tier] = src
			continue
		}
		dst.Calls += src.Calls
		dst.PromptTokens += src.PromptTokens
		dst.OutputTokens += src.OutputTokens
		dst.CostUSD += src.CostUSD
	}
}
