package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// OpenError is returned while the breaker is open and the reset timeout has
// not elapsed.
type OpenError struct {
	Name string
	Wait time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: circuit open, retry in %ds", e.Name, int(e.Wait.Seconds()+0.999))
}

// TooFrequentError is returned when calls arrive closer together than the
// breaker's minimum call interval. It never counts as a failure.
type TooFrequentError struct {
	Name string
	Wait time.Duration
}

func (e *TooFrequentError) Error() string {
	return fmt.Sprintf("%s: calls too frequent, wait %ds", e.Name, int(e.Wait.Seconds()+0.999))
}

// WaitHint extracts the retry-in duration from breaker errors so callers can
// surface it to users.
func WaitHint(err error) (time.Duration, bool) {
	var oe *OpenError
	if errors.As(err, &oe) {
		return oe.Wait, true
	}
	var fe *TooFrequentError
	if errors.As(err, &fe) {
		return fe.Wait, true
	}
	return 0, false
}

// Breaker tracks failures for one guarded endpoint class. CLOSED passes calls
// through; after failureThreshold consecutive failures it opens and rejects
// calls until resetTimeout elapses, then closes optimistically with a zeroed
// count (no separate half-open trial state).
type Breaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	minCallInterval  time.Duration

	mu           sync.Mutex
	failureCount int
	open         bool
	lastFailure  time.Time
	lastCall     time.Time
	now          func() time.Time
}

func NewBreaker(name string, failureThreshold int, resetTimeout, minCallInterval time.Duration) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		minCallInterval:  minCallInterval,
		now:              time.Now,
	}
}

// admit applies the frequency throttle and the open-circuit gate, and records
// the call time when the call is allowed through.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	// Frequency throttle applies regardless of circuit state and is not a failure.
	if !b.lastCall.IsZero() {
		if since := now.Sub(b.lastCall); since < b.minCallInterval {
			return &TooFrequentError{Name: b.name, Wait: b.minCallInterval - since}
		}
	}

	if b.open {
		since := now.Sub(b.lastFailure)
		if since < b.resetTimeout {
			return &OpenError{Name: b.name, Wait: b.resetTimeout - since}
		}
		b.open = false
		b.failureCount = 0
	}

	b.lastCall = now
	return nil
}

func (b *Breaker) report(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failureCount = 0
		return
	}
	// Cancellation is a silent reset, not a service failure.
	if errors.Is(err, context.Canceled) {
		return
	}
	b.failureCount++
	b.lastFailure = b.now()
	if b.failureCount >= b.failureThreshold {
		b.open = true
	}
}

// Do guards an error-only operation.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.report(err)
	return err
}

// Call guards a result-returning operation. The underlying error is returned
// unwrapped.
func Call[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	v, err := fn()
	b.report(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}
