// Package resilience wraps model calls with bounded retries and per-endpoint
// circuit breakers. The two layers are independent: retries smooth transient
// failures within a single call, breakers throttle repeated failures across
// separate attempts.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// ErrEmptyResult marks a model response with no candidates or blank text.
// Retryable by default; callers that treat empty output as valid data use
// AllowEmpty to opt out.
var ErrEmptyResult = errors.New("empty model response")

// RetryOptions configures WithRetry. Zero values take the defaults below.
type RetryOptions struct {
	MaxRetries  int // extra attempts after the first (total = MaxRetries+1)
	RetryDelay  time.Duration
	ShouldRetry func(error) bool
}

const (
	defaultMaxRetries = 2
	defaultRetryDelay = 2 * time.Second
)

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxRetries == 0 {
		o.MaxRetries = defaultMaxRetries
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = DefaultShouldRetry
	}
	return o
}

// DefaultShouldRetry retries network-type errors, rate limiting (429), server
// errors (5xx), and empty results. Other errors, e.g. 4xx client errors, abort
// immediately.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyResult) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "too many requests"):
		return true
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "server error"),
		strings.Contains(msg, "internal error"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"):
		return true
	}
	return false
}

// AllowEmptyShouldRetry is DefaultShouldRetry except empty results are not
// retried: the caller handles them as valid data.
func AllowEmptyShouldRetry(err error) bool {
	if errors.Is(err, ErrEmptyResult) {
		return false
	}
	return DefaultShouldRetry(err)
}

// WithRetry runs op up to MaxRetries+1 times with a fixed delay between
// attempts. Non-retryable errors abort without consuming remaining retries.
// Exhaustion fails with an error embedding the attempt count and the last
// underlying error.
func WithRetry[T any](ctx context.Context, label string, opts RetryOptions, op func(context.Context) (T, error)) (T, error) {
	o := opts.withDefaults()

	var (
		result   T
		lastErr  error
		attempts int
	)
	body := func() error {
		attempts++
		v, err := op(ctx)
		if err != nil {
			lastErr = err
			if !o.ShouldRetry(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(o.RetryDelay), uint64(o.MaxRetries)),
		ctx,
	)
	err := backoff.Retry(body, b)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var zero T
		return zero, err
	}
	if attempts > o.MaxRetries && o.ShouldRetry(lastErr) {
		var zero T
		return zero, fmt.Errorf("%s failed after %d attempts: %w", label, attempts, lastErr)
	}
	var zero T
	return zero, err
}

// WithRetryAllowEmpty is WithRetry with the AllowEmpty classification, keeping
// any caller-provided MaxRetries/RetryDelay.
func WithRetryAllowEmpty[T any](ctx context.Context, label string, opts RetryOptions, op func(context.Context) (T, error)) (T, error) {
	opts.ShouldRetry = AllowEmptyShouldRetry
	return WithRetry(ctx, label, opts, op)
}
