package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastOpts() RetryOptions {
	return RetryOptions{RetryDelay: time.Millisecond}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := WithRetry(context.Background(), "flaky", fastOpts(),
		func(ctx context.Context) (string, error) {
			calls++
			return "", errors.New("503 service unavailable")
		})
	require.Error(t, err)
	require.Equal(t, 3, calls) // initial attempt + 2 retries
	require.Contains(t, err.Error(), "flaky failed after 3 attempts")
	require.Contains(t, err.Error(), "503")
}

func TestWithRetryNonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("400 invalid argument")
	_, err := WithRetry(context.Background(), "strict", fastOpts(),
		func(ctx context.Context) (int, error) {
			calls++
			return 0, boom
		})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
	require.NotContains(t, err.Error(), "attempts")
}

func TestWithRetryRecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	v, err := WithRetry(context.Background(), "recovers", fastOpts(),
		func(ctx context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("connection reset by peer")
			}
			return "ok", nil
		})
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 2, calls)
}

func TestWithRetryEmptyResultIsRetryable(t *testing.T) {
	calls := 0
	v, err := WithRetry(context.Background(), "empty", fastOpts(),
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 2 {
				return "", ErrEmptyResult
			}
			return "text", nil
		})
	require.NoError(t, err)
	require.Equal(t, "text", v)
	require.Equal(t, 2, calls)
}

func TestWithRetryAllowEmptyDoesNotRetryEmpty(t *testing.T) {
	calls := 0
	_, err := WithRetryAllowEmpty(context.Background(), "identify", fastOpts(),
		func(ctx context.Context) (string, error) {
			calls++
			return "", ErrEmptyResult
		})
	require.ErrorIs(t, err, ErrEmptyResult)
	require.Equal(t, 1, calls)
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := WithRetry(ctx, "cancelled", RetryOptions{RetryDelay: 50 * time.Millisecond},
		func(ctx context.Context) (string, error) {
			calls++
			cancel()
			return "", errors.New("503 service unavailable")
		})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestDefaultShouldRetryClassification(t *testing.T) {
	retryable := []string{
		"429 too many requests",
		"rate limit exceeded",
		"RESOURCE_EXHAUSTED: quota",
		"500 internal error",
		"502 bad gateway",
		"service unavailable",
		"connection refused",
	}
	for _, msg := range retryable {
		require.True(t, DefaultShouldRetry(errors.New(msg)), msg)
	}

	permanent := []string{
		"400 invalid argument",
		"401 unauthorized",
		"404 not found",
	}
	for _, msg := range permanent {
		require.False(t, DefaultShouldRetry(errors.New(msg)), msg)
	}
	require.False(t, DefaultShouldRetry(nil))
}
