package ratelimit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLimiter() (*Limiter, *time.Time) {
	l := NewLimiter()
	cur := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return cur }
	return l, &cur
}

func TestAllowHardCap(t *testing.T) {
	l, _ := testLimiter()

	for i := 0; i < 10; i++ {
		require.True(t, l.Allow("c1"), "request %d should pass", i+1)
	}
	require.False(t, l.Allow("c1"), "11th request must be rejected")
}

func TestAllowWindowResetsOnFirstCallAfterExpiry(t *testing.T) {
	l, cur := testLimiter()

	for i := 0; i < 11; i++ {
		l.Allow("c1")
	}
	require.False(t, l.Allow("c1"))

	*cur = cur.Add(61 * time.Second)
	require.True(t, l.Allow("c1"), "fresh window after expiry")
}

func TestAllowIsPerClient(t *testing.T) {
	l, _ := testLimiter()

	for i := 0; i < 11; i++ {
		l.Allow("heavy")
	}
	require.False(t, l.Allow("heavy"))
	require.True(t, l.Allow("light"))
}

func TestRetryAfter(t *testing.T) {
	l, cur := testLimiter()

	require.Equal(t, time.Duration(0), l.RetryAfter("c1"))
	l.Allow("c1")
	*cur = cur.Add(20 * time.Second)
	require.Equal(t, 40*time.Second, l.RetryAfter("c1"))
}

func TestDelayOnlyWhenElevated(t *testing.T) {
	l, _ := testLimiter()
	l.softDelay = 10 * time.Millisecond

	// Below the soft threshold the delay is a no-op.
	for i := 0; i < 5; i++ {
		l.Allow("c1")
	}
	start := time.Now()
	require.NoError(t, l.Delay(context.Background(), "c1"))
	require.Less(t, time.Since(start), 5*time.Millisecond)

	// Above it the soft delay applies.
	l.Allow("c1")
	start = time.Now()
	require.NoError(t, l.Delay(context.Background(), "c1"))
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestDelayRespectsContext(t *testing.T) {
	l, _ := testLimiter()
	l.softDelay = time.Minute

	for i := 0; i < 6; i++ {
		l.Allow("c1")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Delay(ctx, "c1"), context.Canceled)
}

func TestClientIDResolution(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	require.Equal(t, UnknownClient, ClientID(r))

	r.Header.Set("X-Real-IP", "10.0.0.3")
	require.Equal(t, "10.0.0.3", ClientID(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	require.Equal(t, "10.0.0.1", ClientID(r))

	r.Header.Set("X-Client-ID", "client-7")
	require.Equal(t, "client-7", ClientID(r))
}
