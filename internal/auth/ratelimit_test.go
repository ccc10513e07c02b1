// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, max int, window time.Duration) (*RateLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(RateLimitConfig{Name: "test", Max: max, Window: window, Clock: clock.Now}, nil)
	t.Cleanup(rl.Close)
	return rl, clock
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{}, nil)
	defer rl.Close()

	assert.Equal(t, "auth", rl.Name())
	assert.Equal(t, DefaultAuthRateMax, rl.max)
	assert.Equal(t, DefaultRateWindow, rl.window)
}

func TestRateLimiter_Take(t *testing.T) {
	rl, clock := newTestLimiter(t, 3, time.Minute)
	key := RateKey{IP: "10.0.0.1", Identity: "alice@x.com"}

	for i := range 3 {
		ok, retryAfter := rl.Take(key)
		assert.True(t, ok, "attempt %d", i+1)
		assert.Zero(t, retryAfter)
		clock.Advance(10 * time.Second)
	}

	ok, retryAfter := rl.Take(key)
	assert.False(t, ok)
	// Oldest hit was 30s ago; it leaves the window in 30s.
	assert.Equal(t, 30*time.Second, retryAfter)

	clock.Advance(30 * time.Second)
	ok, _ = rl.Take(key)
	assert.True(t, ok, "oldest hit slid out of the window")
}

func TestRateLimiter_RejectedTakeConsumesNothing(t *testing.T) {
	rl, clock := newTestLimiter(t, 1, time.Minute)
	key := RateKey{IP: "10.0.0.1"}

	ok, _ := rl.Take(key)
	require.True(t, ok)
	for range 5 {
		ok, _ = rl.Take(key)
		assert.False(t, ok)
	}

	clock.Advance(time.Minute + time.Second)
	ok, _ = rl.Take(key)
	assert.True(t, ok)
}

func TestRateLimiter_AllowDoesNotConsume(t *testing.T) {
	rl, _ := newTestLimiter(t, 2, time.Minute)
	key := RateKey{IP: "10.0.0.1", Identity: "bob@x.com"}

	for range 10 {
		ok, _ := rl.Allow(key)
		assert.True(t, ok)
	}

	rl.Record(key)
	rl.Record(key)
	ok, retryAfter := rl.Allow(key)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)
}

func TestRateLimiter_RetryAfterHasFloor(t *testing.T) {
	rl, clock := newTestLimiter(t, 1, time.Minute)
	key := RateKey{IP: "10.0.0.1"}

	rl.Record(key)
	clock.Advance(time.Minute - 100*time.Millisecond)

	ok, retryAfter := rl.Allow(key)
	assert.False(t, ok)
	assert.Equal(t, time.Second, retryAfter)
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, time.Minute)

	a := RateKey{IP: "10.0.0.1", Identity: "alice@x.com"}
	b := RateKey{IP: "10.0.0.1", Identity: "bob@x.com"}
	c := RateKey{IP: "10.0.0.2", Identity: "alice@x.com"}

	ok, _ := rl.Take(a)
	require.True(t, ok)

	ok, _ = rl.Take(b)
	assert.True(t, ok)
	ok, _ = rl.Take(c)
	assert.True(t, ok)
	ok, _ = rl.Take(a)
	assert.False(t, ok)
}

func TestRateLimiter_Reset(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, time.Minute)
	key := RateKey{IP: "10.0.0.1"}

	rl.Record(key)
	ok, _ := rl.Allow(key)
	require.False(t, ok)

	rl.Reset(key)
	ok, _ = rl.Allow(key)
	assert.True(t, ok)
	assert.Zero(t, rl.KeyCount())
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, clock := newTestLimiter(t, 5, time.Minute)

	rl.Record(RateKey{IP: "10.0.0.1"})
	clock.Advance(45 * time.Second)
	rl.Record(RateKey{IP: "10.0.0.2"})
	require.Equal(t, 2, rl.KeyCount())

	clock.Advance(30 * time.Second)
	rl.Cleanup()

	assert.Equal(t, 1, rl.KeyCount())
}

func TestRateLimiter_ConcurrentTake(t *testing.T) {
	rl, _ := newTestLimiter(t, 50, time.Minute)
	key := RateKey{IP: "10.0.0.1"}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := rl.Take(key); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestRateLimiter_Gauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	clock := &fakeClock{now: time.Now()}

	login := NewRateLimiter(RateLimitConfig{Name: "login", Clock: clock.Now}, reg)
	defer login.Close()
	authRL := NewRateLimiter(RateLimitConfig{Name: "auth", Clock: clock.Now}, reg)
	defer authRL.Close()

	login.Record(RateKey{IP: "10.0.0.1"})
	login.Record(RateKey{IP: "10.0.0.2"})
	authRL.Record(RateKey{IP: "10.0.0.1"})

	expected := `
# HELP authcore_ratelimit_tracked_keys Current number of keys tracked by a rate limiter
# TYPE authcore_ratelimit_tracked_keys gauge
authcore_ratelimit_tracked_keys{limiter="auth"} 1
authcore_ratelimit_tracked_keys{limiter="login"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "authcore_ratelimit_tracked_keys"))
}

func TestRateLimiter_CloseStopsCleanupGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rl := NewRateLimiter(RateLimitConfig{CleanupInterval: time.Millisecond}, nil)
	rl.Record(RateKey{IP: "10.0.0.1"})
	time.Sleep(5 * time.Millisecond)
	rl.Close()
	rl.Close()
}
