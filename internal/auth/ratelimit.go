// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Rate limiting defaults.
const (
	// DefaultAuthRateMax is the budget for registration and generic auth endpoints.
	DefaultAuthRateMax = 5

	// DefaultLoginRateMax is the budget of failed logins.
	DefaultLoginRateMax = 3

	// DefaultRateWindow is the sliding window for both budgets.
	DefaultRateWindow = 15 * time.Minute

	// DefaultRateCleanupInterval is how often idle keys are dropped.
	DefaultRateCleanupInterval = 5 * time.Minute

	// maxRateKeys triggers an opportunistic sweep of idle keys on write.
	maxRateKeys = 10000
)

// Clock returns the current time.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// RateKey identifies a budget: the client address paired with the
// identity it claims (username or email). Either part may be empty.
type RateKey struct {
	IP       string
	Identity string
}

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	// Name labels the limiter in metrics and errors.
	Name string

	// Max is the number of hits allowed per Window. Defaults to DefaultAuthRateMax.
	Max int

	// Window is the sliding window. Defaults to DefaultRateWindow.
	Window time.Duration

	// CleanupInterval is the interval of the background sweep.
	// Defaults to DefaultRateCleanupInterval.
	CleanupInterval time.Duration

	// Clock overrides time.Now.
	Clock Clock
}

// RateLimiter implements a sliding-window log keyed by RateKey.
// It is safe for concurrent use.
//
// The RateLimiter runs a background goroutine to drop idle keys.
// Call Close() to stop the goroutine.
type RateLimiter struct {
	name   string
	max    int
	window time.Duration
	clock  Clock

	mu   sync.Mutex
	hits map[RateKey][]time.Time

	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	keysGauge prometheus.Gauge
}

var trackedKeysDesc = prometheus.GaugeOpts{
	Name: "authcore_ratelimit_tracked_keys",
	Help: "Current number of keys tracked by a rate limiter",
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// When reg is non-nil a tracked-key gauge labelled with the limiter name is
// registered with it.
func NewRateLimiter(cfg RateLimitConfig, reg prometheus.Registerer) *RateLimiter {
	if cfg.Name == "" {
		cfg.Name = "auth"
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultAuthRateMax
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateWindow
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateCleanupInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = utcNow
	}

	rl := &RateLimiter{
		name:     cfg.Name,
		max:      cfg.Max,
		window:   cfg.Window,
		clock:    cfg.Clock,
		hits:     make(map[RateKey][]time.Time),
		stopChan: make(chan struct{}),
	}
	if reg != nil {
		rl.keysGauge = trackedKeysGauge(reg).WithLabelValues(cfg.Name)
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(cfg.CleanupInterval)

	return rl
}

// trackedKeysGauge registers the shared gauge vector, reusing one already
// registered by another limiter.
func trackedKeysGauge(reg prometheus.Registerer) *prometheus.GaugeVec {
	vec := prometheus.NewGaugeVec(trackedKeysDesc, []string{"limiter"})
	if err := reg.Register(vec); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return vec
}

// Name returns the limiter name.
func (rl *RateLimiter) Name() string { return rl.name }

// Allow reports whether key has budget left without consuming it. When the
// budget is spent it also returns how long until the oldest hit leaves the
// window.
func (rl *RateLimiter) Allow(key RateKey) (bool, time.Duration) {
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.allowLocked(key, now)
}

// Record consumes one unit of budget for key.
func (rl *RateLimiter) Record(key RateKey) {
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.prune(key, now)
	rl.hits[key] = append(rl.hits[key], now)
	if len(rl.hits) > maxRateKeys {
		rl.sweepLocked(now)
	}
	rl.updateGauge()
}

// Take checks and consumes budget in one step. A rejected call consumes nothing.
func (rl *RateLimiter) Take(key RateKey) (bool, time.Duration) {
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if ok, retryAfter := rl.allowLocked(key, now); !ok {
		return false, retryAfter
	}
	rl.hits[key] = append(rl.hits[key], now)
	rl.updateGauge()
	return true, 0
}

// Reset drops all hits recorded for key.
func (rl *RateLimiter) Reset(key RateKey) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	delete(rl.hits, key)
	rl.updateGauge()
}

// KeyCount returns the number of tracked keys.
func (rl *RateLimiter) KeyCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.hits)
}

// Cleanup drops keys with no hits inside the window. Called by the
// background goroutine; may also be called directly.
func (rl *RateLimiter) Cleanup() {
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweepLocked(now)
	rl.updateGauge()
}

// Close stops the background cleanup goroutine and waits for it to exit.
// It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
	rl.wg.Wait()
}

func (rl *RateLimiter) allowLocked(key RateKey, now time.Time) (bool, time.Duration) {
	hits := rl.prune(key, now)
	if len(hits) < rl.max {
		return true, 0
	}
	retryAfter := hits[0].Add(rl.window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter
}

// prune removes hits older than the window for key and returns the rest.
func (rl *RateLimiter) prune(key RateKey, now time.Time) []time.Time {
	hits, ok := rl.hits[key]
	if !ok {
		return nil
	}
	threshold := now.Add(-rl.window)
	i := 0
	for i < len(hits) && !hits[i].After(threshold) {
		i++
	}
	if i == len(hits) {
		delete(rl.hits, key)
		return nil
	}
	if i > 0 {
		hits = append(hits[:0:0], hits[i:]...)
		rl.hits[key] = hits
	}
	return hits
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	threshold := now.Add(-rl.window)
	for key, hits := range rl.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(threshold) {
			delete(rl.hits, key)
		}
	}
}

func (rl *RateLimiter) updateGauge() {
	if rl.keysGauge != nil {
		rl.keysGauge.Set(float64(len(rl.hits)))
	}
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}
