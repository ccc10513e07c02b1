// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package authtest

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/authcore/internal/auth"
)

// Test key material. Both are 32 bytes and distinct.
var (
	AccessSecret   = []byte("test-access-secret-0123456789abc")
	RefreshHashKey = []byte("test-refresh-hash-key-0123456789")
)

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Harness bundles a Service with its in-memory collaborators.
type Harness struct {
	Store        *Store
	Clock        *Clock
	Tokens       *auth.TokenService
	Hasher       *auth.BcryptHasher
	AuthLimiter  *auth.RateLimiter
	LoginLimiter *auth.RateLimiter
	Service      *auth.Service
}

// HarnessConfig tunes NewHarness. Zero values select test-friendly defaults.
type HarnessConfig struct {
	AuthRateMax  int
	LoginRateMax int
	Lockout      auth.LockoutPolicy
	Options      []auth.ServiceOption
}

// NewHarness builds a Service over an in-memory store with a fake clock
// and the minimum bcrypt cost. Limiters are closed on test cleanup.
func NewHarness(t testing.TB, cfg HarnessConfig) *Harness {
	t.Helper()

	store := NewStore()
	clock := NewClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:   AccessSecret,
		RefreshHashKey: RefreshHashKey,
		Issuer:         "authcore-test",
		Clock:          clock.Now,
	}, store.RefreshTokens(), store)
	require.NoError(t, err)

	authLimiter := auth.NewRateLimiter(auth.RateLimitConfig{
		Name:  "auth",
		Max:   valueOr(cfg.AuthRateMax, 100),
		Clock: clock.Now,
	}, nil)
	loginLimiter := auth.NewRateLimiter(auth.RateLimitConfig{
		Name:  "login",
		Max:   valueOr(cfg.LoginRateMax, 100),
		Clock: clock.Now,
	}, nil)
	t.Cleanup(func() {
		authLimiter.Close()
		loginLimiter.Close()
	})

	hasher := auth.NewBcryptHasher(bcrypt.MinCost)
	opts := append([]auth.ServiceOption{auth.WithClock(clock.Now)}, cfg.Options...)
	if cfg.Lockout != (auth.LockoutPolicy{}) {
		opts = append(opts, auth.WithLockoutPolicy(cfg.Lockout))
	}

	svc, err := auth.NewService(auth.ServiceDeps{
		Accounts:     store.Accounts(),
		Events:       store.Events(),
		Tokens:       tokens,
		Hasher:       hasher,
		Transactor:   store,
		AuthLimiter:  authLimiter,
		LoginLimiter: loginLimiter,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, opts...)
	require.NoError(t, err)

	return &Harness{
		Store:        store,
		Clock:        clock,
		Tokens:       tokens,
		Hasher:       hasher,
		AuthLimiter:  authLimiter,
		LoginLimiter: loginLimiter,
		Service:      svc,
	}
}

func valueOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
