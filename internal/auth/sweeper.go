// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authcore/pkg/errutil"
)

// SweepConfig defines retention for credential and audit rows.
type SweepConfig struct {
	Interval       time.Duration // How often to run the sweep
	TokenRetention time.Duration // How long expired or revoked refresh tokens are kept
	EventRetention time.Duration // How long security events are kept
}

// DefaultSweepConfig returns the default sweep configuration.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:       time.Hour,
		TokenRetention: 30 * 24 * time.Hour,
		EventRetention: 90 * 24 * time.Hour,
	}
}

// SweepResult counts rows removed by one sweep.
type SweepResult struct {
	Tokens int64
	Events int64
}

// Sweeper periodically deletes stale refresh tokens and old security events.
type Sweeper struct {
	cfg    SweepConfig
	tokens RefreshTokenRepository
	events EventRepository
	logger *slog.Logger
	clock  Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweeperLogger sets the logger.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweeperClock overrides time.Now.
func WithSweeperClock(c Clock) SweeperOption {
	return func(s *Sweeper) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewSweeper creates a Sweeper. Zero config fields take their defaults.
func NewSweeper(cfg SweepConfig, tokens RefreshTokenRepository, events EventRepository, opts ...SweeperOption) *Sweeper {
	def := DefaultSweepConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.TokenRetention <= 0 {
		cfg.TokenRetention = def.TokenRetention
	}
	if cfg.EventRetention <= 0 {
		cfg.EventRetention = def.EventRetention
	}
	s := &Sweeper{
		cfg:    cfg,
		tokens: tokens,
		events: events,
		logger: slog.Default(),
		clock:  utcNow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce executes a single sweep. Both deletions are attempted even if
// the first fails; errors are combined.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	now := s.clock()
	var (
		res  SweepResult
		errs []error
	)

	n, err := s.tokens.DeleteStale(ctx, now.Add(-s.cfg.TokenRetention))
	if err != nil {
		errs = append(errs, oops.Code("SWEEP_TOKENS_FAILED").Wrap(err))
	} else {
		res.Tokens = n
	}

	n, err = s.events.DeleteOlderThan(ctx, now.Add(-s.cfg.EventRetention))
	if err != nil {
		errs = append(errs, oops.Code("SWEEP_EVENTS_FAILED").Wrap(err))
	} else {
		res.Events = n
	}

	if res.Tokens > 0 || res.Events > 0 {
		s.logger.InfoContext(ctx, "swept stale auth records", "tokens", res.Tokens, "events", res.Events)
	}
	return res, errors.Join(errs...)
}

// Start begins periodic sweeping. The first sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the running sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		errutil.LogError(ctx, s.logger, "auth sweep failed", err)
	}
}
