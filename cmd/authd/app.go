// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/postgres"
	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/store"
)

// app is the wired component graph shared by serve and sweep.
type app struct {
	db           *store.DB
	service      *auth.Service
	sweeper      *auth.Sweeper
	authLimiter  *auth.RateLimiter
	loginLimiter *auth.RateLimiter
}

// newApp wires repositories, token service, limiters and the session
// service over pool. Collectors are registered on reg.
func newApp(cfg *config.Config, pool store.Pool, reg prometheus.Registerer, logger *slog.Logger) (*app, error) {
	db := store.New(pool,
		store.WithRetryPolicy(cfg.RetryPolicy()),
		store.WithTxRetryPolicy(cfg.TxRetryPolicy()),
		store.WithOperationTimeout(cfg.Database.OperationTimeout),
		store.WithLogger(logger),
	)
	reg.MustRegister(store.NewCollector(db))

	accounts := postgres.NewAccountRepository(db)
	refreshTokens := postgres.NewRefreshTokenRepository(db)
	events := postgres.NewEventRepository(db)

	tokens, err := auth.NewTokenService(cfg.TokenConfig(), refreshTokens, db)
	if err != nil {
		return nil, err
	}

	authLimiter := auth.NewRateLimiter(cfg.AuthRateLimit(), reg)
	loginLimiter := auth.NewRateLimiter(cfg.LoginRateLimit(), reg)

	svc, err := auth.NewService(auth.ServiceDeps{
		Accounts:     accounts,
		Events:       events,
		Tokens:       tokens,
		Hasher:       auth.NewBcryptHasher(cfg.Password.BcryptCost),
		Transactor:   db,
		AuthLimiter:  authLimiter,
		LoginLimiter: loginLimiter,
		Logger:       logger,
	},
		auth.WithLockoutPolicy(cfg.LockoutPolicy()),
		auth.WithPasswordPolicy(cfg.PasswordPolicy()),
		auth.WithMetrics(auth.NewMetrics(reg)),
	)
	if err != nil {
		authLimiter.Close()
		loginLimiter.Close()
		return nil, err
	}

	return &app{
		db:           db,
		service:      svc,
		sweeper:      auth.NewSweeper(cfg.SweepConfig(), refreshTokens, events, auth.WithSweeperLogger(logger)),
		authLimiter:  authLimiter,
		loginLimiter: loginLimiter,
	}, nil
}

// Close stops background work and releases the pool.
func (a *app) Close() {
	a.sweeper.Stop()
	a.authLimiter.Close()
	a.loginLimiter.Close()
	a.db.Close()
}
