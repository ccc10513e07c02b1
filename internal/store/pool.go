// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	DSN              string
	MinConns         int32
	MaxConns         int32
	MaxConnIdleTime  time.Duration
	MaxConnUses      int64 // 0 disables recycling by use count
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
}

// NewPool builds and verifies a pgx connection pool.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	pgCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse dsn").Wrap(err)
	}

	if cfg.MinConns > 0 {
		pgCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		pgCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnIdleTime > 0 {
		pgCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		pgCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.StatementTimeout > 0 {
		pgCfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	if cfg.MaxConnUses > 0 {
		uses := newUseCounter(cfg.MaxConnUses)
		pgCfg.AfterRelease = uses.release
		pgCfg.BeforeClose = uses.forget
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

// useCounter retires a connection once it has served max acquisitions.
type useCounter struct {
	mu   sync.Mutex
	max  int64
	uses map[*pgx.Conn]int64
}

func newUseCounter(maxUses int64) *useCounter {
	return &useCounter{max: maxUses, uses: make(map[*pgx.Conn]int64)}
}

// release reports whether the connection may return to the pool.
func (u *useCounter) release(conn *pgx.Conn) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uses[conn]++
	if u.uses[conn] >= u.max {
		delete(u.uses, conn)
		return false
	}
	return true
}

func (u *useCounter) forget(conn *pgx.Conn) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.uses, conn)
}
