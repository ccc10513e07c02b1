// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store provides the PostgreSQL data-access layer: a bounded
// connection pool, retry with exponential backoff for transient faults,
// and transaction orchestration shared by every repository.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultOperationTimeout bounds a single attempt of a statement or transaction.
const DefaultOperationTimeout = 30 * time.Second

// ErrRetriesExhausted is returned when a transient fault persisted through
// every attempt allowed by the retry policy.
var ErrRetriesExhausted = errors.New("database retries exhausted")

// Querier is the statement surface shared by the pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool abstracts *pgxpool.Pool so the data-access layer can be exercised
// with pgxmock. Each Exec/Query/QueryRow acquires a connection for the
// duration of the statement and returns it afterwards.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

type txKey struct{}

func txFrom(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// Stats is a point-in-time snapshot of data-access health.
type Stats struct {
	Queries       int64
	Errors        int64
	Retries       int64
	AcquiredConns int32
	IdleConns     int32
	TotalConns    int32
	MaxConns      int32
}

// DB executes statements and transactions against a Pool with retry.
// It is safe for concurrent use.
type DB struct {
	pool      Pool
	policy    RetryPolicy
	txPolicy  RetryPolicy
	opTimeout time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer

	queries atomic.Int64
	errors  atomic.Int64
	retries atomic.Int64
}

// Option configures a DB.
type Option func(*DB)

// WithRetryPolicy sets the policy used by Execute.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(d *DB) { d.policy = p }
}

// WithTxRetryPolicy sets the policy used by InTransaction.
func WithTxRetryPolicy(p RetryPolicy) Option {
	return func(d *DB) { d.txPolicy = p }
}

// WithOperationTimeout bounds every attempt. Non-positive values keep the default.
func WithOperationTimeout(timeout time.Duration) Option {
	return func(d *DB) {
		if timeout > 0 {
			d.opTimeout = timeout
		}
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a DB over the given pool.
func New(pool Pool, opts ...Option) *DB {
	d := &DB{
		pool:      pool,
		policy:    DefaultRetryPolicy(),
		txPolicy:  DefaultTxRetryPolicy(),
		opTimeout: DefaultOperationTimeout,
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/holomush/authcore/internal/store"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Querier returns the transaction carried by ctx, or the pool when there is none.
func (d *DB) Querier(ctx context.Context) Querier {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return d.pool
}

// Execute runs fn with the default retry policy. See ExecuteWithPolicy.
func (d *DB) Execute(ctx context.Context, op string, fn func(ctx context.Context, q Querier) error) error {
	return d.ExecuteWithPolicy(ctx, op, d.policy, fn)
}

// ExecuteWithPolicy runs fn against the pool. Transient failures are
// retried according to policy; any other error from fn is returned as is.
// When ctx carries a transaction, fn runs exactly once against it and
// retrying is left to the enclosing InTransaction.
func (d *DB) ExecuteWithPolicy(ctx context.Context, op string, policy RetryPolicy, fn func(ctx context.Context, q Querier) error) error {
	if tx, ok := txFrom(ctx); ok {
		d.queries.Add(1)
		if err := fn(ctx, tx); err != nil {
			d.errors.Add(1)
			return err
		}
		return nil
	}

	return d.do(ctx, op, policy, IsTransient, func(ctx context.Context) error {
		return fn(ctx, d.pool)
	})
}

// Exec is a convenience wrapper running a single statement through Execute.
func (d *DB) Exec(ctx context.Context, op, sql string, args ...any) (pgconn.CommandTag, error) {
	var tag pgconn.CommandTag
	err := d.Execute(ctx, op, func(ctx context.Context, q Querier) error {
		var err error
		tag, err = q.Exec(ctx, sql, args...)
		return err
	})
	return tag, err
}

// InTransaction begins a transaction, stores it in ctx and calls fn.
// The transaction commits when fn returns nil and rolls back otherwise,
// including when fn panics. Serialization failures and deadlocks restart
// the whole transaction according to the transaction retry policy. A call
// made with a ctx that already carries a transaction joins it.
func (d *DB) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	return d.do(ctx, "transaction", d.txPolicy, IsTxRetryable, func(ctx context.Context) error {
		return d.runTx(ctx, fn)
	})
}

func (d *DB) runTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return oops.Code("DB_TX_BEGIN_FAILED").Wrap(err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return oops.Code("DB_TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

// do drives one retried unit of work. Each attempt gets its own timeout
// and span; an attempt that overran its timeout while the caller's ctx is
// still live counts as transient.
func (d *DB) do(ctx context.Context, op string, policy RetryPolicy, retryable func(error) bool, attempt func(ctx context.Context) error) error {
	var (
		attempts  int
		lastErr   error
		transient bool
	)

	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			d.retries.Add(1)
		}
		d.queries.Add(1)

		attemptCtx, cancel := context.WithTimeout(ctx, d.opTimeout)
		defer cancel()
		attemptCtx, span := d.tracer.Start(attemptCtx, "store."+op,
			trace.WithAttributes(attribute.Int("db.attempt", attempts)))
		defer span.End()

		err := attempt(attemptCtx)
		if err == nil {
			transient = false
			return nil
		}

		d.errors.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt failed")
		lastErr = err

		timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
		transient = ctx.Err() == nil && (retryable(err) || timedOut)
		if !transient {
			return err
		}
		d.logger.WarnContext(ctx, "transient database error",
			"operation", op,
			"attempt", attempts,
			"error", err,
		)
		return retry.RetryableError(err)
	})
	if err == nil {
		return nil
	}

	if ctx.Err() != nil && transient {
		return oops.Code("DB_CANCELLED").
			With("operation", op).
			With("attempts", attempts).
			Wrap(fmt.Errorf("%w: %w", ctx.Err(), lastErr))
	}
	if transient {
		return oops.Code("DB_RETRIES_EXHAUSTED").
			With("operation", op).
			With("attempts", attempts).
			Wrap(fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr))
	}
	return err
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.pool.Ping(ctx); err != nil {
		return oops.Code("DB_PING_FAILED").Wrap(err)
	}
	return nil
}

// Close releases the pool.
func (d *DB) Close() {
	d.pool.Close()
}

// Stats returns counters and, when backed by a *pgxpool.Pool, pool occupancy.
func (d *DB) Stats() Stats {
	s := Stats{
		Queries: d.queries.Load(),
		Errors:  d.errors.Load(),
		Retries: d.retries.Load(),
	}
	if p, ok := d.pool.(*pgxpool.Pool); ok {
		st := p.Stat()
		s.AcquiredConns = st.AcquiredConns()
		s.IdleConns = st.IdleConns()
		s.TotalConns = st.TotalConns()
		s.MaxConns = st.MaxConns()
	}
	return s
}
