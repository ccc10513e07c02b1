// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/pkg/errutil"
)

func fastPolicy(retries uint64) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newMockDB(t *testing.T, opts ...Option) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)

	opts = append([]Option{WithRetryPolicy(fastPolicy(3)), WithTxRetryPolicy(fastPolicy(2))}, opts...)
	return New(mock, opts...), mock
}

func pgErr(code string) error {
	return &pgconn.PgError{Code: code, Message: "simulated"}
}

func TestDB_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("retries serialization failure then succeeds", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`UPDATE accounts`).WillReturnError(pgErr(pgerrcode.SerializationFailure))
		mock.ExpectExec(`UPDATE accounts`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		tag, err := db.Exec(ctx, "touch", `UPDATE accounts SET updated_at = NOW()`)
		require.NoError(t, err)
		assert.Equal(t, int64(1), tag.RowsAffected())

		stats := db.Stats()
		assert.Equal(t, int64(2), stats.Queries)
		assert.Equal(t, int64(1), stats.Errors)
		assert.Equal(t, int64(1), stats.Retries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("does not retry non-transient errors", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`INSERT INTO accounts`).WillReturnError(pgErr(pgerrcode.UniqueViolation))

		_, err := db.Exec(ctx, "insert", `INSERT INTO accounts (id) VALUES ($1)`, "x")
		require.Error(t, err)
		_, unique := IsUniqueViolation(err)
		assert.True(t, unique)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, int64(0), db.Stats().Retries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns errors from fn unchanged", func(t *testing.T) {
		db, _ := newMockDB(t)
		sentinel := errors.New("domain failure")

		err := db.Execute(ctx, "noop", func(context.Context, Querier) error { return sentinel })
		assert.Same(t, sentinel, err)
	})

	t.Run("surfaces exhaustion after max retries", func(t *testing.T) {
		db, mock := newMockDB(t, WithRetryPolicy(fastPolicy(2)))
		for range 3 {
			mock.ExpectExec(`UPDATE accounts`).WillReturnError(pgErr(pgerrcode.TooManyConnections))
		}

		_, err := db.Exec(ctx, "touch", `UPDATE accounts SET updated_at = NOW()`)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		errutil.AssertErrorCode(t, err, "DB_RETRIES_EXHAUSTED")
		errutil.AssertErrorContext(t, err, "attempts", 3)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("treats an attempt timeout as transient", func(t *testing.T) {
		db, mock := newMockDB(t, WithOperationTimeout(10*time.Millisecond))
		mock.ExpectExec(`SELECT pg_sleep`).WillReturnResult(pgxmock.NewResult("SELECT", 1)).
			WillDelayFor(200 * time.Millisecond)
		mock.ExpectExec(`SELECT pg_sleep`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

		_, err := db.Exec(ctx, "sleep", `SELECT pg_sleep(1)`)
		require.NoError(t, err)
		assert.Equal(t, int64(1), db.Stats().Retries)
	})

	t.Run("stops retrying when caller context is cancelled", func(t *testing.T) {
		db, mock := newMockDB(t)
		cctx, cancel := context.WithCancel(ctx)
		mock.ExpectExec(`UPDATE accounts`).WillReturnError(pgErr(pgerrcode.SerializationFailure))

		err := db.Execute(cctx, "touch", func(ctx context.Context, q Querier) error {
			_, err := q.Exec(ctx, `UPDATE accounts SET updated_at = NOW()`)
			cancel()
			return err
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
	})
}

func TestDB_InTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE refresh_tokens`).WillReturnResult(pgxmock.NewResult("UPDATE", 2))
		mock.ExpectCommit()

		err := db.InTransaction(ctx, func(ctx context.Context) error {
			_, err := db.Querier(ctx).Exec(ctx, `UPDATE refresh_tokens SET revoked_at = NOW()`)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and returns fn error", func(t *testing.T) {
		db, mock := newMockDB(t)
		sentinel := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := db.InTransaction(ctx, func(context.Context) error { return sentinel })
		require.ErrorIs(t, err, sentinel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("restarts the transaction after a deadlock", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE accounts`).WillReturnError(pgErr(pgerrcode.DeadlockDetected))
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE accounts`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		attempts := 0
		err := db.InTransaction(ctx, func(ctx context.Context) error {
			attempts++
			_, err := db.Querier(ctx).Exec(ctx, `UPDATE accounts SET failed_logins = 0`)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("does not restart for other transient errors", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE accounts`).WillReturnError(pgErr(pgerrcode.TooManyConnections))
		mock.ExpectRollback()

		err := db.InTransaction(ctx, func(ctx context.Context) error {
			return db.Execute(ctx, "touch", func(ctx context.Context, q Querier) error {
				_, err := q.Exec(ctx, `UPDATE accounts SET updated_at = NOW()`)
				return err
			})
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE accounts`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`UPDATE refresh_tokens`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := db.InTransaction(ctx, func(ctx context.Context) error {
			if _, err := db.Querier(ctx).Exec(ctx, `UPDATE accounts SET password_hash = $1`, "h"); err != nil {
				return err
			}
			return db.InTransaction(ctx, func(ctx context.Context) error {
				_, err := db.Querier(ctx).Exec(ctx, `UPDATE refresh_tokens SET revoked_at = NOW()`)
				return err
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn panics", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.Panics(t, func() {
			_ = db.InTransaction(ctx, func(context.Context) error { panic("kaboom") })
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDB_QuerierWithoutTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	assert.Equal(t, Querier(mock), db.Querier(context.Background()))
}
