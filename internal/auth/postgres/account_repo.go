// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres implements the auth repositories on PostgreSQL through
// the store data-access layer.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/store"
)

// Executor is the part of store.DB the repositories use.
type Executor interface {
	Execute(ctx context.Context, op string, fn func(ctx context.Context, q store.Querier) error) error
}

const accountColumns = `id, username, email, password_hash, email_verified,
	failed_logins, lockout_until, last_login_at, deleted_at, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db Executor
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db Executor) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, a *auth.Account) error {
	err := r.db.Execute(ctx, "insert account", func(ctx context.Context, q store.Querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO accounts (
				id, username, email, password_hash, email_verified,
				failed_logins, lockout_until, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			a.ID.String(),
			a.Username,
			a.Email,
			a.PasswordHash,
			a.EmailVerified,
			a.FailedLogins,
			a.LockoutUntil,
			a.CreatedAt,
			a.UpdatedAt,
		)
		return err
	})
	if constraint, ok := store.IsUniqueViolation(err); ok {
		return oops.Code("ACCOUNT_DUPLICATE").
			With("constraint", constraint).
			Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("id", a.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a live account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	var account *auth.Account
	err := r.db.Execute(ctx, "get account by id", func(ctx context.Context, q store.Querier) error {
		var err error
		account, err = scanAccount(q.QueryRow(ctx, `
			SELECT `+accountColumns+`
			FROM accounts
			WHERE id = $1 AND deleted_at IS NULL
		`, id.String()))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByEmail retrieves a live account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	var account *auth.Account
	err := r.db.Execute(ctx, "get account by email", func(ctx context.Context, q store.Querier) error {
		var err error
		account, err = scanAccount(q.QueryRow(ctx, `
			SELECT `+accountColumns+`
			FROM accounts
			WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL
		`, email))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return account, nil
}

// RecordLoginOutcome applies one login attempt with a relative update so
// concurrent failures are never under-counted.
func (r *AccountRepository) RecordLoginOutcome(ctx context.Context, email string, success bool, policy auth.LockoutPolicy, now time.Time) (*auth.Account, error) {
	var (
		sql  string
		args []any
	)
	if success {
		sql = `
			UPDATE accounts
			SET failed_logins = 0, lockout_until = NULL, last_login_at = $2, updated_at = $2
			WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL
			RETURNING ` + accountColumns
		args = []any{email, now}
	} else {
		// The lockout is stamped when the post-increment count reaches the threshold.
		lockoutUntil := policy.LockoutTime(policy.Threshold, now)
		sql = `
			UPDATE accounts
			SET failed_logins = failed_logins + 1,
			    lockout_until = CASE WHEN failed_logins + 1 >= $2 THEN $3 ELSE lockout_until END,
			    updated_at = $4
			WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL
			RETURNING ` + accountColumns
		args = []any{email, thresholdOf(policy), lockoutUntil, now}
	}

	var account *auth.Account
	err := r.db.Execute(ctx, "record login outcome", func(ctx context.Context, q store.Querier) error {
		var err error
		account, err = scanAccount(q.QueryRow(ctx, sql, args...))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "record login outcome").
			With("success", success).
			Wrap(err)
	}
	return account, nil
}

// ClearExpiredLockout resets an account whose lockout has elapsed.
func (r *AccountRepository) ClearExpiredLockout(ctx context.Context, id ulid.ULID, now time.Time) (bool, error) {
	var affected int64
	err := r.db.Execute(ctx, "clear expired lockout", func(ctx context.Context, q store.Querier) error {
		tag, err := q.Exec(ctx, `
			UPDATE accounts
			SET failed_logins = 0, lockout_until = NULL, updated_at = $2
			WHERE id = $1 AND deleted_at IS NULL
			  AND lockout_until IS NOT NULL AND lockout_until <= $2
		`, id.String(), now)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return false, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "clear expired lockout").
			With("id", id.String()).
			Wrap(err)
	}
	return affected > 0, nil
}

// UpdatePassword replaces the password hash of a live account.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) error {
	return r.updateOne(ctx, "update password", id, `
		UPDATE accounts SET password_hash = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`, passwordHash, now)
}

// SoftDelete marks an account deleted. Lookups stop returning it.
func (r *AccountRepository) SoftDelete(ctx context.Context, id ulid.ULID, now time.Time) error {
	return r.updateOne(ctx, "soft delete account", id, `
		UPDATE accounts SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, now)
}

func (r *AccountRepository) updateOne(ctx context.Context, op string, id ulid.ULID, sql string, args ...any) error {
	var affected int64
	err := r.db.Execute(ctx, op, func(ctx context.Context, q store.Querier) error {
		tag, err := q.Exec(ctx, sql, append([]any{id.String()}, args...)...)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", op).
			With("id", id.String()).
			Wrap(err)
	}
	if affected == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func thresholdOf(p auth.LockoutPolicy) int {
	if p.Threshold <= 0 {
		return auth.DefaultLockoutThreshold
	}
	return p.Threshold
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a     auth.Account
		idStr string
	)
	err := row.Scan(
		&idStr,
		&a.Username,
		&a.Email,
		&a.PasswordHash,
		&a.EmailVerified,
		&a.FailedLogins,
		&a.LockoutUntil,
		&a.LastLoginAt,
		&a.DeletedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers distinguish pgx.ErrNoRows
	}

	a.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").With("id", idStr).Wrap(err)
	}
	return &a, nil
}
