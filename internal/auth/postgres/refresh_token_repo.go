// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

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

const refreshTokenColumns = `id, account_id, token_hash, user_agent, ip_address,
	issued_at, expires_at, revoked_at, replaced_by`

// RefreshTokenRepository implements auth.RefreshTokenRepository using PostgreSQL.
type RefreshTokenRepository struct {
	db Executor
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(db Executor) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a new refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, t *auth.RefreshToken) error {
	err := r.db.Execute(ctx, "insert refresh token", func(ctx context.Context, q store.Querier) error {
		_, err := q.Exec(ctx, `
			INSERT INTO refresh_tokens (id, account_id, token_hash, user_agent, ip_address, issued_at, expires_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			t.ID.String(),
			t.AccountID.String(),
			t.TokenHash,
			t.UserAgent,
			t.IPAddress,
			t.IssuedAt,
			t.ExpiresAt,
		)
		return err
	})
	if err != nil {
		return oops.Code("TOKEN_CREATE_FAILED").
			With("operation", "insert refresh token").
			With("account_id", t.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// ConsumeActive revokes and returns the active token with tokenHash in a
// single statement. The row lock taken by the UPDATE makes a concurrent
// consumer re-evaluate the predicate after the first commits, so it
// matches nothing.
func (r *RefreshTokenRepository) ConsumeActive(ctx context.Context, tokenHash string, successor ulid.ULID, now time.Time) (*auth.RefreshToken, error) {
	var token *auth.RefreshToken
	err := r.db.Execute(ctx, "consume refresh token", func(ctx context.Context, q store.Querier) error {
		var err error
		token, err = scanRefreshToken(q.QueryRow(ctx, `
			UPDATE refresh_tokens
			SET revoked_at = $2, replaced_by = $3
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
			RETURNING `+refreshTokenColumns,
			tokenHash, now, successor.String()))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("TOKEN_CONSUME_FAILED").
			With("operation", "consume refresh token").
			Wrap(err)
	}
	return token, nil
}

// Revoke revokes the token with tokenHash if it is still unrevoked.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	n, err := r.exec(ctx, "revoke refresh token", `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, tokenHash, now)
	return n > 0, err
}

// RevokeForAccount revokes the token only if accountID owns it.
func (r *RefreshTokenRepository) RevokeForAccount(ctx context.Context, accountID ulid.ULID, tokenHash string, now time.Time) (bool, error) {
	n, err := r.exec(ctx, "revoke account refresh token", `
		UPDATE refresh_tokens SET revoked_at = $3
		WHERE token_hash = $1 AND account_id = $2 AND revoked_at IS NULL
	`, tokenHash, accountID.String(), now)
	return n > 0, err
}

// RevokeAll revokes every unrevoked token of an account.
func (r *RefreshTokenRepository) RevokeAll(ctx context.Context, accountID ulid.ULID, now time.Time) (int64, error) {
	return r.exec(ctx, "revoke all refresh tokens", `
		UPDATE refresh_tokens SET revoked_at = $2
		WHERE account_id = $1 AND revoked_at IS NULL
	`, accountID.String(), now)
}

// DeleteStale removes tokens expired or revoked before cutoff.
func (r *RefreshTokenRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.exec(ctx, "delete stale refresh tokens", `
		DELETE FROM refresh_tokens
		WHERE expires_at < $1 OR (revoked_at IS NOT NULL AND revoked_at < $1)
	`, cutoff)
}

func (r *RefreshTokenRepository) exec(ctx context.Context, op, sql string, args ...any) (int64, error) {
	var affected int64
	err := r.db.Execute(ctx, op, func(ctx context.Context, q store.Querier) error {
		tag, err := q.Exec(ctx, sql, args...)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		return 0, oops.Code("TOKEN_UPDATE_FAILED").
			With("operation", op).
			Wrap(err)
	}
	return affected, nil
}

func scanRefreshToken(row pgx.Row) (*auth.RefreshToken, error) {
	var (
		t           auth.RefreshToken
		idStr       string
		accountStr  string
		replacedStr *string
	)
	err := row.Scan(
		&idStr,
		&accountStr,
		&t.TokenHash,
		&t.UserAgent,
		&t.IPAddress,
		&t.IssuedAt,
		&t.ExpiresAt,
		&t.RevokedAt,
		&replacedStr,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers distinguish pgx.ErrNoRows
	}

	if t.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.Code("TOKEN_SCAN_FAILED").With("id", idStr).Wrap(err)
	}
	if t.AccountID, err = ulid.Parse(accountStr); err != nil {
		return nil, oops.Code("TOKEN_SCAN_FAILED").With("account_id", accountStr).Wrap(err)
	}
	if replacedStr != nil {
		replaced, err := ulid.Parse(*replacedStr)
		if err != nil {
			return nil, oops.Code("TOKEN_SCAN_FAILED").With("replaced_by", *replacedStr).Wrap(err)
		}
		t.ReplacedBy = &replaced
	}
	return &t, nil
}
