// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Refresh secret configuration.
const (
	RefreshSecretBytes = 32 // 256 bits, 64 hex chars
	DefaultRefreshTTL  = 7 * 24 * time.Hour
)

// RefreshToken is the stored half of a refresh secret. Only the keyed hash
// of the secret is persisted.
type RefreshToken struct {
	ID         ulid.ULID
	AccountID  ulid.ULID
	TokenHash  string
	UserAgent  string
	IPAddress  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	ReplacedBy *ulid.ULID
}

// NewRefreshToken creates a validated RefreshToken.
func NewRefreshToken(accountID ulid.ULID, tokenHash string, client ClientContext, issuedAt, expiresAt time.Time) (*RefreshToken, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("TOKEN_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("TOKEN_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(issuedAt) {
		return nil, oops.Code("TOKEN_INVALID_EXPIRY").Errorf("expiry must be after issue time")
	}
	return &RefreshToken{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: tokenHash,
		UserAgent: client.UserAgent,
		IPAddress: client.IPAddress,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// IsRevoked reports whether the token has been revoked.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsActiveAt reports whether the token can still be exchanged at now.
func (t *RefreshToken) IsActiveAt(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// ClientContext describes the client presenting a credential.
type ClientContext struct {
	UserAgent string
	IPAddress string
}

// generateRefreshSecret returns a random hex-encoded secret.
func generateRefreshSecret() (string, error) {
	b := make([]byte, RefreshSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", RefreshSecretBytes).
			Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// hashRefreshSecret computes the stored form of a secret: hex HMAC-SHA256
// under the refresh hash key.
func hashRefreshSecret(key []byte, secret string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}

// RefreshTokenRepository manages refresh token persistence.
type RefreshTokenRepository interface {
	// Create stores a new refresh token.
	Create(ctx context.Context, token *RefreshToken) error

	// ConsumeActive revokes the active token with the given hash, links it
	// to successor, and returns it. Consuming and checking happen in one
	// statement, so among concurrent callers only one succeeds. Others,
	// and callers presenting a revoked, expired or unknown hash, get ErrNotFound.
	ConsumeActive(ctx context.Context, tokenHash string, successor ulid.ULID, now time.Time) (*RefreshToken, error)

	// Revoke revokes the token with the given hash if it is still unrevoked.
	// Reports whether a row changed.
	Revoke(ctx context.Context, tokenHash string, now time.Time) (bool, error)

	// RevokeForAccount is Revoke restricted to tokens owned by accountID.
	RevokeForAccount(ctx context.Context, accountID ulid.ULID, tokenHash string, now time.Time) (bool, error)

	// RevokeAll revokes every unrevoked token for the account and returns
	// the count.
	RevokeAll(ctx context.Context, accountID ulid.ULID, now time.Time) (int64, error)

	// DeleteStale removes tokens that expired or were revoked before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}
