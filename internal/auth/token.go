// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"crypto/hmac"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token defaults.
const (
	DefaultAccessTTL = 15 * time.Minute

	// MinSecretBytes is the minimum length of signing and hashing keys.
	MinSecretBytes = 32

	// TokenTypeAccess is the declared type of access tokens.
	TokenTypeAccess = "access"

	// TokenTypeRefresh is the declared type of refresh credentials. Refresh
	// secrets are opaque, so tokens carrying this type are never accepted
	// where an access token is expected.
	TokenTypeRefresh = "refresh"

	bearerTokenType = "Bearer"
)

// Transactor runs fn inside one transaction carried by ctx.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	// AccessSecret signs access tokens (HS256). At least MinSecretBytes.
	AccessSecret []byte

	// RefreshHashKey keys the stored hash of refresh secrets. At least
	// MinSecretBytes and distinct from AccessSecret.
	RefreshHashKey []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Clock      Clock
}

// Validate checks key material.
func (c TokenConfig) Validate() error {
	if len(c.AccessSecret) < MinSecretBytes {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("access token secret must be at least %d bytes", MinSecretBytes)
	}
	if len(c.RefreshHashKey) < MinSecretBytes {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("refresh hash key must be at least %d bytes", MinSecretBytes)
	}
	if hmac.Equal(c.AccessSecret, c.RefreshHashKey) {
		return oops.Code("TOKEN_CONFIG_INVALID").Errorf("access token secret must differ from refresh hash key")
	}
	return nil
}

// TokenPair is the credential bundle handed to a client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type accessClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenService issues, rotates, revokes and verifies credentials.
type TokenService struct {
	cfg    TokenConfig
	tokens RefreshTokenRepository
	tx     Transactor
}

// NewTokenService creates a TokenService after validating cfg.
func NewTokenService(cfg TokenConfig, tokens RefreshTokenRepository, tx Transactor) (*TokenService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tokens == nil || tx == nil {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("refresh token repository and transactor are required")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = utcNow
	}
	return &TokenService{cfg: cfg, tokens: tokens, tx: tx}, nil
}

// IssuePair mints an access token and a refresh secret for accountID and
// persists the hash of the secret. The plaintext secret is only returned here.
func (s *TokenService) IssuePair(ctx context.Context, accountID ulid.ULID, client ClientContext) (TokenPair, error) {
	now := s.cfg.Clock()
	secret, record, err := s.newRefresh(ulid.Make(), accountID, client, now)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return TokenPair{}, dataError("create refresh token", err)
	}
	return s.pair(accountID, secret, record.ExpiresAt, now)
}

// Rotate exchanges a refresh secret for a new pair. The presented token is
// revoked and its successor stored in one transaction; a consumed, revoked,
// expired or unknown secret fails with ErrTokenInvalid. It also returns
// the owning account.
func (s *TokenService) Rotate(ctx context.Context, secret string, client ClientContext) (TokenPair, ulid.ULID, error) {
	if secret == "" {
		return TokenPair{}, ulid.ULID{}, tokenInvalid("empty refresh token")
	}
	hash := hashRefreshSecret(s.cfg.RefreshHashKey, secret)

	var (
		accountID ulid.ULID
		newSecret string
		expiresAt time.Time
		now       time.Time
	)
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		now = s.cfg.Clock()
		successorID := ulid.Make()

		consumed, err := s.tokens.ConsumeActive(ctx, hash, successorID, now)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return tokenInvalid("refresh token is not active")
			}
			return dataError("consume refresh token", err)
		}

		var record *RefreshToken
		newSecret, record, err = s.newRefresh(successorID, consumed.AccountID, client, now)
		if err != nil {
			return err
		}
		if err := s.tokens.Create(ctx, record); err != nil {
			return dataError("create refresh token", err)
		}
		accountID = consumed.AccountID
		expiresAt = record.ExpiresAt
		return nil
	})
	if err != nil {
		return TokenPair{}, ulid.ULID{}, passthrough("rotate refresh token", err)
	}

	pair, err := s.pair(accountID, newSecret, expiresAt, now)
	if err != nil {
		return TokenPair{}, ulid.ULID{}, err
	}
	return pair, accountID, nil
}

// Revoke revokes the token for secret. Unknown or already revoked secrets
// are not an error.
func (s *TokenService) Revoke(ctx context.Context, secret string) error {
	if secret == "" {
		return nil
	}
	if _, err := s.tokens.Revoke(ctx, hashRefreshSecret(s.cfg.RefreshHashKey, secret), s.cfg.Clock()); err != nil {
		return dataError("revoke refresh token", err)
	}
	return nil
}

// RevokeForAccount is Revoke limited to tokens owned by accountID.
func (s *TokenService) RevokeForAccount(ctx context.Context, accountID ulid.ULID, secret string) error {
	if secret == "" {
		return nil
	}
	hash := hashRefreshSecret(s.cfg.RefreshHashKey, secret)
	if _, err := s.tokens.RevokeForAccount(ctx, accountID, hash, s.cfg.Clock()); err != nil {
		return dataError("revoke refresh token", err)
	}
	return nil
}

// RevokeAll revokes every active refresh token of accountID.
func (s *TokenService) RevokeAll(ctx context.Context, accountID ulid.ULID) (int64, error) {
	n, err := s.tokens.RevokeAll(ctx, accountID, s.cfg.Clock())
	if err != nil {
		return 0, dataError("revoke all refresh tokens", err)
	}
	return n, nil
}

// VerifyAccess validates an access token and returns its subject.
func (s *TokenService) VerifyAccess(token string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, tokenInvalid("empty access token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.cfg.Clock),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	var claims accessClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.AccessSecret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ulid.ULID{}, oops.Code("TOKEN_EXPIRED").Wrap(ErrTokenExpired)
		}
		return ulid.ULID{}, oops.Code("TOKEN_INVALID").With("reason", jwtReason(err)).Wrap(ErrTokenInvalid)
	}
	if claims.Type != TokenTypeAccess {
		return ulid.ULID{}, oops.Code("TOKEN_WRONG_TYPE").With("type", claims.Type).Wrap(ErrTokenWrongType)
	}

	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		return ulid.ULID{}, tokenInvalid("malformed subject")
	}
	return id, nil
}

func (s *TokenService) newRefresh(id, accountID ulid.ULID, client ClientContext, now time.Time) (string, *RefreshToken, error) {
	secret, err := generateRefreshSecret()
	if err != nil {
		return "", nil, err
	}
	record, err := NewRefreshToken(accountID, hashRefreshSecret(s.cfg.RefreshHashKey, secret), client, now, now.Add(s.cfg.RefreshTTL))
	if err != nil {
		return "", nil, err
	}
	record.ID = id
	return secret, record, nil
}

func (s *TokenService) pair(accountID ulid.ULID, refreshSecret string, refreshExpiresAt, now time.Time) (TokenPair, error) {
	accessExpiresAt := now.Add(s.cfg.AccessTTL)
	claims := accessClaims{
		Type: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   accountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExpiresAt),
			ID:        ulid.Make().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.AccessSecret)
	if err != nil {
		return TokenPair{}, oops.Code("TOKEN_SIGN_FAILED").Wrap(err)
	}
	return TokenPair{
		AccessToken:      signed,
		RefreshToken:     refreshSecret,
		TokenType:        bearerTokenType,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

func tokenInvalid(reason string) error {
	return oops.Code("TOKEN_INVALID").With("reason", reason).Wrap(ErrTokenInvalid)
}

func jwtReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "issuer"
	default:
		return "claims"
	}
}
