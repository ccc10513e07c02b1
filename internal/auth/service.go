// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/pkg/errutil"
)

// dummyPassword is hashed once at construction. Logins for unknown emails
// verify against that hash so response time does not reveal existence.
const dummyPassword = "timing-equalizer-not-a-credential"

// ServiceDeps are the collaborators of a Service.
type ServiceDeps struct {
	Accounts     AccountRepository
	Events       EventRepository
	Tokens       *TokenService
	Hasher       PasswordHasher
	Transactor   Transactor
	AuthLimiter  *RateLimiter // registration and password changes, every attempt counts
	LoginLimiter *RateLimiter // failed logins only
	Logger       *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLockoutPolicy overrides the default lockout policy.
func WithLockoutPolicy(p LockoutPolicy) ServiceOption {
	return func(s *Service) { s.lockout = p.withDefaults() }
}

// WithPasswordPolicy overrides the default password policy.
func WithPasswordPolicy(p PasswordPolicy) ServiceOption {
	return func(s *Service) { s.passwords = p }
}

// WithClock overrides time.Now.
func WithClock(c Clock) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetrics records operation outcomes.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// Service is the session façade: it composes the credential store, token
// service, lockout guard and rate limiters into the public operations.
type Service struct {
	accounts     AccountRepository
	events       EventRepository
	tokens       *TokenService
	hasher       PasswordHasher
	tx           Transactor
	authLimiter  *RateLimiter
	loginLimiter *RateLimiter
	logger       *slog.Logger

	lockout   LockoutPolicy
	passwords PasswordPolicy
	clock     Clock
	metrics   *Metrics
	dummyHash string
}

// NewService creates a Service. Every dependency except Logger is required.
func NewService(deps ServiceDeps, opts ...ServiceOption) (*Service, error) {
	if deps.Accounts == nil || deps.Events == nil || deps.Tokens == nil || deps.Hasher == nil ||
		deps.Transactor == nil || deps.AuthLimiter == nil || deps.LoginLimiter == nil {
		return nil, oops.Code("AUTH_CONFIG_INVALID").Errorf("auth service is missing a dependency")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	dummyHash, err := deps.Hasher.Hash(dummyPassword)
	if err != nil {
		return nil, oops.Code("AUTH_CONFIG_INVALID").With("operation", "hash dummy password").Wrap(err)
	}

	s := &Service{
		accounts:     deps.Accounts,
		events:       deps.Events,
		tokens:       deps.Tokens,
		hasher:       deps.Hasher,
		tx:           deps.Transactor,
		authLimiter:  deps.AuthLimiter,
		loginLimiter: deps.LoginLimiter,
		logger:       deps.Logger,
		lockout:      DefaultLockoutPolicy(),
		passwords:    DefaultPasswordPolicy(),
		clock:        utcNow,
		dummyHash:    dummyHash,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Session is the result of a successful register or login.
type Session struct {
	Account AccountView `json:"account"`
	Tokens  TokenPair   `json:"tokens"`
}

// RegisterInput holds registration fields.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Client   ClientContext
}

// Register creates an account and issues its first token pair in one
// transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (sess *Session, err error) {
	defer func() { s.metrics.observe("register", err) }()

	email := NormalizeEmail(in.Email)
	key := RateKey{IP: in.Client.IPAddress, Identity: email}
	if ok, retryAfter := s.authLimiter.Take(key); !ok {
		s.emit(ctx, EventRateLimited, nil, in.Client, map[string]any{"operation": "register"})
		return nil, rateLimited(s.authLimiter.Name(), retryAfter)
	}

	if err := ValidateUsername(in.Username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := s.passwords.Validate(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	account, err := NewAccount(in.Username, email, hash)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	account.CreatedAt, account.UpdatedAt = now, now

	var pair TokenPair
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.accounts.Create(ctx, account); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return err
			}
			return dataError("create account", err)
		}
		var err error
		pair, err = s.tokens.IssuePair(ctx, account.ID, in.Client)
		return err
	})
	if err != nil {
		return nil, passthrough("register", err)
	}

	s.emit(ctx, EventRegister, &account.ID, in.Client, nil)
	return &Session{Account: account.View(), Tokens: pair}, nil
}

// LoginInput holds login fields.
type LoginInput struct {
	Email    string
	Password string
	Client   ClientContext
}

// Login authenticates by email and password. Unknown emails and wrong
// passwords fail identically with ErrAuthentication. A locked account fails
// with ErrAccountLocked before its hash is touched.
func (s *Service) Login(ctx context.Context, in LoginInput) (sess *Session, err error) {
	defer func() { s.metrics.observe("login", err) }()

	email := NormalizeEmail(in.Email)
	key := RateKey{IP: in.Client.IPAddress, Identity: email}
	if ok, retryAfter := s.loginLimiter.Allow(key); !ok {
		s.emit(ctx, EventRateLimited, nil, in.Client, map[string]any{"operation": "login"})
		return nil, rateLimited(s.loginLimiter.Name(), retryAfter)
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, dataError("get account by email", err)
		}
		// Same hashing cost as a real mismatch.
		_, _ = s.hasher.Verify(in.Password, s.dummyHash)
		s.loginLimiter.Record(key)
		s.emit(ctx, EventLoginFailed, nil, in.Client, map[string]any{"reason": "unknown_account"})
		return nil, invalidCredentials()
	}

	now := s.clock()
	if LockoutExpired(account, now) {
		cleared, err := s.accounts.ClearExpiredLockout(ctx, account.ID, now)
		if err != nil {
			return nil, dataError("clear expired lockout", err)
		}
		if cleared {
			account.FailedLogins = 0
			account.LockoutUntil = nil
		}
	}

	if s.lockout.IsLocked(account, now) {
		s.emit(ctx, EventLoginLocked, &account.ID, in.Client, nil)
		return nil, accountLocked(account.LockoutUntil, now)
	}

	valid, verifyErr := s.hasher.Verify(in.Password, account.PasswordHash)
	if verifyErr != nil {
		errutil.LogError(ctx, s.logger, "stored password hash is unreadable", verifyErr, "account_id", account.ID.String())
	}

	if !valid {
		updated, err := s.accounts.RecordLoginOutcome(ctx, email, false, s.lockout, now)
		if err != nil {
			return nil, dataError("record login failure", err)
		}
		s.loginLimiter.Record(key)
		s.emit(ctx, EventLoginFailed, &account.ID, in.Client, map[string]any{"failed_logins": updated.FailedLogins})
		if s.lockout.IsLocked(updated, now) {
			detail := map[string]any{"failed_logins": updated.FailedLogins}
			if updated.LockoutUntil != nil {
				detail["locked_until"] = updated.LockoutUntil.Format(time.RFC3339)
			}
			s.emit(ctx, EventAccountLocked, &account.ID, in.Client, detail)
		}
		return nil, invalidCredentials()
	}

	updated, err := s.accounts.RecordLoginOutcome(ctx, email, true, s.lockout, now)
	if err != nil {
		return nil, dataError("record login success", err)
	}

	if s.hasher.NeedsUpgrade(updated.PasswordHash) {
		s.upgradeHash(ctx, updated, in.Password, now)
	}

	pair, err := s.tokens.IssuePair(ctx, updated.ID, in.Client)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, EventLoginSuccess, &updated.ID, in.Client, nil)
	return &Session{Account: updated.View(), Tokens: pair}, nil
}

// upgradeHash rehashes with the current cost. Failure does not fail the login.
func (s *Service) upgradeHash(ctx context.Context, account *Account, password string, now time.Time) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		errutil.LogWarn(ctx, s.logger, "password hash upgrade failed", err, "account_id", account.ID.String())
		return
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, newHash, now); err != nil {
		errutil.LogWarn(ctx, s.logger, "password hash upgrade failed", err, "account_id", account.ID.String())
		return
	}
	account.PasswordHash = newHash
}

// Refresh rotates a refresh secret into a new pair. Replayed, revoked,
// expired and unknown secrets fail with ErrTokenInvalid.
func (s *Service) Refresh(ctx context.Context, secret string, client ClientContext) (pair TokenPair, err error) {
	defer func() { s.metrics.observe("refresh", err) }()

	pair, accountID, err := s.tokens.Rotate(ctx, secret, client)
	if err != nil {
		if KindOf(err) == KindTokenInvalid {
			s.emit(ctx, EventTokenInvalid, nil, client, map[string]any{"operation": "refresh"})
		}
		return TokenPair{}, err
	}

	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return TokenPair{}, dataError("get account by id", err)
		}
		// Deleted account: drop the chain.
		if _, revokeErr := s.tokens.RevokeAll(ctx, accountID); revokeErr != nil {
			errutil.LogWarn(ctx, s.logger, "revoke tokens of deleted account failed", revokeErr, "account_id", accountID.String())
		}
		s.emit(ctx, EventTokenInvalid, &accountID, client, map[string]any{"operation": "refresh", "reason": "account_deleted"})
		return TokenPair{}, tokenInvalid("account no longer exists")
	}

	s.emit(ctx, EventTokenRefreshed, &accountID, client, nil)
	return pair, nil
}

// LogoutInput holds logout fields. With All set every refresh token of the
// account is revoked; otherwise only RefreshToken, when given.
type LogoutInput struct {
	AccessToken  string
	RefreshToken string
	All          bool
	Client       ClientContext
}

// Logout revokes refresh tokens of the access token's owner. Repeating a
// logout is not an error.
func (s *Service) Logout(ctx context.Context, in LogoutInput) (err error) {
	defer func() { s.metrics.observe("logout", err) }()

	accountID, err := s.authenticate(ctx, in.AccessToken, in.Client, "logout")
	if err != nil {
		return err
	}

	if in.All {
		n, err := s.tokens.RevokeAll(ctx, accountID)
		if err != nil {
			return err
		}
		s.emit(ctx, EventLogoutAll, &accountID, in.Client, map[string]any{"revoked": n})
		return nil
	}

	if err := s.tokens.RevokeForAccount(ctx, accountID, in.RefreshToken); err != nil {
		return err
	}
	s.emit(ctx, EventLogout, &accountID, in.Client, nil)
	return nil
}

// ChangePasswordInput holds password change fields.
type ChangePasswordInput struct {
	AccessToken     string
	CurrentPassword string
	NewPassword     string
	Client          ClientContext
}

// ChangePassword replaces the password after verifying the current one and
// revokes every refresh token of the account in the same transaction.
func (s *Service) ChangePassword(ctx context.Context, in ChangePasswordInput) (err error) {
	defer func() { s.metrics.observe("change_password", err) }()

	accountID, err := s.authenticate(ctx, in.AccessToken, in.Client, "change_password")
	if err != nil {
		return err
	}

	key := RateKey{IP: in.Client.IPAddress, Identity: accountID.String()}
	if ok, retryAfter := s.authLimiter.Take(key); !ok {
		s.emit(ctx, EventRateLimited, &accountID, in.Client, map[string]any{"operation": "change_password"})
		return rateLimited(s.authLimiter.Name(), retryAfter)
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return invalidCredentials()
		}
		return dataError("get account by id", err)
	}

	valid, verifyErr := s.hasher.Verify(in.CurrentPassword, account.PasswordHash)
	if verifyErr != nil {
		errutil.LogError(ctx, s.logger, "stored password hash is unreadable", verifyErr, "account_id", accountID.String())
	}
	if !valid {
		s.emit(ctx, EventPasswordChangeFailed, &accountID, in.Client, map[string]any{"reason": "wrong_password"})
		return invalidCredentials()
	}

	if err := s.passwords.Validate(in.NewPassword); err != nil {
		s.emit(ctx, EventPasswordChangeFailed, &accountID, in.Client, map[string]any{"reason": "policy"})
		return err
	}

	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}

	var revoked int64
	now := s.clock()
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.accounts.UpdatePassword(ctx, accountID, hash, now); err != nil {
			if errors.Is(err, ErrNotFound) {
				return invalidCredentials()
			}
			return dataError("update password", err)
		}
		var err error
		revoked, err = s.tokens.RevokeAll(ctx, accountID)
		return err
	})
	if err != nil {
		return passthrough("change password", err)
	}

	s.emit(ctx, EventPasswordChanged, &accountID, in.Client, map[string]any{"revoked": revoked})
	return nil
}

// DeletedAccount reports the result of DeleteAccount.
type DeletedAccount struct {
	ID            ulid.ULID
	RevokedTokens int64
}

// DeleteAccount soft-deletes the account registered under email and
// revokes all of its refresh tokens in one transaction. It is an operator
// action and bypasses the rate limiters. Unknown emails fail with
// ErrNotFound.
func (s *Service) DeleteAccount(ctx context.Context, email string, client ClientContext) (res DeletedAccount, err error) {
	defer func() { s.metrics.observe("delete_account", err) }()

	account, err := s.accounts.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return DeletedAccount{}, oops.Code("AUTH_ACCOUNT_NOT_FOUND").Wrap(ErrNotFound)
		}
		return DeletedAccount{}, dataError("get account by email", err)
	}

	now := s.clock()
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.accounts.SoftDelete(ctx, account.ID, now); err != nil {
			if errors.Is(err, ErrNotFound) {
				return err
			}
			return dataError("soft delete account", err)
		}
		var err error
		res.RevokedTokens, err = s.tokens.RevokeAll(ctx, account.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return DeletedAccount{}, oops.Code("AUTH_ACCOUNT_NOT_FOUND").Wrap(ErrNotFound)
		}
		return DeletedAccount{}, passthrough("delete account", err)
	}

	res.ID = account.ID
	s.emit(ctx, EventAccountDeleted, &account.ID, client, map[string]any{"revoked": res.RevokedTokens})
	return res, nil
}

// authenticate verifies an access token, auditing rejections.
func (s *Service) authenticate(ctx context.Context, accessToken string, client ClientContext, op string) (ulid.ULID, error) {
	accountID, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		s.emit(ctx, EventTokenInvalid, nil, client, map[string]any{"operation": op, "kind": KindOf(err).String()})
		return ulid.ULID{}, err
	}
	return accountID, nil
}

// emit appends a security event. Failures are logged and never change the
// caller's outcome.
func (s *Service) emit(ctx context.Context, kind EventKind, accountID *ulid.ULID, client ClientContext, detail map[string]any) {
	event := NewSecurityEvent(kind, accountID, client.IPAddress, detail, s.clock())
	if err := s.events.Append(context.WithoutCancel(ctx), event); err != nil {
		errutil.LogWarn(ctx, s.logger, "security event not recorded", err, "event_kind", string(kind))
	}
}
