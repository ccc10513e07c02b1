// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MaxEmailLength    = 254
)

// usernameRegex matches usernames that start with a letter and contain
// only letters, numbers, and underscores.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account is a credentialed user account.
type Account struct {
	ID            ulid.ULID
	Username      string
	Email         string // normalized, see NormalizeEmail
	PasswordHash  string
	EmailVerified bool
	FailedLogins  int
	LockoutUntil  *time.Time
	LastLoginAt   *time.Time
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccountView is the sanitized account shape returned to callers.
type AccountView struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// NewAccount creates a validated Account. The email is normalized.
func NewAccount(username, email, passwordHash string) (*Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &Account{
		ID:           ulid.Make(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// View returns the sanitized representation of the account.
func (a *Account) View() AccountView {
	return AccountView{
		ID:            a.ID.String(),
		Username:      a.Username,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
	}
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateUsername validates a username: MinUsernameLength to
// MaxUsernameLength characters, starting with a letter, then letters,
// numbers and underscores.
func ValidateUsername(username string) error {
	if username == "" {
		return validationError("AUTH_INVALID_USERNAME", "username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return validationError("AUTH_INVALID_USERNAME", "username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return validationError("AUTH_INVALID_USERNAME", "username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return validationError("AUTH_INVALID_USERNAME",
			"username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// ValidateEmail checks that email is a bare, already-normalized address.
func ValidateEmail(email string) error {
	if email == "" {
		return validationError("AUTH_INVALID_EMAIL", "email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return validationError("AUTH_INVALID_EMAIL", "email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return validationError("AUTH_INVALID_EMAIL", "email address is malformed")
	}
	return nil
}

// AccountRepository manages account persistence. Lookups exclude soft-deleted
// accounts and return ErrNotFound when nothing matches.
type AccountRepository interface {
	// Create stores a new account. Returns ErrDuplicate when the username or
	// email (case-insensitive) is taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by normalized email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// RecordLoginOutcome applies a login attempt relative to the stored row.
	// A failure increments the counter and sets the lockout when it reaches
	// policy.Threshold; a success resets both and stamps the last login.
	RecordLoginOutcome(ctx context.Context, email string, success bool, policy LockoutPolicy, now time.Time) (*Account, error)

	// ClearExpiredLockout resets the counter and lockout when the lockout
	// has elapsed by now. Reports whether a row changed.
	ClearExpiredLockout(ctx context.Context, id ulid.ULID, now time.Time) (bool, error)

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, now time.Time) error

	// SoftDelete marks an account deleted.
	SoftDelete(ctx context.Context, id ulid.ULID, now time.Time) error
}
