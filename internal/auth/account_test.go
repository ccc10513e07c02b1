// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/pkg/errutil"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"valid simple", "alice", false},
		{"valid with digits and underscore", "Bob_42", false},
		{"minimum length", "abc", false},
		{"maximum length", "a" + strings.Repeat("b", MaxUsernameLength-1), false},
		{"empty", "", true},
		{"too short", "ab", true},
		{"too long", "a" + strings.Repeat("b", MaxUsernameLength), true},
		{"starts with digit", "1alice", true},
		{"starts with underscore", "_alice", true},
		{"contains space", "ali ce", true},
		{"contains dash", "ali-ce", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "AUTH_INVALID_USERNAME")
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"valid", "alice@x.com", false},
		{"valid subaddress", "alice+tag@example.org", false},
		{"empty", "", true},
		{"missing at", "alice.x.com", true},
		{"display name", "Alice <alice@x.com>", true},
		{"too long", strings.Repeat("a", MaxEmailLength) + "@x.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "AUTH_INVALID_EMAIL")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@x.com", NormalizeEmail("  Alice@X.com \t"))
}

func TestNewAccount(t *testing.T) {
	t.Run("normalizes email", func(t *testing.T) {
		a, err := NewAccount("alice", " Alice@X.COM ", "$2a$04$hash")
		require.NoError(t, err)
		assert.Equal(t, "alice@x.com", a.Email)
		assert.False(t, a.ID.IsZero())
		assert.False(t, a.CreatedAt.IsZero())
		assert.Zero(t, a.FailedLogins)
		assert.Nil(t, a.LockoutUntil)
	})

	t.Run("rejects invalid username", func(t *testing.T) {
		_, err := NewAccount("1x", "alice@x.com", "hash")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("rejects empty hash", func(t *testing.T) {
		_, err := NewAccount("alice", "alice@x.com", "")
		errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_HASH")
	})
}

func TestAccount_View(t *testing.T) {
	a, err := NewAccount("alice", "alice@x.com", "$2a$04$secret-hash")
	require.NoError(t, err)
	a.FailedLogins = 3
	a.EmailVerified = true

	view := a.View()

	assert.Equal(t, AccountView{
		ID:            a.ID.String(),
		Username:      "alice",
		Email:         "alice@x.com",
		EmailVerified: true,
	}, view)
}
