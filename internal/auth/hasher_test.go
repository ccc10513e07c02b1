// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/authcore/pkg/errutil"
)

func TestBcryptHasher_HashAndVerify(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("Str0ng!Pw")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$"))
	assert.NotContains(t, hash, "Str0ng!Pw")

	ok, err := h.Verify("Str0ng!Pw", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptHasher_SaltsEachHash(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	first, err := h.Hash("Str0ng!Pw")
	require.NoError(t, err)
	second, err := h.Hash("Str0ng!Pw")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestBcryptHasher_EmptyPassword(t *testing.T) {
	_, err := NewBcryptHasher(bcrypt.MinCost).Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestBcryptHasher_TooLong(t *testing.T) {
	_, err := NewBcryptHasher(bcrypt.MinCost).Hash(strings.Repeat("a", MaxPasswordBytes+1))
	errutil.AssertErrorCode(t, err, "AUTH_WEAK_PASSWORD")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBcryptHasher_InvalidHash(t *testing.T) {
	ok, err := NewBcryptHasher(bcrypt.MinCost).Verify("password", "not-a-bcrypt-hash")
	assert.False(t, ok)
	errutil.AssertErrorCode(t, err, "AUTH_INVALID_HASH")
}

func TestBcryptHasher_NeedsUpgrade(t *testing.T) {
	low := NewBcryptHasher(bcrypt.MinCost)
	high := NewBcryptHasher(bcrypt.MinCost + 1)

	hash, err := low.Hash("Str0ng!Pw")
	require.NoError(t, err)

	assert.False(t, low.NeedsUpgrade(hash))
	assert.True(t, high.NeedsUpgrade(hash))
	assert.True(t, low.NeedsUpgrade("garbage"))
}

func TestNewBcryptHasher_OutOfRangeCost(t *testing.T) {
	assert.Equal(t, DefaultBcryptCost, NewBcryptHasher(0).Cost())
	assert.Equal(t, DefaultBcryptCost, NewBcryptHasher(bcrypt.MaxCost+1).Cost())
	assert.Equal(t, 10, NewBcryptHasher(10).Cost())
}
