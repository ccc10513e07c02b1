// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockoutPolicy_IsLocked(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)
	policy := DefaultLockoutPolicy()

	tests := []struct {
		name     string
		account  *Account
		expected bool
	}{
		{"nil account", nil, false},
		{"fresh account", &Account{}, false},
		{"below threshold", &Account{FailedLogins: 4}, false},
		{"lockout in future", &Account{FailedLogins: 1, LockoutUntil: &future}, true},
		{"lockout elapsed below threshold", &Account{FailedLogins: 2, LockoutUntil: &past}, false},
		{"lockout ends exactly now", &Account{LockoutUntil: &now}, false},
		{"counter at threshold without timestamp", &Account{FailedLogins: 5}, true},
		{"counter at threshold with elapsed timestamp", &Account{FailedLogins: 5, LockoutUntil: &past}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, policy.IsLocked(tt.account, now))
		})
	}
}

func TestLockoutPolicy_ZeroValueUsesDefaults(t *testing.T) {
	now := time.Now()
	var policy LockoutPolicy

	assert.False(t, policy.IsLocked(&Account{FailedLogins: DefaultLockoutThreshold - 1}, now))
	assert.True(t, policy.IsLocked(&Account{FailedLogins: DefaultLockoutThreshold}, now))

	until := policy.LockoutTime(DefaultLockoutThreshold, now)
	if assert.NotNil(t, until) {
		assert.Equal(t, now.Add(DefaultLockoutDuration), *until)
	}
}

func TestLockoutPolicy_LockoutTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := LockoutPolicy{Threshold: 3, Duration: 10 * time.Minute}

	assert.Nil(t, policy.LockoutTime(2, now))

	until := policy.LockoutTime(3, now)
	if assert.NotNil(t, until) {
		assert.Equal(t, now.Add(10*time.Minute), *until)
	}
	assert.NotNil(t, policy.LockoutTime(7, now))
}

func TestLockoutExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Second)

	assert.False(t, LockoutExpired(nil, now))
	assert.False(t, LockoutExpired(&Account{FailedLogins: 5}, now))
	assert.False(t, LockoutExpired(&Account{LockoutUntil: &future}, now))
	assert.True(t, LockoutExpired(&Account{LockoutUntil: &past}, now))
	assert.True(t, LockoutExpired(&Account{LockoutUntil: &now}, now))
}
