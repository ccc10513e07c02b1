// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"time"
)

// Lockout defaults.
const (
	// DefaultLockoutThreshold is the number of consecutive failures that locks an account.
	DefaultLockoutThreshold = 5

	// DefaultLockoutDuration is how long an account stays locked.
	DefaultLockoutDuration = 15 * time.Minute
)

// LockoutPolicy decides when repeated login failures lock an account.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns the default lockout policy.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: DefaultLockoutThreshold, Duration: DefaultLockoutDuration}
}

func (p LockoutPolicy) withDefaults() LockoutPolicy {
	if p.Threshold <= 0 {
		p.Threshold = DefaultLockoutThreshold
	}
	if p.Duration <= 0 {
		p.Duration = DefaultLockoutDuration
	}
	return p
}

// IsLocked reports whether the account is locked at now. An account is
// locked while its lockout timestamp is in the future, or whenever its
// failure counter has reached the threshold, whether or not a timestamp
// was ever set.
func (p LockoutPolicy) IsLocked(account *Account, now time.Time) bool {
	if account == nil {
		return false
	}
	p = p.withDefaults()
	if account.LockoutUntil != nil && now.Before(*account.LockoutUntil) {
		return true
	}
	return account.FailedLogins >= p.Threshold
}

// LockoutExpired reports whether the account carries a lockout timestamp
// that has elapsed by now.
func LockoutExpired(account *Account, now time.Time) bool {
	return account != nil && account.LockoutUntil != nil && !now.Before(*account.LockoutUntil)
}

// LockoutTime returns the lockout timestamp for a post-increment failure
// count, or nil when the count is below the threshold.
func (p LockoutPolicy) LockoutTime(failures int, now time.Time) *time.Time {
	p = p.withDefaults()
	if failures < p.Threshold {
		return nil
	}
	until := now.Add(p.Duration)
	return &until
}
