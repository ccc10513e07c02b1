// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy describes how many times a unit of work is retried and how
// long to wait between attempts. Delays grow exponentially from BaseDelay
// and never exceed MaxDelay.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy is used for single statements: 3 retries, 5s ceiling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// DefaultTxRetryPolicy is used for whole transactions: 2 retries, 2s ceiling.
func DefaultTxRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  50 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// NoRetry runs the work once.
func NoRetry() RetryPolicy {
	return RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	ceiling := p.MaxDelay
	if ceiling < base {
		ceiling = base
	}
	b := retry.NewExponential(base)
	b = retry.WithCappedDuration(ceiling, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}
