// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/store"
)

// Sentinel errors. Returned errors wrap exactly one of these.
var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrDuplicate      = errors.New("account already exists")
	ErrAuthentication = errors.New("invalid email or password")
	ErrAccountLocked  = errors.New("account is temporarily locked")
	ErrRateLimited    = errors.New("too many attempts")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenWrongType = errors.New("wrong token type")
	ErrTransientData  = errors.New("temporary data failure")
	ErrFatalData      = errors.New("data failure")
)

// Kind classifies an error for callers that map outcomes.
type Kind int

// Error kinds.
const (
	KindNone Kind = iota
	KindValidation
	KindDuplicate
	KindAuthentication
	KindLocked
	KindRateLimited
	KindTokenInvalid
	KindTokenExpired
	KindTokenWrongType
	KindTransientData
	KindFatalData
)

var kindNames = map[Kind]string{
	KindNone:           "ok",
	KindValidation:     "validation",
	KindDuplicate:      "duplicate",
	KindAuthentication: "authentication",
	KindLocked:         "locked",
	KindRateLimited:    "rate_limited",
	KindTokenInvalid:   "token_invalid",
	KindTokenExpired:   "token_expired",
	KindTokenWrongType: "token_wrong_type",
	KindTransientData:  "transient_data",
	KindFatalData:      "fatal_data",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindValidation, ErrValidation},
	{KindDuplicate, ErrDuplicate},
	{KindAuthentication, ErrAuthentication},
	{KindLocked, ErrAccountLocked},
	{KindRateLimited, ErrRateLimited},
	{KindTokenExpired, ErrTokenExpired},
	{KindTokenWrongType, ErrTokenWrongType},
	{KindTokenInvalid, ErrTokenInvalid},
	{KindTransientData, ErrTransientData},
	{KindFatalData, ErrFatalData},
}

// KindOf classifies err. Errors that wrap no sentinel are fatal data
// errors, as are errors whose retries were exhausted in the store.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, store.ErrRetriesExhausted) {
		return KindFatalData
	}
	for _, ks := range kindSentinels {
		if errors.Is(err, ks.err) {
			return ks.kind
		}
	}
	return KindFatalData
}

// RetryAfter returns how long the caller should wait before retrying a
// rate-limited or locked attempt.
func RetryAfter(err error) (time.Duration, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0, false
	}
	d, ok := oopsErr.Context()["retry_after"].(time.Duration)
	return d, ok && d > 0
}

func invalidCredentials() error {
	return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrAuthentication)
}

func rateLimited(limiter string, retryAfter time.Duration) error {
	return oops.Code("AUTH_RATE_LIMITED").
		With("limiter", limiter).
		With("retry_after", retryAfter).
		Wrap(ErrRateLimited)
}

func accountLocked(until *time.Time, now time.Time) error {
	b := oops.Code("AUTH_ACCOUNT_LOCKED")
	if until != nil && until.After(now) {
		b = b.With("locked_until", *until).With("retry_after", until.Sub(now))
	}
	return b.Wrap(ErrAccountLocked)
}

func validationError(code, msg string, args ...any) error {
	return oops.Code(code).Wrapf(ErrValidation, msg, args...)
}

// dataError wraps an infrastructure failure. Retries already happened in
// the store, so only faults cut short by the caller's context stay transient.
func dataError(op string, err error) error {
	sentinel := ErrFatalData
	if store.IsTransient(err) && !errors.Is(err, store.ErrRetriesExhausted) {
		sentinel = ErrTransientData
	}
	return oops.Code("AUTH_DATA_FAILED").
		With("operation", op).
		Wrap(fmt.Errorf("%w: %w", sentinel, err))
}

// passthrough returns err unchanged when it already carries a domain
// sentinel, and wraps it as a data error otherwise. A transient error that
// exhausted the transaction retries is rewrapped as fatal.
func passthrough(op string, err error) error {
	if k := KindOf(err); k != KindFatalData && k != KindTransientData {
		return err
	}
	if errors.Is(err, store.ErrRetriesExhausted) && !errors.Is(err, ErrFatalData) {
		return oops.Code("AUTH_DATA_FAILED").
			With("operation", op).
			Wrap(fmt.Errorf("%w: %w", ErrFatalData, err))
	}
	if errors.Is(err, ErrFatalData) || errors.Is(err, ErrTransientData) {
		return err
	}
	return dataError(op, err)
}
