// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/store"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"validation", validationError("X", "bad"), KindValidation},
		{"duplicate", oops.Code("ACCOUNT_DUPLICATE").Wrap(ErrDuplicate), KindDuplicate},
		{"credentials", invalidCredentials(), KindAuthentication},
		{"locked", accountLocked(nil, time.Now()), KindLocked},
		{"rate limited", rateLimited("login", time.Second), KindRateLimited},
		{"token invalid", tokenInvalid("x"), KindTokenInvalid},
		{"token expired", oops.Wrap(ErrTokenExpired), KindTokenExpired},
		{"wrong type", oops.Wrap(ErrTokenWrongType), KindTokenWrongType},
		{"unclassified", errors.New("boom"), KindFatalData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "rate_limited", KindRateLimited.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := now.Add(90 * time.Second)

	d, ok := RetryAfter(accountLocked(&until, now))
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	d, ok = RetryAfter(rateLimited("auth", 5*time.Second))
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	_, ok = RetryAfter(accountLocked(nil, now))
	assert.False(t, ok, "counter-only lock has no deadline")

	_, ok = RetryAfter(errors.New("plain"))
	assert.False(t, ok)
}

func TestDataError(t *testing.T) {
	t.Run("exhausted retries are fatal", func(t *testing.T) {
		cause := fmt.Errorf("%w: %w", store.ErrRetriesExhausted, &pgconn.PgError{Code: pgerrcode.SerializationFailure})
		err := dataError("op", cause)
		assert.Equal(t, KindFatalData, KindOf(err))
	})

	t.Run("cancelled transient fault stays transient", func(t *testing.T) {
		err := dataError("op", fmt.Errorf("%w: %w", context.Canceled, &pgconn.PgError{Code: pgerrcode.TooManyConnections}))
		assert.Equal(t, KindTransientData, KindOf(err))
	})

	t.Run("non-transient is fatal", func(t *testing.T) {
		err := dataError("op", &pgconn.PgError{Code: pgerrcode.UndefinedTable})
		assert.ErrorIs(t, err, ErrFatalData)
		assert.NotErrorIs(t, err, ErrTransientData)
	})
}

func TestPassthrough(t *testing.T) {
	domain := invalidCredentials()
	assert.Equal(t, KindAuthentication, KindOf(passthrough("op", domain)))
	assert.Equal(t, domain.Error(), passthrough("op", domain).Error())

	wrapped := dataError("op", errors.New("boom"))
	assert.Equal(t, wrapped.Error(), passthrough("outer", wrapped).Error())

	err := passthrough("op", errors.New("raw"))
	assert.ErrorIs(t, err, ErrFatalData)
}

func TestPassthrough_ExhaustedTransientBecomesFatal(t *testing.T) {
	inner := dataError("create account", &pgconn.PgError{Code: pgerrcode.SerializationFailure})
	require.Equal(t, KindTransientData, KindOf(inner))

	exhausted := fmt.Errorf("%w: %w", store.ErrRetriesExhausted, inner)
	assert.Equal(t, KindFatalData, KindOf(exhausted))

	err := passthrough("register", exhausted)
	assert.ErrorIs(t, err, ErrFatalData)
	assert.ErrorIs(t, err, store.ErrRetriesExhausted)
	assert.Equal(t, KindFatalData, KindOf(err))
}
