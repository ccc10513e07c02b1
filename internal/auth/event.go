// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventKind names an audited security event.
type EventKind string

// Security event kinds.
const (
	EventRegister             EventKind = "register"
	EventLoginSuccess         EventKind = "login_success"
	EventLoginFailed          EventKind = "login_failed"
	EventLoginLocked          EventKind = "login_locked"
	EventAccountLocked        EventKind = "account_locked"
	EventTokenRefreshed       EventKind = "token_refreshed"
	EventTokenInvalid         EventKind = "token_invalid"
	EventLogout               EventKind = "logout"
	EventLogoutAll            EventKind = "logout_all"
	EventPasswordChanged      EventKind = "password_changed"
	EventPasswordChangeFailed EventKind = "password_change_failed"
	EventRateLimited          EventKind = "rate_limited"
	EventAccountDeleted       EventKind = "account_deleted"
)

// SecurityEvent is an append-only audit record.
type SecurityEvent struct {
	ID        ulid.ULID
	Kind      EventKind
	AccountID *ulid.ULID // nil when no account could be attributed
	Detail    map[string]any
	IPAddress string
	CreatedAt time.Time
}

// EventRepository persists security events.
type EventRepository interface {
	// Append stores an event.
	Append(ctx context.Context, event *SecurityEvent) error

	// DeleteOlderThan removes events created before cutoff and returns the count.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewSecurityEvent creates an event stamped at now.
func NewSecurityEvent(kind EventKind, accountID *ulid.ULID, ipAddress string, detail map[string]any, now time.Time) *SecurityEvent {
	return &SecurityEvent{
		ID:        ulid.Make(),
		Kind:      kind,
		AccountID: accountID,
		Detail:    detail,
		IPAddress: ipAddress,
		CreatedAt: now,
	}
}
