// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// transientCodes are server-reported conditions expected to clear on their own.
var transientCodes = map[string]struct{}{
	pgerrcode.SerializationFailure:                    {},
	pgerrcode.DeadlockDetected:                        {},
	pgerrcode.TooManyConnections:                      {},
	pgerrcode.AdminShutdown:                           {},
	pgerrcode.CrashShutdown:                           {},
	pgerrcode.CannotConnectNow:                        {},
	pgerrcode.QueryCanceled:                           {},
	pgerrcode.ConnectionException:                     {},
	pgerrcode.ConnectionFailure:                       {},
	pgerrcode.SQLClientUnableToEstablishSQLConnection: {},
}

// IsTransient reports whether err is an infrastructure fault worth retrying:
// connection resets, timeouts, serialization failures, deadlocks and
// connection-limit rejections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := transientCodes[pgErr.Code]
		return ok
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsTxRetryable reports whether a failed transaction may be restarted from
// the beginning: serialization failures and deadlocks only.
func IsTxRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
// The violated constraint name is returned when known.
func IsUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
