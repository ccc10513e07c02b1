// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil holds helpers for logging and asserting oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level. For oops errors the code and merged
// context are emitted as separate attributes; attrs are appended as given.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.ErrorContext(ctx, msg, append(Attrs(err), attrs...)...)
}

// LogWarn is LogError at warn level, for failures that do not change the
// caller's outcome.
func LogWarn(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	logger.WarnContext(ctx, msg, append(Attrs(err), attrs...)...)
}

// Attrs renders err as slog key/value pairs.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil && code != "" {
		attrs = append(attrs, "code", code)
	}
	if c := oopsErr.Context(); len(c) > 0 {
		attrs = append(attrs, "context", c)
	}
	return attrs
}
