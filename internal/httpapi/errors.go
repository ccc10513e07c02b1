// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/pkg/errutil"
)

// problem is the error body of every failed request.
type problem struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type errorMapping struct {
	status  int
	message string
}

var kindMappings = map[auth.Kind]errorMapping{
	auth.KindValidation:     {http.StatusBadRequest, ""},
	auth.KindDuplicate:      {http.StatusConflict, "account already exists"},
	auth.KindAuthentication: {http.StatusUnauthorized, "invalid email or password"},
	auth.KindTokenInvalid:   {http.StatusUnauthorized, "invalid token"},
	auth.KindTokenExpired:   {http.StatusUnauthorized, "token has expired"},
	auth.KindTokenWrongType: {http.StatusUnauthorized, "invalid token"},
	auth.KindLocked:         {http.StatusLocked, "account is temporarily locked"},
	auth.KindRateLimited:    {http.StatusTooManyRequests, "too many attempts"},
	auth.KindTransientData:  {http.StatusServiceUnavailable, "service temporarily unavailable"},
	auth.KindFatalData:      {http.StatusInternalServerError, "internal server error"},
}

// writeError maps a service error to its HTTP response. Data failures get
// a generic body and are reported.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	m, ok := kindMappings[kind]
	if !ok {
		m = kindMappings[auth.KindFatalData]
		kind = auth.KindFatalData
	}

	if d, ok := auth.RetryAfter(err); ok {
		w.Header().Set("Retry-After", retryAfterSeconds(d))
	}

	switch kind {
	case auth.KindValidation:
		writeProblem(w, m.status, errorCode(err), validationMessage(err))
	case auth.KindTransientData, auth.KindFatalData:
		errutil.LogError(r.Context(), h.logger, "auth request failed", err)
		h.reporter(r.Context(), err)
		writeProblem(w, m.status, "", m.message)
	default:
		writeProblem(w, m.status, errorCode(err), m.message)
	}
}

// validationMessage returns the human message of a validation error
// without the sentinel suffix.
func validationMessage(err error) string {
	return strings.TrimSuffix(err.Error(), ": "+auth.ErrValidation.Error())
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, problem{Error: message, Code: code})
}

// captureSentry reports err to the request's Sentry hub.
func captureSentry(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.CaptureException(err)
}
