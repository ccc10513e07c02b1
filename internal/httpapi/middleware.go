// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package httpapi

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	wrote      bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.statusCode = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wrote {
		r.WriteHeader(http.StatusOK)
	}
	//nolint:wrapcheck // ResponseWriter passthrough
	return r.ResponseWriter.Write(b)
}

// instrument logs and measures one route.
func (h *Handler) instrument(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		elapsed := time.Since(start)
		h.metrics.Observe(route, recorder.statusCode, elapsed)
		h.logger.InfoContext(r.Context(), "http request",
			"method", r.Method,
			"route", route,
			"status", recorder.statusCode,
			"duration_ms", elapsed.Milliseconds(),
			"ip", h.clientIP(r),
		)
	})
}

// recoverer turns a panic into a 500 and reports it. Each request carries
// a cloned Sentry hub.
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.CurrentHub().Clone()
		ctx := sentry.SetHubOnContext(r.Context(), hub)
		r = r.WithContext(ctx)

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetExtra("stack", string(debug.Stack()))
				scope.SetTag("path", r.URL.Path)
				hub.Recover(rec)
			})
			h.logger.ErrorContext(ctx, "panic recovered",
				"path", r.URL.Path,
				"method", r.Method,
				"panic", fmt.Sprint(rec),
			)
			writeProblem(w, http.StatusInternalServerError, "", "internal server error")
		}()

		next.ServeHTTP(w, r)
	})
}
