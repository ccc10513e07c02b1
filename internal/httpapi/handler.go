// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package httpapi exposes the session operations as JSON over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

// Route paths.
const (
	RouteRegister = "/v1/auth/register"
	RouteLogin    = "/v1/auth/login"
	RouteRefresh  = "/v1/auth/refresh"
	RouteLogout   = "/v1/auth/logout"
	RoutePassword = "/v1/auth/password"
)

// SessionService is the part of auth.Service the handlers call.
type SessionService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Session, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.Session, error)
	Refresh(ctx context.Context, secret string, client auth.ClientContext) (auth.TokenPair, error)
	Logout(ctx context.Context, in auth.LogoutInput) error
	ChangePassword(ctx context.Context, in auth.ChangePasswordInput) error
}

// ErrorReporter receives errors that indicate a server-side fault.
type ErrorReporter func(ctx context.Context, err error)

// Handler serves the auth API.
type Handler struct {
	svc      SessionService
	logger   *slog.Logger
	metrics  *observability.Metrics
	reporter ErrorReporter

	trustedProxies []netip.Prefix
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records request counts and latency.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithTrustedProxies sets the proxy networks whose X-Forwarded-For header
// is honoured. Without it the connection address is always the client.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(h *Handler) { h.trustedProxies = prefixes }
}

// WithErrorReporter replaces the Sentry reporter.
func WithErrorReporter(r ErrorReporter) Option {
	return func(h *Handler) {
		if r != nil {
			h.reporter = r
		}
	}
}

// NewHandler creates a Handler over svc.
func NewHandler(svc SessionService, opts ...Option) *Handler {
	h := &Handler{
		svc:      svc,
		logger:   slog.Default(),
		reporter: captureSentry,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the API mux wrapped in recovery and request logging.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST "+RouteRegister, h.instrument(RouteRegister, h.register))
	mux.Handle("POST "+RouteLogin, h.instrument(RouteLogin, h.login))
	mux.Handle("POST "+RouteRefresh, h.instrument(RouteRefresh, h.refresh))
	mux.Handle("POST "+RouteLogout, h.instrument(RouteLogout, h.logout))
	mux.Handle("POST "+RoutePassword, h.instrument(RoutePassword, h.changePassword))
	return h.recoverer(mux)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !h.decode(w, r, &body) {
		return
	}

	sess, err := h.svc.Register(r.Context(), auth.RegisterInput{
		Username: strings.TrimSpace(body.Username),
		Email:    body.Email,
		Password: body.Password,
		Client:   h.clientContext(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !h.decode(w, r, &body) {
		return
	}

	sess, err := h.svc.Login(r.Context(), auth.LoginInput{
		Email:    body.Email,
		Password: body.Password,
		Client:   h.clientContext(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !h.decode(w, r, &body) {
		return
	}

	pair, err := h.svc.Refresh(r.Context(), strings.TrimSpace(body.RefreshToken), h.clientContext(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var body logoutRequest
	if !h.decode(w, r, &body) {
		return
	}

	err := h.svc.Logout(r.Context(), auth.LogoutInput{
		AccessToken:  bearerToken(r),
		RefreshToken: strings.TrimSpace(body.RefreshToken),
		All:          body.All,
		Client:       h.clientContext(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var body changePasswordRequest
	if !h.decode(w, r, &body) {
		return
	}

	err := h.svc.ChangePassword(r.Context(), auth.ChangePasswordInput{
		AccessToken:     bearerToken(r),
		CurrentPassword: body.CurrentPassword,
		NewPassword:     body.NewPassword,
		Client:          h.clientContext(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a single JSON object into dst. An empty body decodes as {}.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(dst)
	if errors.Is(err, io.EOF) {
		return true
	}
	if err == nil && decoder.More() {
		err = errors.New("unexpected data after JSON object")
	}
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeProblem(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "request body too large")
		return false
	}
	h.logger.DebugContext(r.Context(), "rejected request body", "path", r.URL.Path, "error", err)
	writeProblem(w, http.StatusBadRequest, "REQUEST_INVALID", "invalid json body")
	return false
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// clientContext derives client metadata from r.
func (h *Handler) clientContext(r *http.Request) auth.ClientContext {
	return auth.ClientContext{
		UserAgent: r.UserAgent(),
		IPAddress: h.clientIP(r),
	}
}

// clientIP returns the connection address unless it belongs to a trusted
// proxy. Behind a trusted proxy, X-Forwarded-For is walked from the right
// and the first hop outside the trusted set is the client.
func (h *Handler) clientIP(r *http.Request) string {
	remote := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	if !h.trusted(remote) {
		return remote
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	client := remote
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if _, err := netip.ParseAddr(hop); err != nil {
			break
		}
		client = hop
		if !h.trusted(hop) {
			break
		}
	}
	return client
}

func (h *Handler) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range h.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // client may have disconnected
	_ = json.NewEncoder(w).Encode(payload)
}

// errorCode extracts the oops code, if any.
func errorCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		code, _ := oopsErr.Code().(string)
		return code
	}
	return ""
}
