// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package authtest provides in-memory fixtures for exercising the auth
// package without PostgreSQL.
package authtest

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/authcore/internal/auth"
)

type txKey struct{ s *Store }

// Store is an in-memory implementation of the account, refresh token and
// event repositories plus a Transactor. Transactions are serialized and
// roll back by restoring a snapshot. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	accounts map[ulid.ULID]*auth.Account
	tokens   map[string]*auth.RefreshToken
	events   []*auth.SecurityEvent
	failures map[string]error
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[ulid.ULID]*auth.Account),
		tokens:   make(map[string]*auth.RefreshToken),
		failures: make(map[string]error),
	}
}

// Accounts returns the store as an AccountRepository.
func (s *Store) Accounts() auth.AccountRepository { return accountRepo{s} }

// RefreshTokens returns the store as a RefreshTokenRepository.
func (s *Store) RefreshTokens() auth.RefreshTokenRepository { return tokenRepo{s} }

// Events returns the store as an EventRepository.
func (s *Store) Events() auth.EventRepository { return eventRepo{s} }

// Fail makes every call to method return err until cleared with a nil err.
// Method names are "<repo>.<Method>", for example "accounts.Create" or
// "events.Append".
func (s *Store) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// InTransaction runs fn with exclusive access to the store. Changes made by
// fn are discarded when it returns an error or panics. Nested calls join.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures["tx.Begin"]; err != nil {
		return err
	}

	snap := s.snapshot()
	committed := false
	defer func() {
		if !committed {
			s.restore(snap)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{s}, true)); err != nil {
		return err
	}
	committed = true
	return nil
}

// Account returns a copy of the stored account, including deleted ones.
func (s *Store) Account(id ulid.ULID) (*auth.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	return copyAccount(a), true
}

// SetAccount stores a copy of a, replacing any account with the same ID.
func (s *Store) SetAccount(a *auth.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = copyAccount(a)
}

// RefreshTokensFor returns copies of every refresh token of an account.
func (s *Store) RefreshTokensFor(accountID ulid.ULID) []*auth.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*auth.RefreshToken
	for _, t := range s.tokens {
		if t.AccountID == accountID {
			out = append(out, copyToken(t))
		}
	}
	slices.SortFunc(out, func(a, b *auth.RefreshToken) int { return a.IssuedAt.Compare(b.IssuedAt) })
	return out
}

// AddRefreshToken stores a copy of t.
func (s *Store) AddRefreshToken(t *auth.RefreshToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.TokenHash] = copyToken(t)
}

// SecurityEvents returns the recorded events in append order.
func (s *Store) SecurityEvents() []auth.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.SecurityEvent, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	return out
}

// EventKinds returns the kinds of the recorded events in append order.
func (s *Store) EventKinds() []auth.EventKind {
	events := s.SecurityEvents()
	kinds := make([]auth.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (s *Store) inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{s}).(bool)
	return v
}

// lock acquires the store unless ctx already holds it through InTransaction.
func (s *Store) lock(ctx context.Context, method string) (unlock func(), err error) {
	unlock = func() {}
	if !s.inTx(ctx) {
		s.mu.Lock()
		unlock = s.mu.Unlock
	}
	if err := s.failures[method]; err != nil {
		unlock()
		return nil, err
	}
	return unlock, nil
}

type snapshot struct {
	accounts map[ulid.ULID]*auth.Account
	tokens   map[string]*auth.RefreshToken
	events   []*auth.SecurityEvent
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		accounts: make(map[ulid.ULID]*auth.Account, len(s.accounts)),
		tokens:   make(map[string]*auth.RefreshToken, len(s.tokens)),
		events:   slices.Clone(s.events),
	}
	for id, a := range s.accounts {
		snap.accounts[id] = copyAccount(a)
	}
	for h, t := range s.tokens {
		snap.tokens[h] = copyToken(t)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.accounts = snap.accounts
	s.tokens = snap.tokens
	s.events = snap.events
}

type accountRepo struct{ s *Store }

func (r accountRepo) Create(ctx context.Context, a *auth.Account) error {
	unlock, err := r.s.lock(ctx, "accounts.Create")
	if err != nil {
		return err
	}
	defer unlock()

	for _, existing := range r.s.accounts {
		if strings.EqualFold(existing.Username, a.Username) {
			return oops.Code("ACCOUNT_DUPLICATE").With("constraint", "accounts_username_key").Wrap(auth.ErrDuplicate)
		}
		if strings.EqualFold(existing.Email, a.Email) {
			return oops.Code("ACCOUNT_DUPLICATE").With("constraint", "accounts_email_key").Wrap(auth.ErrDuplicate)
		}
	}
	r.s.accounts[a.ID] = copyAccount(a)
	return nil
}

func (r accountRepo) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	unlock, err := r.s.lock(ctx, "accounts.GetByID")
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, ok := r.s.accounts[id]
	if !ok || a.DeletedAt != nil {
		return nil, notFound("account")
	}
	return copyAccount(a), nil
}

func (r accountRepo) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	unlock, err := r.s.lock(ctx, "accounts.GetByEmail")
	if err != nil {
		return nil, err
	}
	defer unlock()

	a := r.s.byEmail(email)
	if a == nil {
		return nil, notFound("account")
	}
	return copyAccount(a), nil
}

func (r accountRepo) RecordLoginOutcome(ctx context.Context, email string, success bool, policy auth.LockoutPolicy, now time.Time) (*auth.Account, error) {
	unlock, err := r.s.lock(ctx, "accounts.RecordLoginOutcome")
	if err != nil {
		return nil, err
	}
	defer unlock()

	a := r.s.byEmail(email)
	if a == nil {
		return nil, notFound("account")
	}
	if success {
		a.FailedLogins = 0
		a.LockoutUntil = nil
		a.LastLoginAt = &now
	} else {
		a.FailedLogins++
		if until := policy.LockoutTime(a.FailedLogins, now); until != nil {
			a.LockoutUntil = until
		}
	}
	a.UpdatedAt = now
	return copyAccount(a), nil
}

func (r accountRepo) ClearExpiredLockout(ctx context.Context, id ulid.ULID, now time.Time) (bool, error) {
	unlock, err := r.s.lock(ctx, "accounts.ClearExpiredLockout")
	if err != nil {
		return false, err
	}
	defer unlock()

	a, ok := r.s.accounts[id]
	if !ok || a.DeletedAt != nil || a.LockoutUntil == nil || now.Before(*a.LockoutUntil) {
		return false, nil
	}
	a.FailedLogins = 0
	a.LockoutUntil = nil
	a.UpdatedAt = now
	return true, nil
}

func (r accountRepo) UpdatePassword(ctx context.Context, id ulid.ULID, hash string, now time.Time) error {
	unlock, err := r.s.lock(ctx, "accounts.UpdatePassword")
	if err != nil {
		return err
	}
	defer unlock()

	a, ok := r.s.accounts[id]
	if !ok || a.DeletedAt != nil {
		return notFound("account")
	}
	a.PasswordHash = hash
	a.UpdatedAt = now
	return nil
}

func (r accountRepo) SoftDelete(ctx context.Context, id ulid.ULID, now time.Time) error {
	unlock, err := r.s.lock(ctx, "accounts.SoftDelete")
	if err != nil {
		return err
	}
	defer unlock()

	a, ok := r.s.accounts[id]
	if !ok || a.DeletedAt != nil {
		return notFound("account")
	}
	a.DeletedAt = &now
	a.UpdatedAt = now
	return nil
}

func (s *Store) byEmail(email string) *auth.Account {
	for _, a := range s.accounts {
		if a.DeletedAt == nil && strings.EqualFold(a.Email, email) {
			return a
		}
	}
	return nil
}

type tokenRepo struct{ s *Store }

func (r tokenRepo) Create(ctx context.Context, t *auth.RefreshToken) error {
	unlock, err := r.s.lock(ctx, "tokens.Create")
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := r.s.accounts[t.AccountID]; !ok {
		return oops.Code("TOKEN_CREATE_FAILED").Errorf("account %s does not exist", t.AccountID)
	}
	if _, ok := r.s.tokens[t.TokenHash]; ok {
		return oops.Code("TOKEN_CREATE_FAILED").Errorf("token hash already stored")
	}
	r.s.tokens[t.TokenHash] = copyToken(t)
	return nil
}

func (r tokenRepo) ConsumeActive(ctx context.Context, hash string, successor ulid.ULID, now time.Time) (*auth.RefreshToken, error) {
	unlock, err := r.s.lock(ctx, "tokens.ConsumeActive")
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, ok := r.s.tokens[hash]
	if !ok || !t.IsActiveAt(now) {
		return nil, notFound("refresh token")
	}
	t.RevokedAt = &now
	t.ReplacedBy = &successor
	return copyToken(t), nil
}

func (r tokenRepo) Revoke(ctx context.Context, hash string, now time.Time) (bool, error) {
	unlock, err := r.s.lock(ctx, "tokens.Revoke")
	if err != nil {
		return false, err
	}
	defer unlock()

	t, ok := r.s.tokens[hash]
	if !ok || t.RevokedAt != nil {
		return false, nil
	}
	t.RevokedAt = &now
	return true, nil
}

func (r tokenRepo) RevokeForAccount(ctx context.Context, accountID ulid.ULID, hash string, now time.Time) (bool, error) {
	unlock, err := r.s.lock(ctx, "tokens.RevokeForAccount")
	if err != nil {
		return false, err
	}
	defer unlock()

	t, ok := r.s.tokens[hash]
	if !ok || t.AccountID != accountID || t.RevokedAt != nil {
		return false, nil
	}
	t.RevokedAt = &now
	return true, nil
}

func (r tokenRepo) RevokeAll(ctx context.Context, accountID ulid.ULID, now time.Time) (int64, error) {
	unlock, err := r.s.lock(ctx, "tokens.RevokeAll")
	if err != nil {
		return 0, err
	}
	defer unlock()

	var n int64
	for _, t := range r.s.tokens {
		if t.AccountID == accountID && t.RevokedAt == nil {
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (r tokenRepo) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	unlock, err := r.s.lock(ctx, "tokens.DeleteStale")
	if err != nil {
		return 0, err
	}
	defer unlock()

	var n int64
	for h, t := range r.s.tokens {
		if t.ExpiresAt.Before(cutoff) || (t.RevokedAt != nil && t.RevokedAt.Before(cutoff)) {
			delete(r.s.tokens, h)
			n++
		}
	}
	return n, nil
}

type eventRepo struct{ s *Store }

func (r eventRepo) Append(ctx context.Context, e *auth.SecurityEvent) error {
	unlock, err := r.s.lock(ctx, "events.Append")
	if err != nil {
		return err
	}
	defer unlock()

	cp := *e
	r.s.events = append(r.s.events, &cp)
	return nil
}

func (r eventRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	unlock, err := r.s.lock(ctx, "events.DeleteOlderThan")
	if err != nil {
		return 0, err
	}
	defer unlock()

	kept := r.s.events[:0:0]
	var n int64
	for _, e := range r.s.events {
		if e.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.events = kept
	return n, nil
}

func notFound(entity string) error {
	return oops.Code("NOT_FOUND").With("entity", entity).Wrap(auth.ErrNotFound)
}

func copyAccount(a *auth.Account) *auth.Account {
	cp := *a
	cp.LockoutUntil = copyTime(a.LockoutUntil)
	cp.LastLoginAt = copyTime(a.LastLoginAt)
	cp.DeletedAt = copyTime(a.DeletedAt)
	return &cp
}

func copyToken(t *auth.RefreshToken) *auth.RefreshToken {
	cp := *t
	cp.RevokedAt = copyTime(t.RevokedAt)
	if t.ReplacedBy != nil {
		id := *t.ReplacedBy
		cp.ReplacedBy = &id
	}
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
