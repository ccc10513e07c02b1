// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package auth implements account authentication and the session lifecycle.
//
// # Domain Types
//
// Domain types should be created using their constructors:
//   - NewAccount - creates an Account with validated username, email and hash
//   - NewRefreshToken - creates a RefreshToken with validated owner and expiry
//   - NewSecurityEvent - creates an append-only audit record
//
// Repository implementations receive pre-validated types from these constructors.
//
// # Services
//
//   - Service - register, login, refresh, logout and change-password
//   - TokenService - access-token signing and refresh-token rotation
//   - RateLimiter - sliding-window throttling per (IP, identity)
//   - Sweeper - periodic removal of stale refresh tokens and old events
//
// LockoutPolicy.IsLocked is a pure decision over Account state and is
// consulted before any password verification.
//
// # Errors
//
// Every error returned by this package is an oops error wrapping one of
// the sentinels in errors.go. Use errors.Is or KindOf to branch.
package auth
