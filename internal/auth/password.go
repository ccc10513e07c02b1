// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"unicode"
)

// Password policy defaults.
const (
	DefaultMinPasswordLength = 8

	// MaxPasswordBytes is the bcrypt input limit.
	MaxPasswordBytes = 72
)

// PasswordPolicy lists the constraints a new password must satisfy.
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPasswordPolicy requires eight characters from all four classes.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:     DefaultMinPasswordLength,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	}
}

// Validate checks password against the policy. The password never appears
// in the returned error.
func (p PasswordPolicy) Validate(password string) error {
	minLen := p.MinLength
	if minLen <= 0 {
		minLen = DefaultMinPasswordLength
	}
	if len([]rune(password)) < minLen {
		return validationError("AUTH_WEAK_PASSWORD", "password must be at least %d characters", minLen)
	}
	if len(password) > MaxPasswordBytes {
		return validationError("AUTH_WEAK_PASSWORD", "password must be at most %d bytes", MaxPasswordBytes)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	switch {
	case p.RequireUpper && !upper:
		return validationError("AUTH_WEAK_PASSWORD", "password must contain an uppercase letter")
	case p.RequireLower && !lower:
		return validationError("AUTH_WEAK_PASSWORD", "password must contain a lowercase letter")
	case p.RequireDigit && !digit:
		return validationError("AUTH_WEAK_PASSWORD", "password must contain a digit")
	case p.RequireSymbol && !symbol:
		return validationError("AUTH_WEAK_PASSWORD", "password must contain a symbol")
	}
	return nil
}
