// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/authcore/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	errutil.AssertErrorCode(t, oops.Code("TOKEN_INVALID").Errorf("bad token"), "TOKEN_INVALID")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	errutil.AssertErrorContext(t, oops.With("operation", "rotate").Errorf("failed"), "operation", "rotate")
}
