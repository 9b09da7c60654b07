// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RequireOops fails the test unless err carries an oops error, and returns it.
func RequireOops(tb testing.TB, err error) oops.OopsError {
	tb.Helper()
	require.Error(tb, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(tb, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts the outermost code of err. Wrapping layers keep the
// deepest code, so this is the code a caller of the public API sees.
func AssertErrorCode(tb testing.TB, err error, code string) {
	tb.Helper()
	assert.Equal(tb, code, RequireOops(tb, err).Code())
}

// AssertErrorContext asserts one key/value of the merged error context.
func AssertErrorContext(tb testing.TB, err error, key string, value any) {
	tb.Helper()
	ctx := RequireOops(tb, err).Context()
	if assert.Contains(tb, ctx, key) {
		assert.Equal(tb, value, ctx[key])
	}
}

// AssertErrorReason asserts the failure reason recorded under ReasonKey.
func AssertErrorReason(tb testing.TB, err error, reason string) {
	tb.Helper()
	AssertErrorContext(tb, err, ReasonKey, reason)
}

// AssertErrorDomain asserts the package domain set with oops.In.
func AssertErrorDomain(tb testing.TB, err error, domain string) {
	tb.Helper()
	assert.Equal(tb, domain, RequireOops(tb, err).Domain())
}
