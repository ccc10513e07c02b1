// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/pkg/errutil"
)

func TestUseCounter(t *testing.T) {
	u := newUseCounter(3)
	conn := &pgx.Conn{}

	assert.True(t, u.release(conn))
	assert.True(t, u.release(conn))
	assert.False(t, u.release(conn), "third release retires the connection")
	assert.Empty(t, u.uses)

	assert.True(t, u.release(conn))
	u.forget(conn)
	assert.Empty(t, u.uses)
}

func TestNewPool_InvalidDSN(t *testing.T) {
	_, err := NewPool(context.Background(), PoolConfig{DSN: "://not a dsn"})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "DB_CONFIG_INVALID")
}
