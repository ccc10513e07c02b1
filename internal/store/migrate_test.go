// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"regexp"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/pkg/errutil"
)

type fakeMigrate struct {
	upErr      error
	downErr    error
	stepsErr   error
	version    uint
	dirty      bool
	versionErr error
	forceErr   error
	srcErr     error
	dbErr      error
}

func (f *fakeMigrate) Up() error                    { return f.upErr }
func (f *fakeMigrate) Down() error                  { return f.downErr }
func (f *fakeMigrate) Steps(int) error              { return f.stepsErr }
func (f *fakeMigrate) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }
func (f *fakeMigrate) Force(int) error              { return f.forceErr }
func (f *fakeMigrate) Close() (error, error)        { return f.srcErr, f.dbErr }

func TestMigrationsFS_Embedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name()] = true
		assert.Regexp(t, pattern, e.Name())
	}
	for _, want := range []string{
		"000001_accounts.up.sql",
		"000002_refresh_tokens.up.sql",
		"000003_security_events.up.sql",
	} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u@h/db", migrateURL("postgres://u@h/db"))
	assert.Equal(t, "pgx5://u@h/db", migrateURL("postgresql://u@h/db"))
	assert.Equal(t, "pgx5://u@h/db", migrateURL("pgx5://u@h/db"))
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/db")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestMigrator(t *testing.T) {
	t.Run("up treats no change as success", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{upErr: migrate.ErrNoChange}}
		assert.NoError(t, m.Up())
	})

	t.Run("up wraps failures", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{upErr: errors.New("syntax error")}}
		errutil.AssertErrorCode(t, m.Up(), "MIGRATION_UP_FAILED")
	})

	t.Run("down wraps failures", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{downErr: errors.New("locked")}}
		errutil.AssertErrorCode(t, m.Down(), "MIGRATION_DOWN_FAILED")
	})

	t.Run("steps wraps failures with count", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{stepsErr: errors.New("file does not exist")}}
		err := m.Steps(-1)
		errutil.AssertErrorCode(t, err, "MIGRATION_STEPS_FAILED")
		errutil.AssertErrorContext(t, err, "steps", -1)
	})

	t.Run("nil version reads as zero", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{versionErr: migrate.ErrNilVersion}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Zero(t, v)
		assert.False(t, dirty)
	})

	t.Run("force rejects negative versions", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{}}
		errutil.AssertErrorCode(t, m.Force(-1), "INVALID_VERSION")
	})

	t.Run("pending lists versions above current", func(t *testing.T) {
		m := &Migrator{m: &fakeMigrate{version: 1}}
		pending, err := m.PendingMigrations()
		require.NoError(t, err)
		assert.Equal(t, []uint{2, 3}, pending)
	})

	t.Run("close joins both errors", func(t *testing.T) {
		src, db := errors.New("src"), errors.New("db")
		m := &Migrator{m: &fakeMigrate{srcErr: src, dbErr: db}}
		err := m.Close()
		errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
		assert.ErrorIs(t, err, src)
		assert.ErrorIs(t, err, db)
	})
}
