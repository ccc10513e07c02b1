// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/pkg/errutil"
)

// isolateEnv clears secrets and points --env-file at a missing file.
func isolateEnv(t *testing.T) []string {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "AUTHCORE_ACCESS_TOKEN_SECRET", "AUTHCORE_REFRESH_HASH_KEY", "SENTRY_DSN"} {
		t.Setenv(key, "")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configFile, dotEnvFile = "", ""
	return []string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"serve", "migrate", "sweep", "account"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/authd.yaml", "--help"},
			wantFlag: "/path/to/authd.yaml",
		},
		{
			name:     "equals form",
			args:     []string{"--config=/etc/authd.yaml", "--help"},
			wantFlag: "/etc/authd.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile = ""

			cmd := NewRootCmd()
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestServe_RequiresDatabaseURL(t *testing.T) {
	args := isolateEnv(t)

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{"serve"}, args...))

	err := cmd.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "key", "DATABASE_URL")
}

func TestServe_RequiresTokenSecrets(t *testing.T) {
	args := isolateEnv(t)
	t.Setenv("DATABASE_URL", "postgres://authcore@localhost/authcore")

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{"serve"}, args...))

	err := cmd.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "TOKEN_CONFIG_INVALID")
}

func TestServe_RejectsMissingConfigFile(t *testing.T) {
	args := isolateEnv(t)

	cmd := NewRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(append([]string{"serve", "--config", filepath.Join(t.TempDir(), "nope.yaml")}, args...))

	err := cmd.Execute()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_LOAD_FAILED")
}
