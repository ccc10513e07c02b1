// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package xdg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDir(t *testing.T) {
	t.Run("honours XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		assert.Equal(t, "/custom/config/authcore", ConfigDir())
	})

	t.Run("falls back to HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("HOME", "/home/testuser")
		assert.Equal(t, "/home/testuser/.config/authcore", ConfigDir())
	})
}

func TestFindConfigFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		assert.Empty(t, FindConfigFile())
	})

	t.Run("present file", func(t *testing.T) {
		base := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", base)
		dir := filepath.Join(base, "authcore")
		require.NoError(t, os.MkdirAll(dir, 0o700))
		path := filepath.Join(dir, ConfigFileName)
		require.NoError(t, os.WriteFile(path, []byte("http_addr: :8080\n"), 0o600))

		assert.Equal(t, path, FindConfigFile())
	})

	t.Run("directory is ignored", func(t *testing.T) {
		base := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", base)
		require.NoError(t, os.MkdirAll(filepath.Join(base, "authcore", ConfigFileName), 0o700))

		assert.Empty(t, FindConfigFile())
	})
}
