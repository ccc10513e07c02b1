// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package xdg resolves XDG Base Directory paths for authd.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "authcore"

// ConfigFileName is the file looked up in ConfigDir when no --config is given.
const ConfigFileName = "authd.yaml"

// ConfigDir returns the XDG config directory for authcore.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// FindConfigFile returns the path of ConfigFileName in ConfigDir, or ""
// when no regular file exists there.
func FindConfigFile() string {
	path := filepath.Join(ConfigDir(), ConfigFileName)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return path
}
