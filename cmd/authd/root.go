// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/xdg"
)

// Global flags available to all subcommands.
var (
	configFile string
	dotEnvFile string
)

// NewRootCmd creates the root command for the authd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authd",
		Short: "authd - authentication and session service",
		Long: `authd issues, rotates and revokes credentials and tokens, enforces
account lockout and rate limits, and manages its PostgreSQL schema.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/authcore/authd.yaml if present)")
	cmd.PersistentFlags().StringVar(&dotEnvFile, "env-file", ".env", "dotenv file with secrets (ignored if missing)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewAccountCmd())

	return cmd
}

// loadConfig reads and validates the configuration for cmd.
func loadConfig(cmd *cobra.Command, requireSecrets bool) (*config.Config, error) {
	file := configFile
	if file == "" {
		file = xdg.FindConfigFile()
	}
	cfg, err := config.Load(config.LoadOptions{
		File:   file,
		Flags:  cmd.Flags(),
		DotEnv: dotEnvFile,
	})
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(requireSecrets); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger installs the default logger described by cfg.
func setupLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level, _ := logging.ParseLevel(cfg.Log.Level) //nolint:errcheck // validated by Config.Validate
	return logging.SetDefault(logging.Options{
		Service: "authd",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Output:  cmd.ErrOrStderr(),
	})
}

// initSentry enables error reporting when SENTRY_DSN is set. The returned
// func flushes buffered events.
func initSentry(cfg *config.Config) (func(), error) {
	if cfg.Secrets.SentryDSN == "" {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Secrets.SentryDSN,
		Environment:      cfg.Secrets.Environment,
		Release:          version,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, oops.Code("SENTRY_INIT_FAILED").Wrap(err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}
