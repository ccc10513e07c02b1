// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/store"
)

// NewSweepCmd creates the one-shot retention sweep command.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete stale refresh tokens and old security events",
		Long: `Run a single retention pass: refresh tokens that expired or were
revoked before the retention window are deleted, as are security events
older than the event retention.`,
		Args: cobra.NoArgs,
		RunE: runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd, cfg)

	pool, err := store.NewPool(cmd.Context(), cfg.PoolConfig())
	if err != nil {
		return err
	}
	application, err := newApp(cfg, pool, prometheus.NewRegistry(), logger)
	if err != nil {
		pool.Close()
		return err
	}
	defer application.Close()

	result, err := application.sweeper.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	cmd.Printf("Deleted %d refresh tokens and %d security events\n", result.Tokens, result.Events)
	return nil
}
