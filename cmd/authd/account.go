// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/store"
)

// NewAccountCmd creates the operator account command group.
func NewAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Operator account actions",
	}
	cmd.AddCommand(newAccountDeleteCmd())
	return cmd
}

func newAccountDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete EMAIL",
		Short: "Soft-delete an account and revoke its sessions",
		Long: `Mark the account registered under EMAIL deleted and revoke every
refresh token it holds. Access tokens already issued stay valid until
they expire.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			return deleteAccount(cmd, application.service, args[0])
		},
	}
}

// accountDeleter is the part of auth.Service used by account delete.
type accountDeleter interface {
	DeleteAccount(ctx context.Context, email string, client auth.ClientContext) (auth.DeletedAccount, error)
}

func deleteAccount(cmd *cobra.Command, svc accountDeleter, email string) error {
	res, err := svc.DeleteAccount(cmd.Context(), email, auth.ClientContext{UserAgent: "authd-cli"})
	if err != nil {
		return err
	}
	cmd.Printf("Deleted account %s and revoked %d refresh tokens\n", res.ID, res.RevokedTokens)
	return nil
}
