// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/store"
)

// migrator is the subset of store.Migrator used by the migrate commands.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

// newMigrator opens a migrator for the configured database. Tests replace it.
var newMigrator = func(databaseURL string) (migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back and inspect the PostgreSQL schema migrations.`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateVersionCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateForceCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long:  `Roll back the given number of migrations, or all of them when --steps is 0.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 0 {
				return oops.Code("INVALID_STEPS").With("steps", steps).Errorf("steps must not be negative")
			}
			return withMigrator(cmd, func(m migrator) error {
				var err error
				if steps == 0 {
					err = m.Down()
				} else {
					err = m.Steps(-steps)
				}
				if err != nil {
					return err
				}
				cmd.Println("Rollback completed successfully")
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back (0 for all)")
	return cmd
}

func newMigrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if dirty {
					cmd.Printf("Version: %d (dirty)\n", version)
					return nil
				}
				cmd.Printf("Version: %d\n", version)
				return nil
			})
		},
	}
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return err
				}
				pending, err := m.PendingMigrations()
				if err != nil {
					return err
				}
				cmd.Printf("Version: %d\n", version)
				if dirty {
					cmd.Println("State: dirty (run 'migrate force' after fixing the failed migration)")
				}
				if len(pending) == 0 {
					cmd.Println("Pending: none")
					return nil
				}
				cmd.Printf("Pending: %v\n", pending)
				return nil
			})
		},
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			return withMigrator(cmd, func(m migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced version %d\n", version)
				return nil
			})
		},
	}
}

// withMigrator loads config, opens a migrator and closes it after fn.
func withMigrator(cmd *cobra.Command, fn func(m migrator) error) (err error) {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	m, err := newMigrator(cfg.Secrets.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

// migrateUp applies pending migrations for serve --auto-migrate.
func migrateUp(databaseURL string) (err error) {
	m, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return m.Up()
}
