// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/sessionauth/internal/config"
	"github.com/holomush/sessionauth/internal/gate"
	"github.com/holomush/sessionauth/internal/store"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(nil)
}

func newMigrateCmd(deps *MigrateDeps) *cobra.Command {
	deps = deps.withDefaults()

	withMigrator := func(fn func(cmd *cobra.Command, m Migrator, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			url, err := migrationURL(cfg)
			if err != nil {
				return err
			}
			m, err := deps.MigratorFactory(url)
			if err != nil {
				return oops.Code("MIGRATION_INIT_FAILED").Wrap(err)
			}
			defer func() {
				if closeErr := m.Close(); closeErr != nil {
					slog.Debug("error closing migrator", "error", closeErr)
				}
			}()
			return fn(cmd, m, args)
		}
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Apply, roll back or inspect the schema migrations of the configured
database. Without a subcommand all pending migrations are applied.`,
		RunE: withMigrator(runMigrateUp),
	}
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE:  withMigrator(runMigrateUp),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			if err := m.Steps(-1); err != nil {
				return err
			}
			cmd.Println("Rolled back one migration")
			return printVersion(cmd, m)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			return printVersion(cmd, m)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE:  withMigrator(runMigrateStatus),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Set the schema version without running migrations. Use only to
recover from a dirty state after fixing the database by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			if err := m.Force(v); err != nil {
				return err
			}
			cmd.Printf("Forced version %d\n", v)
			return nil
		}),
	})

	return cmd
}

func runMigrateUp(cmd *cobra.Command, m Migrator, _ []string) error {
	cmd.Printf("Running %s migrations...\n", m.Dialect())
	if err := m.Up(); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return printVersion(cmd, m)
}

func runMigrateStatus(cmd *cobra.Command, m Migrator, _ []string) error {
	applied, err := m.AppliedMigrations()
	if err != nil {
		return err
	}
	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}
	for _, v := range applied {
		cmd.Printf("applied  %s\n", migrationLabel(m.Dialect(), v))
	}
	for _, v := range pending {
		cmd.Printf("pending  %s\n", migrationLabel(m.Dialect(), v))
	}
	cmd.Printf("%d applied, %d pending\n", len(applied), len(pending))
	return nil
}

func migrationLabel(dialect store.Dialect, version uint) string {
	name, err := store.MigrationName(dialect, version)
	if err != nil || name == "" {
		return strconv.FormatUint(uint64(version), 10)
	}
	return name
}

func printVersion(cmd *cobra.Command, m Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		cmd.Printf("Schema version: %d (dirty)\n", version)
		return nil
	}
	cmd.Printf("Schema version: %d\n", version)
	return nil
}

// migrationURL picks the database the stores will use: the user store
// driver first, then the durable session store.
func migrationURL(cfg *config.Config) (string, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		return cfg.Storage.DatabaseURL, nil
	case config.DriverSQLite:
		return store.SQLiteMigrationURL(cfg.Storage.SQLitePath), nil
	}

	if cfg.Auth.Scheme == string(gate.SchemeSessionDB) {
		switch cfg.Session.Store {
		case config.DriverPostgres:
			return cfg.Storage.DatabaseURL, nil
		case config.DriverSQLite:
			return store.SQLiteMigrationURL(cfg.Storage.SQLitePath), nil
		}
	}
	return "", oops.Code("MIGRATION_NO_DATABASE").
		With("driver", cfg.Storage.Driver).
		Errorf("configuration selects no SQL database to migrate")
}
