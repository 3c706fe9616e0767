// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/auth/memory"
	"github.com/holomush/sessionauth/internal/auth/postgres"
	redisstore "github.com/holomush/sessionauth/internal/auth/redis"
	"github.com/holomush/sessionauth/internal/auth/sqlite"
	"github.com/holomush/sessionauth/internal/config"
	"github.com/holomush/sessionauth/internal/gate"
	"github.com/holomush/sessionauth/internal/store"
	"github.com/holomush/sessionauth/internal/xdg"
)

// Backends holds the stores selected by the configuration.
type Backends struct {
	// Users stores accounts.
	Users auth.CredentialStore
	// Durable persists sessions for the session_db scheme; nil otherwise.
	Durable auth.SessionStore

	closers []func()
}

// Close releases the backend connections in reverse order of opening.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func (b *Backends) onClose(fn func()) {
	b.closers = append(b.closers, fn)
}

// openBackends connects the configured databases, applies pending
// migrations and builds the stores.
func openBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Backends, err error) {
	scheme, err := cfg.Scheme()
	if err != nil {
		return nil, err
	}

	b := &Backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	durable := scheme == gate.SchemeSessionDB
	usesDriver := func(driver string) bool {
		return cfg.Storage.Driver == driver || (durable && cfg.Session.Store == driver)
	}

	var pool *pgxpool.Pool
	if usesDriver(config.DriverPostgres) {
		if err := migrateUp(cfg.Storage.DatabaseURL, logger); err != nil {
			return nil, err
		}
		pool, err = store.OpenPostgres(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.onClose(pool.Close)
		logger.Info("connected to postgres")
	}

	var db *sql.DB
	if usesDriver(config.DriverSQLite) {
		if err := xdg.EnsureDir(filepath.Dir(cfg.Storage.SQLitePath)); err != nil {
			return nil, err
		}
		if err := migrateUp(store.SQLiteMigrationURL(cfg.Storage.SQLitePath), logger); err != nil {
			return nil, err
		}
		db, err = store.OpenSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.onClose(func() {
			if closeErr := db.Close(); closeErr != nil {
				logger.Debug("error closing sqlite database", "error", closeErr)
			}
		})
		logger.Info("opened sqlite database", "path", cfg.Storage.SQLitePath)
	}

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		b.Users = memory.NewCredentialStore()
	case config.DriverPostgres:
		b.Users = postgres.NewCredentialStore(pool, logger)
	case config.DriverSQLite:
		b.Users = sqlite.NewCredentialStore(db, logger)
	default:
		return nil, oops.Code("BACKEND_UNKNOWN_DRIVER").
			With("driver", cfg.Storage.Driver).
			Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if !durable {
		return b, nil
	}

	switch cfg.Session.Store {
	case config.DriverPostgres:
		b.Durable = postgres.NewSessionStore(pool, logger)
	case config.DriverSQLite:
		b.Durable = sqlite.NewSessionStore(db, logger)
	case config.DriverRedis:
		client, err := redisstore.Open(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		b.onClose(func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Debug("error closing redis client", "error", closeErr)
			}
		})
		b.Durable = redisstore.NewSessionStore(client,
			redisstore.WithKeyPrefix(cfg.Redis.KeyPrefix),
			redisstore.WithSessionDuration(cfg.SessionTTL()),
			redisstore.WithLogger(logger),
		)
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	default:
		return nil, oops.Code("BACKEND_UNKNOWN_DRIVER").
			With("store", cfg.Session.Store).
			Errorf("unknown session store %q", cfg.Session.Store)
	}
	return b, nil
}

// migrateUp applies every pending migration to the database at url.
func migrateUp(url string, logger *slog.Logger) error {
	migrator, err := store.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Debug("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return err
	}
	version, _, err := migrator.Version()
	if err != nil {
		return err
	}
	logger.Info("database schema up to date", "dialect", migrator.Dialect(), "version", version)
	return nil
}
