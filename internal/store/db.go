// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store opens the SQL databases and applies the embedded schema migrations.
package store

import (
	"context"
	"database/sql"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	// Register the pure Go "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// Connection retry settings used while the database is still starting.
const (
	connectAttempts = 5
	connectBackoff  = 200 * time.Millisecond
)

// OpenPostgres creates a pgx pool and waits until the database answers a
// ping, retrying with exponential backoff.
func OpenPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "create pool").
			Wrap(err)
	}

	backoff := retry.WithMaxRetries(connectAttempts, retry.NewExponential(connectBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", connectAttempts+1).
			Wrap(err)
	}
	return pool, nil
}

// OpenSQLite opens the SQLite database at path, creating it if needed.
// A single connection is used so writers never contend for the file lock.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "open sqlite").
			With("path", path).
			Wrap(err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping sqlite").
			With("path", path).
			Wrap(err)
	}
	return db, nil
}

// SQLiteDSN returns the driver DSN for path with the pragmas the stores rely on.
func SQLiteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

// SQLiteMigrationURL returns the migrator URL for the database at path.
func SQLiteMigrationURL(path string) string {
	return "sqlite://" + path
}
