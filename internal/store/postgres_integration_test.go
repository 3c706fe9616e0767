// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/sessionauth/internal/store"
)

// setupPostgresContainer starts a PostgreSQL container and returns its URL.
func setupPostgresContainer() (string, func(), error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("sessionauth_test"),
		postgres.WithUsername("sessionauth"),
		postgres.WithPassword("sessionauth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return "", nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", nil, err
	}

	return connStr, func() { _ = container.Terminate(ctx) }, nil
}

var _ = Describe("PostgreSQL schema", func() {
	var (
		connStr string
		pool    *pgxpool.Pool
		cleanup func()
	)

	BeforeEach(func() {
		var err error
		connStr, cleanup, err = setupPostgresContainer()
		Expect(err).NotTo(HaveOccurred())

		pool, err = store.OpenPostgres(context.Background(), connStr)
		Expect(err).NotTo(HaveOccurred())

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())
	})

	AfterEach(func() {
		pool.Close()
		cleanup()
	})

	It("creates the users and user_sessions tables", func() {
		ctx := context.Background()
		var count int
		err := pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM information_schema.tables
			WHERE table_name IN ('users', 'user_sessions')
		`).Scan(&count)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(2))
	})

	It("enforces unique emails", func() {
		ctx := context.Background()
		insert := `INSERT INTO users (id, email, hashed_password) VALUES ($1, $2, 'h')`
		_, err := pool.Exec(ctx, insert, "01J000000000000000000000A1", "a@x.io")
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, insert, "01J000000000000000000000A2", "a@x.io")
		Expect(err).To(HaveOccurred())
	})

	It("allows many users without session or reset tokens", func() {
		ctx := context.Background()
		insert := `INSERT INTO users (id, email, hashed_password) VALUES ($1, $2, 'h')`
		for i, email := range []string{"a@x.io", "b@x.io", "c@x.io"} {
			_, err := pool.Exec(ctx, insert, "01J00000000000000000000B0"+string(rune('0'+i)), email)
			Expect(err).NotTo(HaveOccurred())
		}
	})
})
