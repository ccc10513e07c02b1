// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/authcore/internal/store"
)

// startPostgres starts a PostgreSQL container and returns its DSN.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("authcore_test"),
		postgres.WithUsername("authcore"),
		postgres.WithPassword("authcore"),
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

var _ = Describe("Store", Ordered, func() {
	var (
		ctx       context.Context
		connStr   string
		terminate func()
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		connStr, terminate, err = startPostgres(ctx)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		terminate()
	})

	Describe("Migrator", func() {
		It("walks the full migration cycle", func() {
			migrator, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			defer migrator.Close()

			version, dirty, err := migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeZero())
			Expect(dirty).To(BeFalse())

			pending, err := migrator.PendingMigrations()
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(Equal([]uint{1, 2, 3}))

			Expect(migrator.Up()).To(Succeed())
			version, _, err = migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(uint(3)))

			Expect(migrator.Steps(-1)).To(Succeed())
			version, _, err = migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(Equal(uint(2)))

			Expect(migrator.Steps(1)).To(Succeed())
			Expect(migrator.Down()).To(Succeed())
			version, _, err = migrator.Version()
			Expect(err).NotTo(HaveOccurred())
			Expect(version).To(BeZero())

			Expect(migrator.Up()).To(Succeed())
			Expect(migrator.Up()).To(Succeed(), "up is idempotent")
		})
	})

	Describe("DB", func() {
		var db *store.DB

		BeforeAll(func() {
			migrator, err := store.NewMigrator(connStr)
			Expect(err).NotTo(HaveOccurred())
			Expect(migrator.Up()).To(Succeed())
			Expect(migrator.Close()).To(Succeed())

			pool, err := store.NewPool(ctx, store.PoolConfig{DSN: connStr, MaxConns: 4, StatementTimeout: 5 * time.Second})
			Expect(err).NotTo(HaveOccurred())
			db = store.New(pool)
		})

		AfterAll(func() {
			db.Close()
		})

		It("pings the server", func() {
			Expect(db.Ping(ctx)).To(Succeed())
		})

		It("commits a transaction", func() {
			err := db.InTransaction(ctx, func(ctx context.Context) error {
				_, err := db.Exec(ctx, "insert account", `
					INSERT INTO accounts (id, username, email, password_hash)
					VALUES ('01JCOMMIT0000000000000000', 'committed', 'committed@example.com', 'x')`)
				return err
			})
			Expect(err).NotTo(HaveOccurred())

			var n int
			Expect(db.Querier(ctx).QueryRow(ctx,
				`SELECT COUNT(*) FROM accounts WHERE username = 'committed'`).Scan(&n)).To(Succeed())
			Expect(n).To(Equal(1))
		})

		It("rolls back when fn fails", func() {
			failure := errors.New("abort")
			err := db.InTransaction(ctx, func(ctx context.Context) error {
				if _, err := db.Exec(ctx, "insert account", `
					INSERT INTO accounts (id, username, email, password_hash)
					VALUES ('01JROLLBACK00000000000000', 'rolledback', 'rolledback@example.com', 'x')`); err != nil {
					return err
				}
				return failure
			})
			Expect(err).To(MatchError(failure))

			var n int
			Expect(db.Querier(ctx).QueryRow(ctx,
				`SELECT COUNT(*) FROM accounts WHERE username = 'rolledback'`).Scan(&n)).To(Succeed())
			Expect(n).To(BeZero())
		})

		It("classifies unique violations", func() {
			_, err := db.Exec(ctx, "insert duplicate", `
				INSERT INTO accounts (id, username, email, password_hash)
				VALUES ('01JDUPLICATE0000000000000', 'COMMITTED', 'other@example.com', 'x')`)
			Expect(err).To(HaveOccurred())
			constraint, ok := store.IsUniqueViolation(err)
			Expect(ok).To(BeTrue())
			Expect(constraint).To(Equal("accounts_username_key"))
		})

		It("tracks query statistics", func() {
			Expect(db.Stats().Queries).To(BeNumerically(">", 0))
		})
	})
})
