package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-billing-webhooks/core"
	billingmigrations "github.com/goliatone/go-billing-webhooks/migrations"
	sqlstore "github.com/goliatone/go-billing-webhooks/store/sql"
)

type persistenceConfig struct {
	driver string
	server string
}

func (c persistenceConfig) GetDebug() bool                { return false }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "go-billing-webhooks" }

// openSQLStore migrates and opens the SQL idempotency store for the sqlite
// and postgres backends. Other backends return a nil store.
func openSQLStore(ctx context.Context, cfg core.Config) (core.IdempotencyStore, func(), error) {
	noop := func() {}

	var driver string
	switch strings.ToLower(strings.TrimSpace(cfg.Idempotency.Backend)) {
	case core.IdempotencyBackendSQLite:
		driver = "sqlite3"
	case core.IdempotencyBackendPostgres:
		driver = "postgres"
	default:
		return nil, noop, nil
	}
	dialect, err := billingmigrations.DialectForDriver(driver)
	if err != nil {
		return nil, noop, err
	}

	sqlDB, err := sql.Open(driver, cfg.Idempotency.DSN)
	if err != nil {
		return nil, noop, fmt.Errorf("webhookd: open %s: %w", driver, err)
	}
	if dialect == billingmigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	pcfg := persistenceConfig{driver: driver, server: cfg.Idempotency.DSN}
	var client *persistence.Client
	if dialect == billingmigrations.DialectSQLite {
		client, err = persistence.New(pcfg, sqlDB, sqlitedialect.New())
	} else {
		client, err = persistence.New(pcfg, sqlDB, pgdialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, noop, fmt.Errorf("webhookd: persistence client: %w", err)
	}
	closeClient := func() { _ = client.Close() }

	if err := billingmigrations.RegisterDialect(ctx, dialect, func(fsys fs.FS) {
		client.RegisterSQLMigrations(fsys)
	}); err != nil {
		closeClient()
		return nil, noop, err
	}
	if err := client.Migrate(ctx); err != nil {
		closeClient()
		return nil, noop, fmt.Errorf("webhookd: migrate: %w", err)
	}

	store, err := sqlstore.NewIdempotencyStoreFromPersistence(client, cfg.Idempotency.TTL)
	if err != nil {
		closeClient()
		return nil, noop, err
	}
	return store, closeClient, nil
}
