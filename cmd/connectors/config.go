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
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-connectors/core"
	connectormigrations "github.com/goliatone/go-connectors/migrations"
	sqlstore "github.com/goliatone/go-connectors/store/sql"
)

func loadConfig(ctx context.Context, path string) (core.Config, error) {
	provider := core.NewCfgxConfigProvider(core.YAMLFileLoader{Path: path})
	return core.ResolveConfig(ctx, provider, core.GoOptionsResolver{}, core.Config{})
}

type storageConfig struct {
	core.StorageConfig
	service string
}

func (c storageConfig) GetDebug() bool {
	return c.Debug
}

func (c storageConfig) GetDriver() string {
	return c.Driver
}

func (c storageConfig) GetServer() string {
	return c.DSN
}

func (c storageConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c storageConfig) GetOtelIdentifier() string {
	return c.service
}

// openStorage connects to the configured database, applies the embedded
// migrations and builds the SQL stores.
func openStorage(ctx context.Context, cfg core.Config) (*persistence.Client, *sqlstore.RepositoryFactory, error) {
	driver := strings.TrimSpace(cfg.Storage.Driver)
	if driver == "" {
		driver = "sqlite3"
	}
	var dialect schema.Dialect
	switch driver {
	case "postgres":
		dialect = pgdialect.New()
	case "sqlite3":
		dialect = sqlitedialect.New()
	default:
		return nil, nil, fmt.Errorf("connectors: unsupported storage driver %q", driver)
	}
	migrationDialect, err := connectormigrations.DialectForDriver(driver)
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := sql.Open(driver, cfg.Storage.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connectors: open database: %w", err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	storage := cfg.Storage
	storage.Driver = driver
	client, err := persistence.New(storageConfig{StorageConfig: storage, service: cfg.ServiceName}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("connectors: persistence client: %w", err)
	}

	_, err = connectormigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != migrationDialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, connectormigrations.WithDialects(migrationDialect))
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connectors: register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connectors: migrate: %w", err)
	}

	stores, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, stores, nil
}
