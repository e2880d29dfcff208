package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	adconnectmigrations "github.com/goliatone/go-adconnect/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type databaseConfig struct {
	Driver string
	DSN    string
	Debug  bool
}

func (c databaseConfig) GetDebug() bool {
	return c.Debug
}

func (c databaseConfig) GetDriver() string {
	return c.Driver
}

func (c databaseConfig) GetServer() string {
	return c.DSN
}

func (c databaseConfig) GetPingTimeout() time.Duration {
	return 5 * time.Second
}

func (c databaseConfig) GetOtelIdentifier() string {
	return "go-adconnect"
}

// migrationDialect maps a database/sql driver name to its migration set.
func migrationDialect(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return adconnectmigrations.DialectPostgres, nil
	case "sqlite", "sqlite3":
		return adconnectmigrations.DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func openPersistence(cfg databaseConfig) (*persistence.Client, error) {
	dialect, err := migrationDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var (
		driverName string
		bunDialect schema.Dialect
	)
	switch dialect {
	case adconnectmigrations.DialectPostgres:
		driverName, bunDialect = "postgres", pgdialect.New()
	default:
		driverName, bunDialect = "sqlite3", sqlitedialect.New()
	}
	cfg.Driver = driverName

	sqlDB, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == adconnectmigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(cfg, sqlDB, bunDialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("new persistence client: %w", err)
	}
	return client, nil
}

// migrate registers the embedded migrations of the client's dialect and
// applies them.
func migrate(ctx context.Context, client *persistence.Client, driver string) error {
	dialect, err := migrationDialect(driver)
	if err != nil {
		return err
	}
	fsys, err := adconnectmigrations.ForDialect(dialect)
	if err != nil {
		return err
	}
	client.RegisterSQLMigrations(fsys)
	return client.Migrate(ctx)
}
