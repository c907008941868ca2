package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver for database/sql

	"github.com/nexuslabs/nexus/pkg/tuple/store/migrations"
)

// runPostgresMigrations applies the tuples table schema via golang-migrate,
// using postgres advisory locks to keep concurrent nexusd replicas from
// racing each other on startup. SQLite deployments use gorm.AutoMigrate
// instead (see Open): golang-migrate's sqlite3 driver needs cgo, which the
// glebarez/sqlite dialector this package already depends on exists to avoid.
func runPostgresMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "tuple_store_schema_migrations",
		DatabaseName:    "nexus",
	})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
