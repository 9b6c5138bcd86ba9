package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	dbsys "github.com/JaimeStill/docket/pkg/database"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// MigrationSource returns the embedded migrations for dialect.
func MigrationSource(dialect dbsys.Dialect) (source.Driver, error) {
	switch dialect {
	case dbsys.SQLite, dbsys.Postgres:
		return iofs.New(migrationsFS, "migrations/"+string(dialect))
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}
}

// Migrate applies pending migrations to db.
func Migrate(db *sql.DB, dialect dbsys.Dialect) error {
	var (
		dbi database.Driver
		err error
	)

	switch dialect {
	case dbsys.SQLite:
		dbi, err = sqlite.WithInstance(db, &sqlite.Config{})
	case dbsys.Postgres:
		dbi, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		return fmt.Errorf("no migrations for dialect %q", dialect)
	}
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	src, err := MigrationSource(dialect)
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}
