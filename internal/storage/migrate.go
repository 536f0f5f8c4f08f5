package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

//go:embed cache_migrations/*.sql
var cacheMigrationsFS embed.FS

// RunMigrations brings the ledger database at dbPath to the latest schema.
func RunMigrations(dbPath string) error {
	return runMigrations(dbPath, migrationsFS, "migrations")
}

// RunCacheMigrations brings the offline cache database at dbPath to the latest schema.
func RunCacheMigrations(dbPath string) error {
	return runMigrations(dbPath, cacheMigrationsFS, "cache_migrations")
}

// SchemaVersion reports the migration version applied to the database at dbPath.
func SchemaVersion(dbPath string) (uint, error) {
	m, closeFn, err := newMigrate(dbPath, migrationsFS, "migrations")
	if err != nil {
		return 0, err
	}
	defer closeFn()

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func runMigrations(dbPath string, fsys fs.FS, dir string) error {
	m, closeFn, err := newMigrate(dbPath, fsys, dir)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func newMigrate(dbPath string, fsys fs.FS, dir string) (*migrate.Migrate, func(), error) {
	// A separate connection keeps migrations from interfering with the main pool.
	migrateDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open migration database: %w", err)
	}

	driver, err := sqlite.WithInstance(migrateDB, &sqlite.Config{})
	if err != nil {
		migrateDB.Close()
		return nil, nil, fmt.Errorf("create sqlite driver: %w", err)
	}

	d, err := iofs.New(fsys, dir)
	if err != nil {
		migrateDB.Close()
		return nil, nil, fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite", driver)
	if err != nil {
		migrateDB.Close()
		return nil, nil, fmt.Errorf("create migrate instance: %w", err)
	}

	return m, func() {
		m.Close()
		migrateDB.Close()
	}, nil
}
