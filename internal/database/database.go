package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3" // Registers the sqlite3 driver.
)

// busy_timeout lets a second process wait on the lock instead of failing.
const dsnParams = "?_busy_timeout=5000&_journal_mode=WAL"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Database persists failure tracker entries so that consecutive failure
// counts survive restarts.
type Database struct {
	db  *sql.DB
	log *slog.Logger
}

func New(ctx context.Context, dbPath string, log *slog.Logger) (*Database, error) {
	db, err := sql.Open("sqlite3", "file:"+dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open DB (dbPath = %s): %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping DB (dbPath = %s): %w", dbPath, err), db.Close())
	}

	if err = runMigrations(ctx, db, dbPath, log); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return &Database{db: db, log: log}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func runMigrations(ctx context.Context, db *sql.DB, dbPath string, log *slog.Logger) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := m.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.WarnContext(ctx, "Failed to read migration version",
			"error", err,
			"dbPath", dbPath)
	}

	if errors.Is(upErr, migrate.ErrNoChange) {
		log.InfoContext(ctx, "Failure store schema is up to date",
			"dbPath", dbPath,
			"version", version)

		return nil
	}

	log.InfoContext(ctx, "Failure store schema is migrated",
		"dbPath", dbPath,
		"version", version,
		"dirty", dirty)

	return nil
}
