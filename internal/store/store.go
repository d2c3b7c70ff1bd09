// Package store provides the transactional persistence layer: a single-file
// SQLite database opened with WAL journaling, a 5s busy-timeout, and foreign
// keys enforced, migrated forward-only via embedded golang-migrate scripts.
//
// Grounded on tarsy's pkg/database.Client (connection wrapping + embedded
// migrations via golang-migrate), adapted from Postgres/ent to SQLite
// because spec §4.1 requires a single-file embedded store with WAL and
// busy-timeout, an invariant a client/server database cannot satisfy.
package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// Store wraps the underlying *sql.DB used by every aggregate's query file.
type Store struct {
	db *stdsql.DB
}

// Open creates (if needed) and migrates the SQLite file at path, returning a
// ready-to-use Store. Re-running Open on an already-migrated file is a no-op
// (spec §4.1: schema initialization is idempotent).
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := stdsql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer; a single shared connection avoids
	// SQLITE_BUSY races that the busy_timeout pragma alone can't fully
	// absorb under heavy concurrent write attempts from this process.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an already-open database handle (used by tests).
func NewFromDB(db *stdsql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying handle for health checks and ad-hoc queries.
func (s *Store) DB() *stdsql.DB {
	return s.db
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func runMigrations(db *stdsql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("sqlite3 migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Closing only the source driver, not m, keeps the shared *sql.DB open —
	// m.Close() would call db.Close() underneath, breaking every aggregate
	// query file that still holds this *Store.
	return sourceDriver.Close()
}

// WithTx runs fn inside a single transaction, following the Atomicity Rule
// (spec §4.1): any write touching more than one row for the same logical
// entity must execute on one transactional connection.
func (s *Store) WithTx(ctx context.Context, fn func(tx *stdsql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// nowISO returns the current time formatted as ISO-8601 UTC, the wire format
// spec §3 mandates for every timestamp column.
func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
