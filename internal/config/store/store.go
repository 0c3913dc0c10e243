// Package store persists bridge settings in a SQLite database under the
// bridge home directory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/facebridge-ai/facebridge/internal/config"
)

const defaultBusyTimeout = 5 * time.Second

// Options describes parameters for opening a settings store.
type Options struct {
	DBPath   string // Optional override for settings.db path (primarily for tests)
	ReadOnly bool   // Open database in read-only mode
}

// Store provides access to the settings database.
type Store struct {
	db       *sql.DB
	dbPath   string
	readOnly bool
}

// NotFoundError indicates a requested record does not exist.
type NotFoundError struct {
	Key string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("setting %s not found", e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// Open initialises the settings store, creating the schema on first use.
func Open(opts Options) (*Store, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		paths, err := config.EnsureDirs()
		if err != nil {
			return nil, fmt.Errorf("config: ensure directories: %w", err)
		}
		dbPath = paths.SettingsDB
	}

	dsn := dbPath
	if opts.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("config: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db, dbPath: dbPath, readOnly: opts.ReadOnly}
	if !opts.ReadOnly {
		if err := store.migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}
	return store, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.dbPath
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("config: apply %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
        CREATE TABLE IF NOT EXISTS settings (
            key        TEXT PRIMARY KEY,
            value      TEXT NOT NULL,
            updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
        )`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("config: create schema: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("config: begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("config: commit transaction: %w", err)
	}
	return nil
}
