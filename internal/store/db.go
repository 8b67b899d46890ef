package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB provides SQLite-backed snapshot storage and the cycle journal.
type DB struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath.
// Use ":memory:" for in-memory databases (useful for testing).
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &DB{db: db}, nil
}

// Open opens the database at dbPath and creates the schema if needed.
func Open(dbPath string) (*DB, error) {
	d, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if err := d.CreateSchema(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// CreateSchema creates all tables and indexes.
func (d *DB) CreateSchema() error {
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
