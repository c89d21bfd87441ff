// internal/storage/db.go
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database holding account details and call history.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the SQLite database at path, creating its parent
// directory if needed, and brings the schema up to date.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	d := &DB{db: db, path: path}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return d, nil
}

// migrate creates every table this package owns, idempotently.
func (d *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			account_id TEXT PRIMARY KEY,
			details    TEXT NOT NULL,
			list_order INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			account_id TEXT NOT NULL,
			idx        INTEGER NOT NULL,
			name       TEXT NOT NULL,
			password   TEXT NOT NULL,
			realm      TEXT NOT NULL,
			PRIMARY KEY (account_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS active_codecs (
			account_id TEXT PRIMARY KEY,
			serialized TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS history (
			call_id        TEXT PRIMARY KEY,
			account_id     TEXT NOT NULL,
			history_state  TEXT NOT NULL,
			peer_name      TEXT NOT NULL,
			peer_number    TEXT NOT NULL,
			start_ts       INTEGER NOT NULL,
			stop_ts        INTEGER NOT NULL,
			recording_path TEXT NOT NULL,
			conf_id        TEXT NOT NULL,
			added_ts       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS history_start_ts_idx ON history(start_ts)`,
		`CREATE INDEX IF NOT EXISTS history_peer_number_idx ON history(peer_number)`,
	}
	for _, s := range stmts {
		if _, err := d.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}
