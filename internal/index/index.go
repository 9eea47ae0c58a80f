// Package index provides the SQLite-backed metadata index: one durable
// notes table plus a small key/value config store with schema versioning.
package index

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/grimoire-md/grimoire/internal/apperr"
)

// StorageVersion is the schema version written at first initialization and
// compared on every subsequent open.
const StorageVersion = "1"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	note_id      TEXT PRIMARY KEY,
	path         TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	folder_path  TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT 'md',
	deleted_at   INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_notes_live_path
	ON notes(path) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_notes_folder ON notes(folder_path);
CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes(updated_at);

CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the index database, applies the schema, and checks
// the persisted storage version. A version this build has no migration for
// fails with apperr.ErrSchemaMismatch rather than risking silent corruption.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.checkVersion(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) checkVersion() error {
	stored, err := db.GetConfig("storage_version")
	if errors.Is(err, sql.ErrNoRows) {
		return db.SetConfig("storage_version", StorageVersion)
	}
	if err != nil {
		return fmt.Errorf("index: read storage version: %w", err)
	}
	if stored != StorageVersion {
		// Migration hook point. No migrations exist yet, so any other
		// version must fail loudly.
		return fmt.Errorf("index: persisted version %q, expected %q: %w",
			stored, StorageVersion, apperr.ErrSchemaMismatch)
	}
	return nil
}

// GetConfig returns the value for key, or sql.ErrNoRows if absent.
func (db *DB) GetConfig(key string) (string, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM config WHERE key = ?`, key).Scan(&v)
	return v, err
}

// SetConfig inserts or replaces a config entry.
func (db *DB) SetConfig(key, value string) error {
	_, err := db.conn.Exec(`
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("index: set config %s: %w", key, err)
	}
	return nil
}

// Version returns the persisted storage version string.
func (db *DB) Version() (string, error) {
	return db.GetConfig("storage_version")
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
