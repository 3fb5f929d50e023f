// Package db manages the SQLite database holding the lifecycle event
// journal. it exposes a Database struct that wraps *sql.DB and is passed
// via dependency injection to the pool (which writes events) and the admin
// handlers (which read them). the journal is append-only audit data: it is
// never consulted to rebuild pool state, so losing it costs history, not
// correctness.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	// the underscore import registers the go-sqlite3 driver with
	// database/sql; without it sql.Open("sqlite3", ...) returns an
	// "unknown driver" error. only the package's init() side effect is
	// needed.
	_ "github.com/mattn/go-sqlite3"
)

// Database wraps *sql.DB so only the methods defined on this struct are
// exposed to callers. if the underlying driver changes, only this package
// changes.
type Database struct {
	connection *sql.DB
	logger     *slog.Logger
}

// schema is the SQL DDL for the journal table. IF NOT EXISTS makes it safe
// to run on every startup. a single table needs no migration library.
const schema = `
CREATE TABLE IF NOT EXISTS pool_events (
    id           TEXT PRIMARY KEY,
    container_id TEXT NOT NULL DEFAULT '',
    path         TEXT NOT NULL DEFAULT '',
    event        TEXT NOT NULL,
    detail       TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pool_events_created_at
    ON pool_events (created_at DESC);
`

// OpenDatabase opens (creating if necessary) the SQLite file at dbPath and
// runs the schema migration. the parent directory is created first because
// SQLite will not create intermediate directories on its own.
func OpenDatabase(dbPath string, logger *slog.Logger) (*Database, error) {
	if directory := filepath.Dir(dbPath); directory != "." {
		if err := os.MkdirAll(directory, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %q: %w", directory, err)
		}
	}

	connection, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", dbPath, err)
	}

	// sql.Open does not actually touch the file; ping forces the first
	// connection so a bad path fails here instead of on the first insert.
	if err := connection.Ping(); err != nil {
		connection.Close()
		return nil, fmt.Errorf("failed to connect to database %q: %w", dbPath, err)
	}

	database := &Database{connection: connection, logger: logger}
	if err := database.migrate(); err != nil {
		connection.Close()
		return nil, err
	}

	logger.Info("event journal opened", "path", dbPath)
	return database, nil
}

func (database *Database) migrate() error {
	if _, err := database.connection.Exec(schema); err != nil {
		return fmt.Errorf("failed to run schema migration: %w", err)
	}
	return nil
}

// CloseDatabase closes the underlying connection pool. deferred in main
// after OpenDatabase returns successfully.
func (database *Database) CloseDatabase() error {
	return database.connection.Close()
}
