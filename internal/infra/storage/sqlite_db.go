package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// memoryDSN opens a private in-memory database.
const memoryDSN = ":memory:"

// InitSQLite opens the SQLite database at dbPath and creates the schema for the
// event log and snapshots. ":memory:" opens an in-memory database.
func InitSQLite(dbPath string) (*sql.DB, error) {
	if dbPath != memoryDSN {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := dbPath
	if dbPath != memoryDSN {
		// per-connection pragmas, so a larger pool waits on the writer lock
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite serialises writers; one connection also keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := createSchemas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schemas: %w", err)
	}

	return db, nil
}

// TunePool sizes the connection pool of a database opened by InitSQLite. An
// in-memory database stays on one connection, since each connection would
// open a database of its own.
func TunePool(db *sql.DB, dbPath string, maxOpen, maxIdle int) {
	if dbPath == memoryDSN || maxOpen < 1 {
		maxOpen, maxIdle = 1, 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(maxIdle, maxOpen))
}

func createSchemas(db *sql.DB) error {
	schemas := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS events (
			game_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			visibility TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			team TEXT NOT NULL DEFAULT '',
			game_day INTEGER NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (game_id, sequence)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			game_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (game_id, sequence)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(game_id, event_type);`,
		`CREATE INDEX IF NOT EXISTS idx_events_actor_id ON events(game_id, actor_id);`,
	}

	for _, query := range schemas {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}
