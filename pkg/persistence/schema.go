package persistence

import (
	"database/sql"
	"errors"
	"fmt"
)

// CurrentSchemaVersion is the schema version this package writes.
const CurrentSchemaVersion = 1

var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id     TEXT PRIMARY KEY,
		started_at     DATETIME NOT NULL,
		ended_at       DATETIME,
		status         TEXT NOT NULL,
		final_phase    TEXT,
		iterations     INTEGER NOT NULL DEFAULT 0,
		max_iterations INTEGER NOT NULL DEFAULT 0,
		project_name   TEXT,
		output_dir     TEXT,
		spec_text      TEXT,
		config_json    TEXT,
		report_json    TEXT,
		error          TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS iterations (
		session_id     TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		seq            INTEGER NOT NULL,
		iteration      INTEGER NOT NULL,
		passed         INTEGER NOT NULL,
		failing_json   TEXT NOT NULL,
		raw_output     TEXT,
		duration_ms    INTEGER NOT NULL DEFAULT 0,
		exchanges_json TEXT,
		recorded_at    DATETIME NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS artifacts (
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		path       TEXT NOT NULL,
		module     TEXT NOT NULL,
		kind       TEXT NOT NULL,
		stage      TEXT NOT NULL,
		revision   INTEGER NOT NULL,
		content    TEXT NOT NULL,
		PRIMARY KEY (session_id, path)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at)`,
}

func initializeSchema(db *sql.DB) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, CurrentSchemaVersion)
	}
	if version == CurrentSchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range schemaTables {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
		}
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// GetSchemaVersion returns the schema version recorded in db, or 0.
func GetSchemaVersion(db *sql.DB) (int, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("schema version scan error: %w", err)
	}
	return version, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
