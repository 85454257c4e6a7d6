package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS report_runs (
    id TEXT PRIMARY KEY,
    installation_id TEXT NOT NULL,
    source TEXT NOT NULL,
    source_name TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    period_key TEXT,
    raw_samples INTEGER,
    grid_samples INTEGER,
    warnings INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_report_runs_started ON report_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_report_runs_installation ON report_runs(installation_id, started_at);

CREATE TABLE IF NOT EXISTS reports (
    installation_id TEXT NOT NULL,
    period_key TEXT NOT NULL,
    installation_name TEXT NOT NULL,
    period TEXT NOT NULL,
    run_id TEXT NOT NULL,
    metrics_json TEXT NOT NULL,
    quality_flags TEXT,
    generated_at DATETIME NOT NULL,
    PRIMARY KEY (installation_id, period_key)
);

CREATE TABLE IF NOT EXISTS episodes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    installation_id TEXT NOT NULL,
    period_key TEXT NOT NULL,
    subsystem TEXT NOT NULL,
    channel TEXT NOT NULL,
    start_at DATETIME NOT NULL,
    end_at DATETIME NOT NULL,
    duration_seconds INTEGER NOT NULL,
    unterminated BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_episodes_report ON episodes(installation_id, period_key);
`,
	},
	{
		Version:     2,
		Description: "Archive raw export files",
		SQL: `
CREATE TABLE IF NOT EXISTS raw_inputs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    installation_id TEXT NOT NULL,
    source TEXT NOT NULL,
    name TEXT NOT NULL,
    fetched_at DATETIME NOT NULL,
    size_bytes INTEGER NOT NULL,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_raw_inputs_fetched ON raw_inputs(fetched_at);

ALTER TABLE report_runs ADD COLUMN raw_input_id INTEGER REFERENCES raw_inputs(id);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
