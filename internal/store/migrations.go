package store

import (
	"fmt"
)

// migrate applies every schema version newer than the recorded one.
func (s *Store) migrate() error {
	const createMigrations = `
		CREATE TABLE IF NOT EXISTS migrations (
			id INTEGER PRIMARY KEY,
			version INTEGER NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`
	if _, err := s.db.Exec(createMigrations); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	s.logger.Debug("current schema version", "version", current)

	migrations := []struct {
		version int
		sql     string
	}{
		{
			version: 1,
			sql: `
				CREATE TABLE settings (
					section TEXT NOT NULL,
					key TEXT NOT NULL,
					value TEXT NOT NULL,
					updated_at DATETIME NOT NULL,
					PRIMARY KEY(section, key)
				);

				CREATE TABLE install_runs (
					id TEXT PRIMARY KEY,
					started_at DATETIME NOT NULL,
					ended_at DATETIME,
					state TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'running',
					variant TEXT,
					version_id TEXT,
					files_synced INTEGER DEFAULT 0,
					error_message TEXT
				);
			`,
		},
		{
			version: 2,
			sql: `
				CREATE TABLE synced_files (
					path TEXT PRIMARY KEY,
					sync_path TEXT NOT NULL,
					size INTEGER DEFAULT 0,
					run_id TEXT,
					synced_at DATETIME NOT NULL,
					FOREIGN KEY(run_id) REFERENCES install_runs(id)
				);
			`,
		},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		s.logger.Info("running migration", "version", m.version)
		if err := s.runMigration(m.version, m.sql); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) runMigration(version int, sql string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(sql); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO migrations (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
