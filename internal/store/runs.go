package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRun inserts a new install run.
func (s *Store) CreateRun(run *InstallRun) error {
	if run.ID == "" {
		return fmt.Errorf("install run id is required")
	}
	if run.Status == "" {
		run.Status = RunRunning
	}
	_, err := s.db.Exec(`
		INSERT INTO install_runs (
			id, started_at, ended_at, state, status, variant, version_id, files_synced, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, nullTime(run.EndedAt), run.State, run.Status,
		run.Variant, run.VersionID, run.FilesSynced, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to insert install run: %w", err)
	}
	return nil
}

// UpdateRun overwrites an existing install run by ID.
func (s *Store) UpdateRun(run *InstallRun) error {
	res, err := s.db.Exec(`
		UPDATE install_runs SET
			started_at = ?, ended_at = ?, state = ?, status = ?, variant = ?,
			version_id = ?, files_synced = ?, error_message = ?
		WHERE id = ?
	`, run.StartedAt, nullTime(run.EndedAt), run.State, run.Status, run.Variant,
		run.VersionID, run.FilesSynced, run.ErrorMessage, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update install run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("install run not found: %s", run.ID)
	}
	return nil
}

// GetRun returns one install run.
func (s *Store) GetRun(id string) (*InstallRun, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, ended_at, state, status, variant, version_id, files_synced, error_message
		FROM install_runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("install run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query install run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]InstallRun, error) {
	query := `
		SELECT id, started_at, ended_at, state, status, variant, version_id, files_synced, error_message
		FROM install_runs ORDER BY started_at DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query install runs: %w", err)
	}
	defer rows.Close()

	var runs []InstallRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan install run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating install runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*InstallRun, error) {
	var (
		run     InstallRun
		ended   sql.NullTime
		variant sql.NullString
		vid     sql.NullString
		msg     sql.NullString
	)
	if err := row.Scan(&run.ID, &run.StartedAt, &ended, &run.State, &run.Status,
		&variant, &vid, &run.FilesSynced, &msg); err != nil {
		return nil, err
	}
	run.EndedAt = ended.Time
	run.Variant = variant.String
	run.VersionID = vid.String
	run.ErrorMessage = msg.String
	return &run, nil
}

// RecordSyncedFile upserts a file written by content sync.
func (s *Store) RecordSyncedFile(f *SyncedFile) error {
	if f.SyncedAt.IsZero() {
		f.SyncedAt = s.now()
	}
	_, err := s.db.Exec(`
		INSERT INTO synced_files (path, sync_path, size, run_id, synced_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			sync_path = excluded.sync_path, size = excluded.size,
			run_id = excluded.run_id, synced_at = excluded.synced_at
	`, f.Path, f.SyncPath, f.Size, nullString(f.RunID), f.SyncedAt)
	if err != nil {
		return fmt.Errorf("failed to record synced file: %w", err)
	}
	return nil
}

// ForgetSyncedFile removes a file record, e.g. after sync deleted the file.
func (s *Store) ForgetSyncedFile(path string) error {
	if _, err := s.db.Exec(`DELETE FROM synced_files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to delete synced file: %w", err)
	}
	return nil
}

// ListSyncedFiles returns records for one sync path, or all when empty.
func (s *Store) ListSyncedFiles(syncPath string) ([]SyncedFile, error) {
	query := `SELECT path, sync_path, size, run_id, synced_at FROM synced_files`
	var args []any
	if syncPath != "" {
		query += ` WHERE sync_path = ?`
		args = append(args, syncPath)
	}
	query += ` ORDER BY path`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query synced files: %w", err)
	}
	defer rows.Close()

	var out []SyncedFile
	for rows.Next() {
		var (
			f     SyncedFile
			runID sql.NullString
		)
		if err := rows.Scan(&f.Path, &f.SyncPath, &f.Size, &runID, &f.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan synced file: %w", err)
		}
		f.RunID = runID.String
		out = append(out, f)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
