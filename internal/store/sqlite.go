package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the launcher's SQLite-backed settings and history store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// New opens the database at dbPath and runs migrations.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases shared across calls
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// DefaultSettings are seeded on first use.
func DefaultSettings() map[string]map[string]any {
	return map[string]map[string]any{
		SectionGame: {
			KeyFirstStart: true,
			KeyAutoJoin:   true,
			KeyRAMJVMArgs: []string{"-Xms2048M", "-Xmx2048M"},
			KeyAdditionalJVMArgs: []string{
				"-XX:+UnlockExperimentalVMOptions",
				"-XX:+UseG1GC",
				"-XX:G1NewSizePercent=20",
				"-XX:G1ReservePercent=20",
				"-XX:MaxGCPauseMillis=50",
				"-XX:G1HeapRegionSize=32M",
			},
		},
		SectionUser: {
			KeyEmail: "",
		},
	}
}

// SeedDefaults stores DefaultSettings without overwriting existing keys.
func (s *Store) SeedDefaults() error {
	seeded := 0
	for section, keys := range DefaultSettings() {
		for key, value := range keys {
			raw, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encode default %s.%s: %w", section, key, err)
			}
			res, err := s.db.Exec(
				`INSERT OR IGNORE INTO settings (section, key, value, updated_at) VALUES (?, ?, ?, ?)`,
				section, key, string(raw), s.now(),
			)
			if err != nil {
				return fmt.Errorf("seed %s.%s: %w", section, key, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				seeded++
			}
		}
	}
	if seeded > 0 {
		s.logger.Info("seeded default settings", "count", seeded)
	}
	return nil
}

// Get decodes the value of section.key into dst. found is false when the key
// does not exist; dst is left untouched then.
func (s *Store) Get(section, key string, dst any) (found bool, err error) {
	var raw string
	err = s.db.QueryRow(`SELECT value FROM settings WHERE section = ? AND key = ?`, section, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query setting %s.%s: %w", section, key, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return true, fmt.Errorf("decode setting %s.%s: %w", section, key, err)
	}
	return true, nil
}

// GetRaw returns the stored JSON text of section.key.
func (s *Store) GetRaw(section, key string) (string, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE section = ? AND key = ?`, section, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query setting %s.%s: %w", section, key, err)
	}
	return raw, true, nil
}

// Set stores value as JSON under section.key.
func (s *Store) Set(section, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s.%s: %w", section, key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO settings (section, key, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(section, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, section, key, string(raw), s.now())
	if err != nil {
		return fmt.Errorf("failed to store setting %s.%s: %w", section, key, err)
	}
	return nil
}

// Delete removes section.key. Missing keys are not an error.
func (s *Store) Delete(section, key string) error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE section = ? AND key = ?`, section, key); err != nil {
		return fmt.Errorf("failed to delete setting %s.%s: %w", section, key, err)
	}
	return nil
}

// ListSettings returns every key in section, or all keys when section is empty.
func (s *Store) ListSettings(section string) ([]Setting, error) {
	query := `SELECT section, key, value, updated_at FROM settings`
	var args []any
	if section != "" {
		query += ` WHERE section = ?`
		args = append(args, section)
	}
	query += ` ORDER BY section, key`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var st Setting
		if err := rows.Scan(&st.Section, &st.Key, &st.Value, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
