// Package sqlite provides SQLite-based persistent storage for Anuvruddhi.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/metrics"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS user_progress (
			user_id        TEXT PRIMARY KEY,
			xp             INTEGER NOT NULL DEFAULT 0 CHECK (xp >= 0),
			last_completed TEXT NOT NULL DEFAULT '',
			updated_at     INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS shown_milestones (
			user_id      TEXT NOT NULL,
			milestone_id TEXT NOT NULL,
			shown_at     INTEGER NOT NULL,
			PRIMARY KEY (user_id, milestone_id)
		)`,
		`CREATE TABLE IF NOT EXISTS task_records (
			user_id        TEXT NOT NULL,
			task_id        TEXT NOT NULL,
			name           TEXT NOT NULL DEFAULT '',
			completed      BOOLEAN NOT NULL DEFAULT 0,
			certified      BOOLEAN NOT NULL DEFAULT 0,
			completed_date TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (user_id, task_id)
		)`,
		`CREATE TABLE IF NOT EXISTS habit_streaks (
			user_id      TEXT NOT NULL,
			habit_id     TEXT NOT NULL,
			current_days INTEGER NOT NULL DEFAULT 0,
			longest_days INTEGER NOT NULL DEFAULT 0,
			last_date    INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, habit_id)
		)`,
		`CREATE TABLE IF NOT EXISTS certificates (
			user_id      TEXT NOT NULL,
			milestone_id TEXT NOT NULL,
			kind         TEXT NOT NULL,
			name         TEXT NOT NULL DEFAULT '',
			xp           INTEGER NOT NULL DEFAULT 0,
			date         TEXT NOT NULL DEFAULT '',
			issued_at    INTEGER NOT NULL,
			PRIMARY KEY (user_id, milestone_id)
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id      TEXT NOT NULL,
			milestone_id TEXT NOT NULL DEFAULT '',
			title        TEXT NOT NULL,
			body         TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			shown        BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications(user_id, shown)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// SetMeta stores a key-value pair in the meta table.
func (d *DB) SetMeta(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return storeErr("set_meta", err)
	}
	return nil
}

// GetMeta retrieves a value from the meta table. Missing keys return "".
func (d *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeErr("get_meta", err)
	}
	return value, nil
}

// storeErr wraps a driver error so callers can match domain.ErrStoreUnavailable.
func storeErr(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: sqlite %s: %w", domain.ErrStoreUnavailable, op, err)
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
