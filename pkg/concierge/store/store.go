// Package store implements SQLite persistence for Concierge: tasks,
// task assignees, dashboard instances and seen-feed-item markers.
// The store is the single source of truth for all of them; every
// operation is a single statement or a single transaction.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite database.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at path and applies migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		path = "./data/concierge.db"
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{DB: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

// migrate applies the schema. The base schema is idempotent via
// IF NOT EXISTS; later additions run through ensureColumn so they no-op
// when the column is already present.
func (s *Store) migrate() error {
	if _, err := s.DB.Exec(schema()); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Columns added after the initial schema shipped.
	additions := []struct {
		table, column, ddl string
	}{
		{"tasks", "completed_by", "completed_by TEXT DEFAULT ''"},
		{"tasks", "own_topic", "own_topic INTEGER DEFAULT 0"},
		{"dashboards", "params", "params TEXT DEFAULT ''"},
	}
	for _, a := range additions {
		if err := s.ensureColumn(a.table, a.column, a.ddl); err != nil {
			return err
		}
	}
	return nil
}

// ensureColumn adds a column if it is missing. Re-running is a no-op.
func (s *Store) ensureColumn(table, column, ddl string) error {
	rows, err := s.DB.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("scan table info: %w", err)
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := s.DB.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, ddl)); err != nil {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	s.logger.Info("schema column added", "table", table, "column", column)
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// schema returns the base DDL.
func schema() string {
	return `
-- Promoted tasks
CREATE TABLE IF NOT EXISTS tasks (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    content           TEXT NOT NULL,
    creator_name      TEXT NOT NULL,
    creator_id        INTEGER NOT NULL,
    status            TEXT NOT NULL DEFAULT 'open',
    source_channel    TEXT NOT NULL,
    source_topic      TEXT NOT NULL,
    source_message_id INTEGER NOT NULL UNIQUE,
    card_channel      TEXT DEFAULT '',
    card_topic        TEXT DEFAULT '',
    card_message_id   INTEGER,
    created_at        TEXT NOT NULL,
    completed_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_card ON tasks(card_message_id);
CREATE INDEX IF NOT EXISTS idx_tasks_creator ON tasks(creator_name);

-- Task assignees
CREATE TABLE IF NOT EXISTS task_assignees (
    task_id     INTEGER NOT NULL,
    user_name   TEXT NOT NULL,
    assigned_at TEXT NOT NULL,
    UNIQUE(task_id, user_name),
    FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_assignees_user ON task_assignees(user_name);

-- Dashboard instances
CREATE TABLE IF NOT EXISTS dashboards (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    name             TEXT NOT NULL,
    channel          TEXT NOT NULL,
    topic            TEXT NOT NULL,
    message_id       INTEGER NOT NULL,
    interval_seconds INTEGER NOT NULL,
    bootstrapped     INTEGER NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL,
    UNIQUE(name, channel, topic)
);

-- Seen feed items (dedup markers)
CREATE TABLE IF NOT EXISTS feed_items (
    dashboard_id INTEGER NOT NULL,
    guid         TEXT NOT NULL,
    UNIQUE(dashboard_id, guid),
    FOREIGN KEY (dashboard_id) REFERENCES dashboards(id) ON DELETE CASCADE
);
`
}
