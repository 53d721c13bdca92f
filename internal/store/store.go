// Package store persists finished runs and persona profiles in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"quill/internal/shared/logging"
)

// ErrNotFound is returned when a record does not exist for the caller.
var ErrNotFound = errors.New("record not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    caller_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    topic TEXT NOT NULL,
    researcher_goal TEXT,
    researcher_backstory TEXT,
    writer_goal TEXT,
    writer_backstory TEXT,
    editor_goal TEXT,
    editor_backstory TEXT,
    final_output TEXT NOT NULL,
    outputs_json TEXT,
    detection_json TEXT,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_caller ON runs (caller_id, id DESC);

CREATE TABLE IF NOT EXISTS persona_profiles (
    id TEXT PRIMARY KEY,
    caller_id TEXT NOT NULL,
    source_type TEXT,
    source_value TEXT,
    role TEXT,
    tone TEXT,
    style TEXT,
    profile_json TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_persona_profiles_caller ON persona_profiles (caller_id, is_active);
`

// Store is a SQLite-backed record store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger logging.Logger
	now    func() time.Time
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logging.NewComponentLogger("Store"), now: time.Now}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func newID() string {
	return strings.ToLower(ulid.Make().String())
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
