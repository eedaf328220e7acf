// Package sqlite implements an embedded case store on SQLite using
// modernc.org/sqlite through database/sql. Writes are serialized on a single
// connection, which also keeps ":memory:" databases coherent.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"amcache/internal/casestore/sqlstore"
)

// Config holds SQLite case store configuration.
type Config struct {
	// DSN is a file path or URI, e.g. "case.db" or "file:case.db?_pragma=busy_timeout(5000)".
	DSN string
}

// NewStore opens (creating if needed) the case database and applies the
// schema. It returns the store and a close function.
func NewStore(ctx context.Context, cfg Config) (*sqlstore.Store, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	// Ignore error if the driver build lacks FK support.
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")

	s := sqlstore.New(db, Dialect{})
	if err := s.EnsureSchema(ctx); err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// Dialect is the SQLite sqlstore.Dialect.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) InsertReturningID(table string, cols []string) (string, bool) {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), sqlstore.Placeholders(Dialect{}, len(cols))), false
}

// IsUniqueViolation matches SQLITE_CONSTRAINT_UNIQUE and
// SQLITE_CONSTRAINT_PRIMARYKEY extended result codes.
func (Dialect) IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func (Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS artifact_types (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  description TEXT NOT NULL DEFAULT ''
);`,
		`CREATE TABLE IF NOT EXISTS attribute_types (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  value_type TEXT NOT NULL,
  label TEXT NOT NULL DEFAULT ''
);`,
		`CREATE TABLE IF NOT EXISTS artifacts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  artifact_type_id INTEGER NOT NULL REFERENCES artifact_types(id),
  owner_id INTEGER NOT NULL,
  owner_name TEXT NOT NULL DEFAULT '',
  run_id TEXT NOT NULL DEFAULT '',
  row_hash INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_type ON artifacts(artifact_type_id);`,
		`CREATE TABLE IF NOT EXISTS artifact_attributes (
  artifact_id INTEGER NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
  attribute_type_id INTEGER NOT NULL REFERENCES attribute_types(id),
  ordinal INTEGER NOT NULL,
  source TEXT NOT NULL DEFAULT '',
  value_text TEXT,
  value_int64 INTEGER,
  PRIMARY KEY (artifact_id, ordinal)
);`,
		`CREATE TABLE IF NOT EXISTS ingest_messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  module TEXT NOT NULL,
  subject TEXT NOT NULL,
  detail TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);`,
	}
}
