// Package store opens the control database and owns its schema.
//
// The control database keeps metadata about uploaded data files, the query
// history, saved queries and user preferences. It is separate from the data
// files themselves, which are only ever touched through the datafile package.
package store

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	errors "github.com/Laisky/errors/v2"
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver used for every SQLite handle.
const DriverName = "sqlite3"

// DBTX is the subset of *sql.DB and *sql.Tx the stores need.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS database_metadata (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  path TEXT NOT NULL UNIQUE,
  size INTEGER NOT NULL DEFAULT 0,
  table_count INTEGER NOT NULL DEFAULT 0,
  is_favorite INTEGER NOT NULL DEFAULT 0,
  notes TEXT,
  schema_cache TEXT,
  last_accessed TIMESTAMP,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS database_tables (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  database_id INTEGER NOT NULL REFERENCES database_metadata(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  row_count INTEGER NOT NULL DEFAULT 0,
  UNIQUE(database_id, name)
)`,
	`CREATE TABLE IF NOT EXISTS database_columns (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  table_id INTEGER NOT NULL REFERENCES database_tables(id) ON DELETE CASCADE,
  cid INTEGER NOT NULL,
  name TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT '',
  not_null INTEGER NOT NULL DEFAULT 0,
  default_value TEXT,
  primary_key INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS query_history (
  id TEXT PRIMARY KEY,
  query TEXT NOT NULL,
  normalized_query TEXT NOT NULL,
  database_name TEXT NOT NULL DEFAULT '',
  database_path TEXT NOT NULL DEFAULT '',
  executed_at TIMESTAMP NOT NULL,
  execution_time_ms INTEGER NOT NULL DEFAULT 0,
  success INTEGER NOT NULL,
  error_message TEXT,
  results_path TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_query_history_executed_at ON query_history(executed_at)`,
	`CREATE INDEX IF NOT EXISTS idx_query_history_execution_time ON query_history(execution_time_ms)`,
	`CREATE TABLE IF NOT EXISTS saved_queries (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  description TEXT,
  query TEXT NOT NULL,
  database_path TEXT,
  tags TEXT NOT NULL DEFAULT '[]',
  favorite INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS user_preferences (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  key TEXT NOT NULL UNIQUE,
  value TEXT NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`,
}

var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// FileURI builds a sqlite "file:" URI for path. Characters that would end the
// path part of the URI are percent-encoded.
func FileURI(path string, params url.Values) string {
	return "file:" + uriPathEscaper.Replace(path) + "?" + params.Encode()
}

// ControlDSN builds the DSN used for the control database.
func ControlDSN(path string) string {
	q := url.Values{}
	q.Set("_foreign_keys", "1")
	q.Set("_busy_timeout", "5000")
	q.Set("_journal_mode", "WAL")
	return FileURI(path, q)
}

// Open opens (creating if needed) the control database at path and migrates it.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create control db dir for %s", path)
	}

	db, err := sql.Open(DriverName, ControlDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "open control db")
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping control db")
	}

	if err = Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, errors.WithStack(err)
	}

	return db, nil
}

// Migrate creates every control table that does not exist yet.
func Migrate(ctx context.Context, db DBTX) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate control db")
		}
	}

	return nil
}
