// Package kv is a string key-value store on a SQL table, used for user preferences.
package kv

import (
	"context"
	"database/sql"
	"regexp"
	"sort"
	"time"

	errors "github.com/Laisky/errors/v2"
)

var (
	_ Interface = new(Kv)

	regexpKey       = regexp.MustCompile(`^[a-zA-Z0-9_.\-]{1,128}$`)
	regexpTableName = regexp.MustCompile(`^[a-zA-Z0-9_]{1,64}$`)

	// ErrKeyNotFound is returned by Get when the key does not exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrInvalidKey is returned when a key does not match the allowed charset.
	ErrInvalidKey = errors.New("invalid key")
)

// Item is one stored preference.
type Item struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Interface is a kv interface
type Interface interface {
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, items map[string]string) error
	Get(ctx context.Context, key string) (*Item, error)
	List(ctx context.Context) ([]Item, error)
	Del(ctx context.Context, key string) error
}

// Kv stores items in a single table, writing an existing key overwrites it.
type Kv struct {
	opt *option
	db  *sql.DB
}

type option struct {
	tableName string
	now       func() time.Time
}

// Option is a function that configures the kv
type Option func(*option) error

func applyOpts(opts ...Option) (*option, error) {
	o := &option{
		tableName: "user_preferences",
		now:       time.Now,
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return o, nil
}

// WithTableName sets the backing table name
func WithTableName(tableName string) Option {
	return func(o *option) error {
		if !regexpTableName.MatchString(tableName) {
			return errors.Errorf("invalid table name: %s", tableName)
		}
		o.tableName = tableName
		return nil
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(o *option) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		o.now = now
		return nil
	}
}

// NewKv create a new kv and make sure its table exists
func NewKv(db *sql.DB, opts ...Option) (*Kv, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}

	opt, err := applyOpts(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "apply opts")
	}

	kv := &Kv{
		opt: opt,
		db:  db,
	}

	if err := kv.setup(); err != nil {
		return nil, errors.Wrap(err, "setup kv")
	}

	return kv, nil
}

func (kv *Kv) setup() error {
	stmt := `
CREATE TABLE IF NOT EXISTS ` + kv.opt.tableName + ` (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  key TEXT NOT NULL UNIQUE,
  value TEXT NOT NULL,
  updated_at TIMESTAMP NOT NULL
)`

	if _, err := kv.db.Exec(stmt); err != nil {
		return errors.Wrap(err, "create kv table")
	}

	return nil
}

func (kv *Kv) validKey(key string) error {
	if !regexpKey.MatchString(key) {
		return errors.Wrapf(ErrInvalidKey, "key %q", key)
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (kv *Kv) upsert(ctx context.Context, db execer, key, value string) error {
	if err := kv.validKey(key); err != nil {
		return err
	}

	stmt := `
INSERT INTO ` + kv.opt.tableName + ` (key, value, updated_at)
VALUES (?, ?, ?)
ON CONFLICT(key)
DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	if _, err := db.ExecContext(ctx, stmt, key, value, kv.opt.now().UTC()); err != nil {
		return errors.Wrapf(err, "upsert kv item %s", key)
	}

	return nil
}

// Set stores value under key, replacing any previous value.
func (kv *Kv) Set(ctx context.Context, key, value string) error {
	return kv.upsert(ctx, kv.db, key, value)
}

// SetMany writes all items in one transaction.
func (kv *Kv) SetMany(ctx context.Context, items map[string]string) (err error) {
	keys := make([]string, 0, len(items))
	for k := range items {
		if err = kv.validKey(k); err != nil {
			return err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tx, err := kv.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, k := range keys {
		if err = kv.upsert(ctx, tx, k, items[k]); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// Get retrieves one item.
func (kv *Kv) Get(ctx context.Context, key string) (*Item, error) {
	var doc Item
	stmt := `SELECT key, value, updated_at FROM ` + kv.opt.tableName + ` WHERE key = ? LIMIT 1`
	err := kv.db.QueryRowContext(ctx, stmt, key).Scan(&doc.Key, &doc.Value, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrKeyNotFound, "key %s", key)
		}
		return nil, errors.Wrap(err, "failed to get key")
	}

	return &doc, nil
}

// List returns all items ordered by key.
func (kv *Kv) List(ctx context.Context) ([]Item, error) {
	stmt := `SELECT key, value, updated_at FROM ` + kv.opt.tableName + ` ORDER BY key ASC`
	rows, err := kv.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, errors.Wrap(err, "list kv items")
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		var doc Item
		if err := rows.Scan(&doc.Key, &doc.Value, &doc.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan kv item")
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate kv items")
	}

	return items, nil
}

// Del removes the key from the store, missing keys are ignored.
func (kv *Kv) Del(ctx context.Context, key string) error {
	stmt := `DELETE FROM ` + kv.opt.tableName + ` WHERE key = ?`
	if _, err := kv.db.ExecContext(ctx, stmt, key); err != nil {
		return errors.Wrap(err, "failed to delete key")
	}
	return nil
}
