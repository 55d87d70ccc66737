// Package metadata is the durable catalog of uploaded data files.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/sqlite-explorer/internal/datafile"
	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/internal/store"
	"github.com/Laisky/sqlite-explorer/library/log"
)

// Clock returns the current UTC time. Tests can replace it for determinism.
type Clock func() time.Time

// Store persists Records and their table/column catalog in the control database.
type Store struct {
	db     *sql.DB
	logger logSDK.Logger
	clock  Clock
}

const recordColumns = `id, name, path, size, table_count, is_favorite, notes, schema_cache,
  last_accessed, created_at, updated_at`

// NewStore constructs a Store and makes sure the control schema exists.
func NewStore(ctx context.Context, db *sql.DB, logger logSDK.Logger, clock Clock) (*Store, error) {
	if db == nil {
		return nil, errors.New("sql db is required")
	}
	if logger == nil {
		logger = log.Logger.Named("metadata_store")
	}
	if clock == nil {
		clock = func() time.Time {
			return time.Now().UTC()
		}
	}

	if err := store.Migrate(ctx, db); err != nil {
		return nil, errors.WithStack(err)
	}

	return &Store{db: db, logger: logger, clock: clock}, nil
}

func (s *Store) now() time.Time {
	return s.clock().UTC()
}

// withTx runs fn in a transaction, rolling back when fn or the commit fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn("rollback metadata transaction", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// Create inserts a new record and returns it as stored.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Record, error) {
	if strings.TrimSpace(in.Path) == "" || strings.TrimSpace(in.Name) == "" {
		return nil, errs.New(errs.CodeValidation, "name and path are required")
	}

	var rec *Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.ExecContext(ctx, `
INSERT INTO database_metadata (name, path, size, table_count, is_favorite, notes, last_accessed, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			in.Name, in.Path, in.Size, in.TableCount, in.IsFavorite, in.Notes, now, now, now)
		if err != nil {
			return errors.Wrap(err, "insert database metadata")
		}

		id, err := res.LastInsertId()
		if err != nil {
			return errors.Wrap(err, "read inserted id")
		}

		if rec, err = s.findByID(ctx, tx, id); err != nil {
			return err
		}
		if rec == nil {
			return errors.Errorf("database metadata %d vanished after insert", id)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create database metadata for %s", in.Path)
	}

	s.logger.Info("database metadata created",
		zap.Int64("id", rec.ID),
		zap.String("path", rec.Path))
	return rec, nil
}

// Update applies the supplied fields of patch and refreshes last_accessed.
func (s *Store) Update(ctx context.Context, id int64, patch Patch) (*Record, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, errs.New(errs.CodeValidation, "name cannot be empty")
		}
		sets = append(sets, "name = ?")
		args = append(args, name)
	}
	if patch.IsFavorite != nil {
		sets = append(sets, "is_favorite = ?")
		args = append(args, *patch.IsFavorite)
	}
	if patch.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *patch.Notes)
	}
	if patch.Size != nil {
		sets = append(sets, "size = ?")
		args = append(args, *patch.Size)
	}
	if patch.TableCount != nil {
		sets = append(sets, "table_count = ?")
		args = append(args, *patch.TableCount)
	}
	if patch.SchemaCache != nil {
		sets = append(sets, "schema_cache = ?")
		args = append(args, *patch.SchemaCache)
	}

	now := s.now()
	sets = append(sets, "last_accessed = ?", "updated_at = ?")
	args = append(args, now, now, id)

	var rec *Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE database_metadata SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return errors.Wrap(err, "update database metadata")
		}
		if n, err := res.RowsAffected(); err != nil {
			return errors.Wrap(err, "rows affected")
		} else if n == 0 {
			return errs.Newf(errs.CodeNotFound, "database %d not found", id)
		}

		rec, err = s.findByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "update database %d", id)
	}

	return rec, nil
}

// Touch refreshes last_accessed.
func (s *Store) Touch(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE database_metadata SET last_accessed = ? WHERE id = ?`, s.now(), id); err != nil {
		return errors.Wrapf(err, "touch database %d", id)
	}
	return nil
}

// FindByID returns the record or nil when it does not exist.
func (s *Store) FindByID(ctx context.Context, id int64) (*Record, error) {
	return s.findByID(ctx, s.db, id)
}

// FindByPath returns the record stored at path or nil when none exists.
func (s *Store) FindByPath(ctx context.Context, path string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM database_metadata WHERE path = ?`, path)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, errors.Wrapf(err, "find database by path %s", path)
	}
	return rec, nil
}

func (s *Store) findByID(ctx context.Context, db store.DBTX, id int64) (*Record, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM database_metadata WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		return nil, errors.Wrapf(err, "find database %d", id)
	}
	return rec, nil
}

// List returns every record, most recently accessed first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	return s.list(ctx, false)
}

// ListFavorites returns favorite records, most recently accessed first.
func (s *Store) ListFavorites(ctx context.Context) ([]Record, error) {
	return s.list(ctx, true)
}

func (s *Store) list(ctx context.Context, favoritesOnly bool) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM database_metadata`
	if favoritesOnly {
		query += ` WHERE is_favorite = 1`
	}
	query += ` ORDER BY last_accessed IS NULL, last_accessed DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list database metadata")
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan database metadata")
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate database metadata")
	}

	return records, nil
}

// Delete removes a record, its table and column rows cascade.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM database_metadata WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete database %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errs.Newf(errs.CodeNotFound, "database %d not found", id)
	}

	s.logger.Info("database metadata deleted", zap.Int64("id", id))
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec          Record
		isFavorite   bool
		notes        sql.NullString
		schemaCache  sql.NullString
		lastAccessed any
		createdAt    any
		updatedAt    any
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.Path, &rec.Size, &rec.TableCount, &isFavorite,
		&notes, &schemaCache, &lastAccessed, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.WithStack(err)
	}

	rec.IsFavorite = isFavorite
	if notes.Valid {
		v := notes.String
		rec.Notes = &v
	}
	if schemaCache.Valid {
		v := schemaCache.String
		rec.SchemaCache = &v
	}
	if rec.LastAccessed, err = store.ParseNullableTime(lastAccessed); err != nil {
		return nil, errors.Wrap(err, "parse last_accessed")
	}
	if rec.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}
	if rec.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrap(err, "parse updated_at")
	}

	return &rec, nil
}

func marshalSchema(tables []datafile.TableInfo) (string, error) {
	if tables == nil {
		tables = []datafile.TableInfo{}
	}
	raw, err := json.Marshal(tables)
	if err != nil {
		return "", errors.Wrap(err, "marshal schema cache")
	}
	return string(raw), nil
}
