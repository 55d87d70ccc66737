package metadata

import (
	"context"
	"database/sql"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/Laisky/sqlite-explorer/internal/datafile"
	"github.com/Laisky/sqlite-explorer/internal/library/errs"
)

// RegisterInput describes a freshly scanned data file.
type RegisterInput struct {
	Name   string
	Path   string
	Size   int64
	Tables []datafile.TableInfo
	// IsFavorite and Notes overwrite stored values only when non-nil.
	IsFavorite *bool
	Notes      *string
}

// Register upserts the record keyed by path and replaces its table catalog,
// all inside one transaction.
func (s *Store) Register(ctx context.Context, in RegisterInput) (*Record, error) {
	if strings.TrimSpace(in.Path) == "" || strings.TrimSpace(in.Name) == "" {
		return nil, errs.New(errs.CodeValidation, "name and path are required")
	}

	schemaCache, err := marshalSchema(in.Tables)
	if err != nil {
		return nil, err
	}

	favorite := false
	if in.IsFavorite != nil {
		favorite = *in.IsFavorite
	}

	var rec *Record
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO database_metadata (name, path, size, table_count, is_favorite, notes, schema_cache,
  last_accessed, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
  size = excluded.size,
  table_count = excluded.table_count,
  schema_cache = excluded.schema_cache,
  last_accessed = excluded.last_accessed,
  updated_at = excluded.updated_at,
  is_favorite = CASE WHEN ? THEN excluded.is_favorite ELSE database_metadata.is_favorite END,
  notes = CASE WHEN ? THEN excluded.notes ELSE database_metadata.notes END`,
			in.Name, in.Path, in.Size, len(in.Tables), favorite, in.Notes, schemaCache,
			now, now, now,
			in.IsFavorite != nil, in.Notes != nil,
		); err != nil {
			return errors.Wrap(err, "upsert database metadata")
		}

		var id int64
		if err := tx.QueryRowContext(ctx,
			`SELECT id FROM database_metadata WHERE path = ?`, in.Path).Scan(&id); err != nil {
			return errors.Wrap(err, "lookup upserted id")
		}

		if err := replaceCatalog(ctx, tx, id, in.Tables); err != nil {
			return err
		}

		var err error
		rec, err = s.findByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "register %s", in.Path)
	}

	s.logger.Info("database registered",
		zap.Int64("id", rec.ID),
		zap.String("path", rec.Path),
		zap.Int64("size", rec.Size),
		zap.Int("table_count", rec.TableCount))
	return rec, nil
}

func replaceCatalog(ctx context.Context, tx *sql.Tx, databaseID int64, tables []datafile.TableInfo) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM database_tables WHERE database_id = ?`, databaseID); err != nil {
		return errors.Wrap(err, "clear table catalog")
	}

	for _, table := range tables {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO database_tables (database_id, name, row_count) VALUES (?, ?, ?)`,
			databaseID, table.Name, table.RowCount)
		if err != nil {
			return errors.Wrapf(err, "insert table %s", table.Name)
		}
		tableID, err := res.LastInsertId()
		if err != nil {
			return errors.Wrap(err, "read table id")
		}

		for _, col := range table.Columns {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO database_columns (table_id, cid, name, type, not_null, default_value, primary_key)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
				tableID, col.CID, col.Name, col.Type, col.NotNull, col.DefaultValue, col.PrimaryKey,
			); err != nil {
				return errors.Wrapf(err, "insert column %s.%s", table.Name, col.Name)
			}
		}
	}

	return nil
}

// Tables returns the stored catalog of a record, ordered by table name and column id.
func (s *Store) Tables(ctx context.Context, databaseID int64) ([]datafile.TableInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.name, t.row_count, c.cid, c.name, c.type, c.not_null, c.default_value, c.primary_key
FROM database_tables t
LEFT JOIN database_columns c ON c.table_id = t.id
WHERE t.database_id = ?
ORDER BY t.name, c.cid`, databaseID)
	if err != nil {
		return nil, errors.Wrapf(err, "load catalog of database %d", databaseID)
	}
	defer rows.Close()

	tables := make([]datafile.TableInfo, 0)
	lastTableID := int64(-1)
	for rows.Next() {
		var (
			tableID  int64
			name     string
			rowCount int64
			cid      sql.NullInt64
			colName  sql.NullString
			colType  sql.NullString
			notNull  sql.NullBool
			dflt     sql.NullString
			pk       sql.NullBool
		)
		if err := rows.Scan(&tableID, &name, &rowCount, &cid, &colName, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, errors.Wrap(err, "scan catalog row")
		}

		if tableID != lastTableID {
			tables = append(tables, datafile.TableInfo{
				Name:     name,
				RowCount: rowCount,
				Columns:  make([]datafile.ColumnInfo, 0),
			})
			lastTableID = tableID
		}
		if !colName.Valid {
			continue
		}

		col := datafile.ColumnInfo{
			CID:        int(cid.Int64),
			Name:       colName.String,
			Type:       colType.String,
			NotNull:    notNull.Bool,
			PrimaryKey: pk.Bool,
		}
		if dflt.Valid {
			v := dflt.String
			col.DefaultValue = &v
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate catalog rows")
	}

	return tables, nil
}
