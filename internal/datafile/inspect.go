package datafile

import (
	"context"
	"database/sql"
	"net/url"
	"strings"

	errors "github.com/Laisky/errors/v2"

	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/internal/store"
)

// sqliteHeader is the magic string every SQLite 3 database file starts with.
const sqliteHeader = "SQLite format 3\x00"

// ColumnInfo describes one column as reported by PRAGMA table_info.
type ColumnInfo struct {
	CID          int     `json:"cid"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	NotNull      bool    `json:"notnull"`
	DefaultValue *string `json:"dflt_value"`
	PrimaryKey   bool    `json:"pk"`
}

// TableInfo is one user table with its columns.
type TableInfo struct {
	Name     string       `json:"name"`
	RowCount int64        `json:"row_count"`
	Columns  []ColumnInfo `json:"columns"`
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func dataDSN(path, mode string) string {
	q := url.Values{}
	q.Set("mode", mode)
	q.Set("_busy_timeout", "5000")
	return store.FileURI(path, q)
}

// OpenReadOnly opens the data file at path without write access.
func OpenReadOnly(path string) (*sql.DB, error) {
	db, err := sql.Open(store.DriverName, dataDSN(path, "ro"))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s read-only", path)
	}
	return db, nil
}

func openReadWrite(path string) (*sql.DB, error) {
	db, err := sql.Open(store.DriverName, dataDSN(path, "rw"))
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	// one handle keeps last_insert_rowid and changes() on the same connection
	db.SetMaxOpenConns(1)
	return db, nil
}

// HasSQLiteHeader reports whether head starts with the SQLite 3 magic string.
func HasSQLiteHeader(head []byte) bool {
	return len(head) >= len(sqliteHeader) && string(head[:len(sqliteHeader)]) == sqliteHeader
}

// ListTables returns user table names, excluding sqlite_ internals.
func ListTables(ctx context.Context, db queryer) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "query sqlite_master")
	}
	defer rows.Close()

	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan table name")
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate tables")
	}

	return tables, nil
}

// DescribeTable returns column metadata, NOT_FOUND when the table does not exist.
func DescribeTable(ctx context.Context, db queryer, table string) ([]ColumnInfo, error) {
	var exists int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&exists); err != nil {
		return nil, errors.Wrap(err, "lookup table")
	}
	if exists == 0 {
		return nil, errs.Newf(errs.CodeNotFound, "table %s not found", table)
	}

	rows, err := db.QueryContext(ctx, `SELECT cid, name, type, "notnull", dflt_value, pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, errors.Wrapf(err, "table info %s", table)
	}
	defer rows.Close()

	columns := make([]ColumnInfo, 0)
	for rows.Next() {
		var (
			col     ColumnInfo
			notNull int
			pk      int
			dflt    sql.NullString
		)
		if err := rows.Scan(&col.CID, &col.Name, &col.Type, &notNull, &dflt, &pk); err != nil {
			return nil, errors.Wrap(err, "scan column")
		}
		col.NotNull = notNull != 0
		col.PrimaryKey = pk != 0
		if dflt.Valid {
			v := dflt.String
			col.DefaultValue = &v
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate columns")
	}

	return columns, nil
}

// Inspect reads the full catalog: every user table, its columns and row count.
func Inspect(ctx context.Context, db queryer) ([]TableInfo, error) {
	names, err := ListTables(ctx, db)
	if err != nil {
		return nil, err
	}

	tables := make([]TableInfo, 0, len(names))
	for _, name := range names {
		cols, err := DescribeTable(ctx, db, name)
		if err != nil {
			return nil, errors.Wrapf(err, "describe %s", name)
		}

		info := TableInfo{Name: name, Columns: cols}
		if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+QuoteIdent(name)).Scan(&info.RowCount); err != nil {
			return nil, errors.Wrapf(err, "count rows of %s", name)
		}
		tables = append(tables, info)
	}

	return tables, nil
}

// QuoteIdent quotes a SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
