package datafile

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/sqlite-explorer/internal/library/errs"
)

func setupExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, *Manager, *memoryRecorder, string) {
	t.Helper()
	path := createDataFile(t, "shop.db",
		`CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, avatar BLOB)`,
		`INSERT INTO users (name, avatar) VALUES ('alice', x'00010203'), ('bob', NULL)`,
	)

	m := NewManager(nil, nil)
	_, err := m.Open(context.Background(), path, "shop.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	rec := &memoryRecorder{}
	e, err := NewExecutor(m, rec, opts...)
	require.NoError(t, err)
	return e, m, rec, path
}

func TestRunRead(t *testing.T) {
	e, _, rec, _ := setupExecutor(t)

	out, err := e.Run(context.Background(), "  SeLeCt name, id, avatar FROM users ORDER BY id")
	require.NoError(t, err)
	require.Equal(t, KindRead, out.Kind)
	require.Equal(t, []string{"name", "id", "avatar"}, out.Columns)
	require.Len(t, out.Rows, 2)

	raw, err := json.Marshal(out.Rows[0])
	require.NoError(t, err)
	require.Equal(t, `{"name":"alice","id":1,"avatar":"<BLOB: 4 bytes>"}`, string(raw))

	entries := rec.all()
	require.Len(t, entries, 1)
	require.NoError(t, entries[0].Err)
	require.Equal(t, "shop.db", entries[0].DatabaseName)
}

func TestRunEmptyReadHasNoColumns(t *testing.T) {
	e, _, _, _ := setupExecutor(t)

	out, err := e.Run(context.Background(), "SELECT * FROM users WHERE id < 0")
	require.NoError(t, err)
	require.Empty(t, out.Columns)
	require.NotNil(t, out.Columns)
	require.Empty(t, out.Rows)
}

func TestRunWriteRefreshesSummary(t *testing.T) {
	e, m, rec, _ := setupExecutor(t)
	ctx := context.Background()

	out, err := e.Run(ctx, "insert into users (name) values ('carol')")
	require.NoError(t, err)
	require.Equal(t, KindWrite, out.Kind)
	require.Equal(t, int64(1), out.Changes)
	require.Equal(t, int64(3), out.LastInsertID)

	_, err = e.Run(ctx, "CREATE TABLE orders (id INTEGER)")
	require.NoError(t, err)

	sum, err := m.CurrentSummary()
	require.NoError(t, err)
	require.Equal(t, []string{"orders", "users"}, sum.Tables)
	require.Len(t, rec.all(), 2)
}

func TestRunFailureIsRecorded(t *testing.T) {
	e, _, rec, _ := setupExecutor(t)

	out, err := e.Run(context.Background(), "SELECT * FROM missing_table")
	require.Nil(t, out)
	require.True(t, errs.IsCode(err, errs.CodeExecution))

	typed, ok := errs.AsError(err)
	require.True(t, ok)
	require.Contains(t, typed.Details, "no such table")

	entries := rec.all()
	require.Len(t, entries, 1)
	require.Error(t, entries[0].Err)
	require.NotEmpty(t, entries[0].Err.Error())
}

func TestRunWithoutConnection(t *testing.T) {
	rec := &memoryRecorder{}
	e, err := NewExecutor(NewManager(nil, nil), rec)
	require.NoError(t, err)

	_, err = e.Run(context.Background(), "select 1")
	require.True(t, errs.IsCode(err, errs.CodeNoConnection))
	require.Empty(t, rec.all(), "nothing executed, nothing recorded")

	_, err = e.Run(context.Background(), "   ")
	require.True(t, errs.IsCode(err, errs.CodeValidation))
}

func TestRunIgnoresEmptyTrailingStatements(t *testing.T) {
	e, _, rec, _ := setupExecutor(t)
	ctx := context.Background()

	for _, query := range []string{
		"SELECT name FROM users ORDER BY id;;",
		"SELECT name FROM users ORDER BY id; -- note",
		"SELECT name FROM users ORDER BY id; /* c */",
	} {
		out, err := e.Run(ctx, query)
		require.NoError(t, err, query)
		require.Equal(t, KindRead, out.Kind, query)
		require.Equal(t, []string{"name"}, out.Columns, query)
		require.Len(t, out.Rows, 2, query)
	}

	out, err := e.Run(ctx, "insert into users (name) values ('carol'); -- done")
	require.NoError(t, err)
	require.Equal(t, KindWrite, out.Kind)
	require.Equal(t, int64(1), out.Changes)

	entries := rec.all()
	require.Len(t, entries, 4)
	require.Equal(t, "SELECT name FROM users ORDER BY id; -- note", entries[1].Query,
		"history keeps the submitted text")
}

func TestRunRejectsInputWithoutStatements(t *testing.T) {
	e, _, rec, path := setupExecutor(t)
	ctx := context.Background()

	for _, query := range []string{";", " ; ;", "-- c", "/* only */"} {
		_, err := e.Run(ctx, query)
		require.True(t, errs.IsCode(err, errs.CodeValidation), query)

		_, err = e.RunOn(ctx, path, "shop.db", query)
		require.True(t, errs.IsCode(err, errs.CodeValidation), query)
	}
	require.Empty(t, rec.all())
}

func TestRunOnDoesNotTouchManager(t *testing.T) {
	rec := &memoryRecorder{}
	m := NewManager(nil, nil)
	e, err := NewExecutor(m, rec)
	require.NoError(t, err)

	path := createDataFile(t, "other.db", `CREATE TABLE t (v TEXT)`, `INSERT INTO t VALUES ('x')`)
	out, err := e.RunOn(context.Background(), path, "other.db", "select v from t")
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	v, ok := out.Rows[0].Get("v")
	require.True(t, ok)
	require.Equal(t, "x", v)
	require.False(t, m.IsOpen())
	require.Len(t, rec.all(), 1)

	_, err = e.RunOn(context.Background(), filepath.Join(t.TempDir(), "nope.db"), "nope.db", "select 1")
	require.True(t, errs.IsCode(err, errs.CodeNotFound))
}

func TestRunArchivesReads(t *testing.T) {
	archiver, err := NewArchiver(filepath.Join(t.TempDir(), "results"))
	require.NoError(t, err)
	e, _, rec, _ := setupExecutor(t, WithArchiver(archiver))

	out, err := e.Run(context.Background(), "select id, name from users order by id")
	require.NoError(t, err)
	require.NotEmpty(t, out.ResultsPath)
	require.Equal(t, out.ResultsPath, rec.all()[0].ResultsPath)

	doc, err := archiver.Load(out.ResultsPath)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, doc.Columns)
	require.Len(t, doc.Rows, 2)
	require.Equal(t, "bob", doc.Rows[1]["name"])

	_, err = archiver.Load("/etc/passwd")
	require.True(t, errs.IsCode(err, errs.CodeValidation))
}

func TestCatalogInvalidatedAfterWrite(t *testing.T) {
	catalog := NewCatalog(DefaultCatalogTTL, nil)
	e, _, _, path := setupExecutor(t, WithCatalog(catalog))
	ctx := context.Background()

	tables, err := catalog.Tables(ctx, path)
	require.NoError(t, err)
	require.Equal(t, []string{"users"}, tables)

	_, err = e.Run(ctx, "CREATE TABLE audit (id INTEGER)")
	require.NoError(t, err)

	tables, err = catalog.Tables(ctx, path)
	require.NoError(t, err)
	require.Equal(t, []string{"audit", "users"}, tables)
}
