package metadata

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	errors "github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/sqlite-explorer/internal/datafile"
	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/internal/store"
	"github.com/Laisky/sqlite-explorer/library/log"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func setupStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &stepClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	s, err := NewStore(ctx, db, nil, clock.Now)
	require.NoError(t, err)
	return s, db
}

func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestCreateAndFind(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, CreateInput{Name: "shop.db", Path: "/data/1-shop.db", Size: 4096, TableCount: 3})
	require.NoError(t, err)
	require.NotZero(t, rec.ID)
	require.Equal(t, "shop.db", rec.Name)
	require.False(t, rec.IsFavorite)
	require.Nil(t, rec.Notes)
	require.NotNil(t, rec.LastAccessed)

	byID, err := s.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.Path, byID.Path)

	byPath, err := s.FindByPath(ctx, "/data/1-shop.db")
	require.NoError(t, err)
	require.Equal(t, rec.ID, byPath.ID)

	_, err = s.Create(ctx, CreateInput{Name: "dup.db", Path: "/data/1-shop.db"})
	require.Error(t, err, "path is unique")
}

func TestFindMissReturnsNil(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	rec, err := s.FindByID(ctx, 404)
	require.NoError(t, err)
	require.Nil(t, rec)

	rec, err = s.FindByPath(ctx, "/nowhere.db")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestUpdateAppliesOnlySuppliedFields(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, CreateInput{Name: "a.db", Path: "/a.db", Notes: strPtr("keep me")})
	require.NoError(t, err)

	updated, err := s.Update(ctx, rec.ID, Patch{IsFavorite: boolPtr(true)})
	require.NoError(t, err)
	require.True(t, updated.IsFavorite)
	require.Equal(t, "a.db", updated.Name)
	require.Equal(t, "keep me", *updated.Notes)
	require.True(t, updated.LastAccessed.After(*rec.LastAccessed), "last_accessed always refreshes")

	_, err = s.Update(ctx, 999, Patch{Name: strPtr("x")})
	require.True(t, errs.IsCode(err, errs.CodeNotFound))

	_, err = s.Update(ctx, rec.ID, Patch{Name: strPtr("  ")})
	require.True(t, errs.IsCode(err, errs.CodeValidation))
}

func TestListOrderAndFavorites(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	first, err := s.Create(ctx, CreateInput{Name: "first.db", Path: "/first.db"})
	require.NoError(t, err)
	second, err := s.Create(ctx, CreateInput{Name: "second.db", Path: "/second.db", IsFavorite: true})
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, second.ID, list[0].ID)

	require.NoError(t, s.Touch(ctx, first.ID))
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, list[0].ID, "touched record moves to the front")

	favs, err := s.ListFavorites(ctx)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	require.Equal(t, second.ID, favs[0].ID)
}

func sampleTables() []datafile.TableInfo {
	return []datafile.TableInfo{
		{
			Name:     "orders",
			RowCount: 2,
			Columns: []datafile.ColumnInfo{
				{CID: 0, Name: "id", Type: "INTEGER", PrimaryKey: true},
				{CID: 1, Name: "total", Type: "REAL", NotNull: true, DefaultValue: strPtr("0")},
			},
		},
		{Name: "users", Columns: []datafile.ColumnInfo{{CID: 0, Name: "email", Type: "TEXT"}}},
	}
}

func TestRegisterUpsertPreservesUserFields(t *testing.T) {
	s, db := setupStore(t)
	ctx := context.Background()

	rec, err := s.Register(ctx, RegisterInput{
		Name:   "shop.db",
		Path:   "/data/shop.db",
		Size:   2048,
		Tables: sampleTables(),
		Notes:  strPtr("Uploaded on Mon"),
	})
	require.NoError(t, err)
	require.Equal(t, 2, rec.TableCount)
	require.NotNil(t, rec.SchemaCache)
	require.Contains(t, *rec.SchemaCache, `"orders"`)

	_, err = s.Update(ctx, rec.ID, Patch{Name: strPtr("Shop (prod)"), IsFavorite: boolPtr(true)})
	require.NoError(t, err)

	again, err := s.Register(ctx, RegisterInput{
		Name:   "shop-v2.db",
		Path:   "/data/shop.db",
		Size:   8192,
		Tables: sampleTables()[:1],
	})
	require.NoError(t, err)
	require.Equal(t, rec.ID, again.ID)
	require.Equal(t, int64(8192), again.Size)
	require.Equal(t, 1, again.TableCount)
	require.True(t, again.IsFavorite, "favorite survives re-registration")
	require.Equal(t, "Shop (prod)", again.Name, "user name survives re-registration")
	require.Equal(t, "Uploaded on Mon", *again.Notes)

	tables, err := s.Tables(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Equal(t, "orders", tables[0].Name)
	require.Len(t, tables[0].Columns, 2)
	require.True(t, tables[0].Columns[0].PrimaryKey)
	require.Equal(t, "0", *tables[0].Columns[1].DefaultValue)

	var columns int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM database_columns`).Scan(&columns))
	require.Equal(t, 2, columns, "replaced catalog leaves no orphan columns")
}

func TestDeleteCascades(t *testing.T) {
	s, db := setupStore(t)
	ctx := context.Background()

	rec, err := s.Register(ctx, RegisterInput{Name: "shop.db", Path: "/shop.db", Tables: sampleTables()})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, rec.ID))

	var tables, columns int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM database_tables`).Scan(&tables))
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM database_columns`).Scan(&columns))
	require.Zero(t, tables)
	require.Zero(t, columns)

	err = s.Delete(ctx, rec.ID)
	require.True(t, errs.IsCode(err, errs.CodeNotFound))
}

func TestCreateRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db, logger: log.Logger.Named("test"), clock: time.Now}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO database_metadata").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery("SELECT (.+) FROM database_metadata WHERE id = ?").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = s.Create(context.Background(), CreateInput{Name: "a.db", Path: "/a.db"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk I/O error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterRollsBackOnCatalogFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db, logger: log.Logger.Named("test"), clock: time.Now}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO database_metadata").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT id FROM database_metadata WHERE path = ?").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectExec("DELETE FROM database_tables").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO database_tables").
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	_, err = s.Register(context.Background(), RegisterInput{Name: "a.db", Path: "/a.db", Tables: sampleTables()})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
