package datafile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/sqlite-explorer/internal/library/errs"
)

func TestCurrentSummaryWithoutOpen(t *testing.T) {
	m := NewManager(nil, nil)

	_, err := m.CurrentSummary()
	require.True(t, errs.IsCode(err, errs.CodeNoConnection))
	require.False(t, m.IsOpen())
	require.NoError(t, m.Close(), "close without open is a no-op")
}

func TestOpenReplacesPreviousConnection(t *testing.T) {
	ctx := context.Background()
	first := createDataFile(t, "first.db", `CREATE TABLE a (id INTEGER)`)
	second := createDataFile(t, "second.db", `CREATE TABLE b (id INTEGER)`, `CREATE TABLE c (id INTEGER)`)

	m := NewManager(nil, nil)
	sum, err := m.Open(ctx, first, "first.db")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, sum.Tables)
	require.False(t, sum.LastAccessed.IsZero())

	m.mu.RLock()
	oldDB := m.db
	m.mu.RUnlock()

	sum, err = m.Open(ctx, second, "")
	require.NoError(t, err)
	require.Equal(t, "second.db", sum.Name)
	require.Equal(t, []string{"b", "c"}, sum.Tables)

	require.Error(t, oldDB.PingContext(ctx), "previous handle is closed")

	current, err := m.CurrentSummary()
	require.NoError(t, err)
	require.Equal(t, second, current.Path)

	info, err := os.Stat(second)
	require.NoError(t, err)
	require.Equal(t, info.Size(), current.Size)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	require.False(t, m.IsOpen())
	_, err = m.CurrentSummary()
	require.True(t, errs.IsCode(err, errs.CodeNoConnection))
}

func TestOpenMissingFile(t *testing.T) {
	m := NewManager(nil, nil)

	_, err := m.Open(context.Background(), filepath.Join(t.TempDir(), "missing.db"), "missing.db")
	require.True(t, errs.IsCode(err, errs.CodeNotFound))
	require.False(t, m.IsOpen())
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not a sqlite database ", 512)), 0o644))

	m := NewManager(nil, nil)
	_, err := m.Open(context.Background(), path, "garbage.db")
	require.True(t, errs.IsCode(err, errs.CodeCorruptFile))
	require.False(t, m.IsOpen())
}

func TestSummaryIsACopy(t *testing.T) {
	path := createDataFile(t, "a.db", `CREATE TABLE a (id INTEGER)`)
	m := NewManager(nil, nil)
	_, err := m.Open(context.Background(), path, "a.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	sum, err := m.CurrentSummary()
	require.NoError(t, err)
	sum.Tables[0] = "mutated"

	again, err := m.CurrentSummary()
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, again.Tables)
}
