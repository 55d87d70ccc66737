package datafile

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Laisky/sqlite-explorer/internal/store/history"
)

// createDataFile builds a SQLite file under t.TempDir() by running stmts.
func createDataFile(t *testing.T, name string, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	db, err := sql.Open("sqlite3", "file:"+path)
	require.NoError(t, err)
	defer db.Close()

	// force file creation even without statements
	_, err = db.Exec(`PRAGMA user_version = 1`)
	require.NoError(t, err)
	for _, stmt := range stmts {
		_, err = db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

// memoryRecorder keeps history entries in memory.
type memoryRecorder struct {
	mu      sync.Mutex
	entries []history.RecordInput
}

func (r *memoryRecorder) Record(_ context.Context, in history.RecordInput) (*history.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, in)

	entry := &history.Entry{Query: in.Query, Success: in.Err == nil}
	return entry, nil
}

func (r *memoryRecorder) all() []history.RecordInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]history.RecordInput(nil), r.entries...)
}
