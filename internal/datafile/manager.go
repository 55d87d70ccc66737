// Package datafile owns access to uploaded SQLite data files: the single active
// connection, statement classification and execution, and catalog inspection.
package datafile

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/internal/library/metrics"
	"github.com/Laisky/sqlite-explorer/library/log"
)

// Summary describes the open data file.
type Summary struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Tables       []string  `json:"tables"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Manager holds at most one open data file.
//
// Open and Close take the write lock, statements run under the read lock, so a
// handle is never closed while a statement is using it.
type Manager struct {
	mu      sync.RWMutex
	db      *sql.DB
	summary *Summary

	logger logSDK.Logger
	clock  func() time.Time
}

// NewManager returns a Manager with nothing open.
func NewManager(logger logSDK.Logger, clock func() time.Time) *Manager {
	if logger == nil {
		logger = log.Logger.Named("datafile_manager")
	}
	if clock == nil {
		clock = func() time.Time {
			return time.Now().UTC()
		}
	}

	return &Manager{logger: logger, clock: clock}
}

// statDataFile maps filesystem errors onto the error taxonomy.
func statDataFile(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Newf(errs.CodeNotFound, "database file %s not found", path)
		}
		return nil, errs.Wrap(err, errs.CodeStorage, "stat database file")
	}
	if info.IsDir() {
		return nil, errs.Newf(errs.CodeNotFound, "database file %s not found", path)
	}
	return info, nil
}

// Open closes the current file, if any, then opens path.
func (m *Manager) Open(ctx context.Context, path, displayName string) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.closeLocked(); err != nil {
		m.logger.Warn("close previous database", zap.Error(err))
	}

	info, err := statDataFile(path)
	if err != nil {
		return nil, err
	}

	db, err := openReadWrite(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeCorruptFile, "cannot open database")
	}

	tables, err := ListTables(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, errs.Wrap(err, errs.CodeCorruptFile, "cannot read database structure")
	}

	if displayName == "" {
		displayName = filepath.Base(path)
	}
	m.db = db
	m.summary = &Summary{
		Path:         path,
		Name:         displayName,
		Size:         info.Size(),
		Tables:       tables,
		LastAccessed: m.clock(),
	}
	metrics.SetConnectionOpen(true)

	m.logger.Info("database opened",
		zap.String("path", path),
		zap.String("name", displayName),
		zap.Int("tables", len(tables)))
	return m.summary.clone(), nil
}

// Close releases the open file. Closing with nothing open is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	if m.db == nil {
		return nil
	}

	path := m.summary.Path
	err := m.db.Close()
	m.db = nil
	m.summary = nil
	metrics.SetConnectionOpen(false)
	if err != nil {
		return errors.Wrapf(err, "close database %s", path)
	}

	m.logger.Info("database closed", zap.String("path", path))
	return nil
}

// IsOpen reports whether a file is open.
func (m *Manager) IsOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db != nil
}

// CurrentSummary describes the open file, NO_CONNECTION when nothing is open.
func (m *Manager) CurrentSummary() (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return nil, errs.New(errs.CodeNoConnection, "no database is open")
	}
	return m.summary.clone(), nil
}

// Refresh re-reads the table list and size of the open file.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return errs.New(errs.CodeNoConnection, "no database is open")
	}

	tables, err := ListTables(ctx, m.db)
	if err != nil {
		return errors.Wrap(err, "refresh table list")
	}
	m.summary.Tables = tables
	m.summary.LastAccessed = m.clock()
	if info, err := os.Stat(m.summary.Path); err == nil {
		m.summary.Size = info.Size()
	}

	return nil
}

// withConn runs fn against the open handle while holding the read lock.
func (m *Manager) withConn(fn func(db *sql.DB, summary Summary) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.db == nil {
		return errs.New(errs.CodeNoConnection, "no database is open")
	}
	return fn(m.db, *m.summary)
}

func (s *Summary) clone() *Summary {
	if s == nil {
		return nil
	}
	out := *s
	out.Tables = append([]string(nil), s.Tables...)
	return &out
}
