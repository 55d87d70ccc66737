package datafile

import (
	"context"
	"database/sql"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"

	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/internal/library/metrics"
	"github.com/Laisky/sqlite-explorer/internal/store/history"
	"github.com/Laisky/sqlite-explorer/library/log"
)

// HistoryRecorder receives one entry per executed statement.
type HistoryRecorder interface {
	Record(ctx context.Context, in history.RecordInput) (*history.Entry, error)
}

// Outcome is the result of one execution.
type Outcome struct {
	Kind    Kind     `json:"-"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`

	Changes      int64 `json:"changes"`
	LastInsertID int64 `json:"lastInsertId"`

	Elapsed     time.Duration `json:"-"`
	ResultsPath string        `json:"results_path,omitempty"`
	HistoryID   string        `json:"history_id,omitempty"`
}

// ExecutionTimeMS is Elapsed in milliseconds.
func (o *Outcome) ExecutionTimeMS() int64 {
	return o.Elapsed.Milliseconds()
}

// Executor runs SQL against data files and records every attempt.
type Executor struct {
	manager  *Manager
	recorder HistoryRecorder
	catalog  *Catalog
	archiver *Archiver
	logger   logSDK.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor) error

// WithCatalog invalidates catalog entries after writes.
func WithCatalog(catalog *Catalog) ExecutorOption {
	return func(e *Executor) error {
		e.catalog = catalog
		return nil
	}
}

// WithArchiver archives every successful read.
func WithArchiver(archiver *Archiver) ExecutorOption {
	return func(e *Executor) error {
		e.archiver = archiver
		return nil
	}
}

// WithExecutorLogger overrides the logger.
func WithExecutorLogger(logger logSDK.Logger) ExecutorOption {
	return func(e *Executor) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		e.logger = logger
		return nil
	}
}

// NewExecutor returns an Executor bound to manager.
func NewExecutor(manager *Manager, recorder HistoryRecorder, opts ...ExecutorOption) (*Executor, error) {
	if manager == nil {
		return nil, errors.New("manager is required")
	}
	if recorder == nil {
		return nil, errors.New("history recorder is required")
	}

	e := &Executor{
		manager:  manager,
		recorder: recorder,
		logger:   log.Logger.Named("query_executor"),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, errors.Wrap(err, "apply executor option")
		}
	}

	return e, nil
}

// Run executes query against the Manager's open file.
func (e *Executor) Run(ctx context.Context, query string) (*Outcome, error) {
	cls, err := classifyQuery(query)
	if err != nil {
		return nil, err
	}

	var (
		out  *Outcome
		path string
	)
	err = e.manager.withConn(func(db *sql.DB, summary Summary) error {
		path = summary.Path
		var err error
		out, err = e.execute(ctx, db, summary.Path, summary.Name, query, cls)
		return err
	})
	if err != nil {
		return nil, err
	}

	if out.Kind == KindWrite {
		if err := e.manager.Refresh(ctx); err != nil && !errs.IsCode(err, errs.CodeNoConnection) {
			e.logger.Warn("refresh summary after write", zap.Error(err))
		}
		if e.catalog != nil {
			e.catalog.Invalidate(path)
		}
	}

	return out, nil
}

// RunOn executes query against the file at path without touching the
// Manager's connection.
func (e *Executor) RunOn(ctx context.Context, path, name, query string) (*Outcome, error) {
	cls, err := classifyQuery(query)
	if err != nil {
		return nil, err
	}
	if _, err := statDataFile(path); err != nil {
		return nil, err
	}

	db, err := openReadWrite(path)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeCorruptFile, "cannot open database")
	}
	defer db.Close()

	out, err := e.execute(ctx, db, path, name, query, cls)
	if err != nil {
		return nil, err
	}
	if out.Kind == KindWrite && e.catalog != nil {
		e.catalog.Invalidate(path)
	}
	return out, nil
}

// classifyQuery rejects input that holds no statement at all.
func classifyQuery(query string) (Classification, error) {
	cls := Classify(query)
	if cls.Statements == 0 {
		return cls, errs.New(errs.CodeValidation, "sql is required")
	}
	return cls, nil
}

// execute times the statement, records it, and wraps engine errors as EXECUTION.
// The driver gets cls.SQL, history keeps the query as submitted.
func (e *Executor) execute(ctx context.Context, db *sql.DB, path, name, query string, cls Classification) (*Outcome, error) {
	out := &Outcome{Kind: cls.Kind}

	start := time.Now()
	var err error
	if cls.Kind == KindRead {
		out.Columns, out.Rows, err = queryRows(ctx, db, cls.SQL)
	} else {
		var res sql.Result
		if res, err = db.ExecContext(ctx, cls.SQL); err == nil {
			out.Changes, _ = res.RowsAffected()
			out.LastInsertID, _ = res.LastInsertId()
		}
	}
	out.Elapsed = time.Since(start)
	metrics.ObserveQuery(cls.Kind.String(), out.Elapsed, err)

	logger := e.logger.With(
		zap.String("database", path),
		zap.String("kind", cls.Kind.String()),
		zap.Int64("execution_time_ms", out.Elapsed.Milliseconds()),
	)

	if err != nil {
		e.record(ctx, logger, history.RecordInput{
			Query:        query,
			DatabaseName: name,
			DatabasePath: path,
			Duration:     out.Elapsed,
			Err:          err,
		}, out)
		logger.Debug("query failed", zap.Error(err))
		return nil, errs.Wrap(err, errs.CodeExecution, "query execution failed")
	}

	if cls.Kind == KindRead && e.archiver != nil {
		if out.ResultsPath, err = e.archiver.Save(ArchivedResult{
			Query:      query,
			Database:   path,
			ExecutedAt: start.UTC(),
			Columns:    out.Columns,
			Rows:       out.Rows,
		}); err != nil {
			logger.Warn("archive query results", zap.Error(err))
		}
	}

	e.record(ctx, logger, history.RecordInput{
		Query:        query,
		DatabaseName: name,
		DatabasePath: path,
		Duration:     out.Elapsed,
		ResultsPath:  out.ResultsPath,
	}, out)
	logger.Debug("query executed",
		zap.Int("rows", len(out.Rows)),
		zap.Int64("changes", out.Changes))
	return out, nil
}

func (e *Executor) record(ctx context.Context, logger logSDK.Logger, in history.RecordInput, out *Outcome) {
	entry, err := e.recorder.Record(ctx, in)
	if err != nil {
		logger.Error("record query history", zap.Error(err))
		return
	}
	out.HistoryID = entry.ID.String()
}

func queryRows(ctx context.Context, db *sql.DB, query string) ([]string, []Row, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	cols = uniqueColumns(cols)

	result := make([]Row, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		result = append(result, NewRow(cols, values))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if len(result) == 0 {
		cols = []string{}
	}
	return cols, result, nil
}
