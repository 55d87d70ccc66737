// Package history keeps the append-only query log, its analytics, and saved queries.
package history

import (
	"context"
	"database/sql"
	"strings"
	"time"
	"unicode/utf8"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/google/uuid"

	"github.com/Laisky/sqlite-explorer/internal/store"
	"github.com/Laisky/sqlite-explorer/library/log"
)

const (
	// DefaultRecentLimit is used when Recent gets a non-positive limit.
	DefaultRecentLimit = 50
	maxRecentLimit     = 500
	defaultTopN        = 10
	maxTopN            = 100
	defaultWindowDays  = 7
	maxErrorLength     = 4096
)

// Clock returns the current UTC time. Tests can replace it for determinism.
type Clock func() time.Time

// Recorder writes and reads query history and saved queries.
type Recorder struct {
	db     *sql.DB
	logger logSDK.Logger
	clock  Clock
}

// NewRecorder constructs a Recorder and makes sure the control schema exists.
func NewRecorder(ctx context.Context, db *sql.DB, logger logSDK.Logger, clock Clock) (*Recorder, error) {
	if db == nil {
		return nil, errors.New("sql db is required")
	}
	if logger == nil {
		logger = log.Logger.Named("query_history")
	}
	if clock == nil {
		clock = func() time.Time {
			return time.Now().UTC()
		}
	}

	if err := store.Migrate(ctx, db); err != nil {
		return nil, errors.WithStack(err)
	}

	return &Recorder{db: db, logger: logger, clock: clock}, nil
}

// Record appends one entry. It never fails because the caller's request was cancelled.
func (r *Recorder) Record(ctx context.Context, in RecordInput) (*Entry, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, errors.New("query is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Wrap(err, "generate history id")
	}

	executedAt := in.ExecutedAt
	if executedAt.IsZero() {
		executedAt = r.clock()
	}

	entry := &Entry{
		ID:              id,
		Query:           in.Query,
		NormalizedQuery: NormalizeQuery(in.Query),
		DatabaseName:    in.DatabaseName,
		DatabasePath:    in.DatabasePath,
		ExecutedAt:      executedAt.UTC(),
		ExecutionTimeMS: in.Duration.Milliseconds(),
		Success:         in.Err == nil,
	}
	if in.Err != nil {
		msg := truncateUTF8(in.Err.Error(), maxErrorLength)
		entry.ErrorMessage = &msg
	}
	if in.ResultsPath != "" {
		p := in.ResultsPath
		entry.ResultsPath = &p
	}

	ctx = context.WithoutCancel(ctx)
	if _, err = r.db.ExecContext(ctx, `
INSERT INTO query_history (id, query, normalized_query, database_name, database_path,
  executed_at, execution_time_ms, success, error_message, results_path)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(),
		entry.Query,
		entry.NormalizedQuery,
		entry.DatabaseName,
		entry.DatabasePath,
		entry.ExecutedAt,
		entry.ExecutionTimeMS,
		entry.Success,
		entry.ErrorMessage,
		entry.ResultsPath,
	); err != nil {
		return nil, errors.Wrap(err, "insert query history")
	}

	r.logger.Debug("recorded query history",
		zap.String("id", entry.ID.String()),
		zap.Bool("success", entry.Success),
		zap.Int64("execution_time_ms", entry.ExecutionTimeMS))
	return entry, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

const entryColumns = `id, query, normalized_query, database_name, database_path,
  executed_at, execution_time_ms, success, error_message, results_path`

// Recent returns the newest entries first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	} else if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM query_history
ORDER BY executed_at DESC, id DESC LIMIT ?`, limit)
}

// Get returns one entry, or nil, nil when id is unknown.
func (r *Recorder) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	entries, err := r.queryEntries(ctx, `SELECT `+entryColumns+` FROM query_history WHERE id = ?`, id.String())
	if err != nil {
		return nil, errors.Wrapf(err, "get history entry %s", id)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// Slow returns the topN slowest entries of all time.
func (r *Recorder) Slow(ctx context.Context, topN int) ([]Entry, error) {
	topN = clampTopN(topN)
	return r.queryEntries(ctx, `SELECT `+entryColumns+` FROM query_history
ORDER BY execution_time_ms DESC, executed_at DESC LIMIT ?`, topN)
}

// Popular groups entries executed within the trailing windowDays by normalized
// query text and returns the topN most frequent.
func (r *Recorder) Popular(ctx context.Context, windowDays, topN int) ([]PopularQuery, error) {
	since := r.windowStart(windowDays)
	topN = clampTopN(topN)

	rows, err := r.db.QueryContext(ctx, `
SELECT normalized_query, MAX(query), COUNT(*) AS cnt, AVG(execution_time_ms), MAX(executed_at)
FROM query_history
WHERE executed_at >= ?
GROUP BY normalized_query
ORDER BY cnt DESC, MAX(executed_at) DESC
LIMIT ?`, since, topN)
	if err != nil {
		return nil, errors.Wrap(err, "query popular history")
	}
	defer rows.Close()

	popular := make([]PopularQuery, 0)
	for rows.Next() {
		var (
			item    PopularQuery
			avg     sql.NullFloat64
			lastRaw any
		)
		if err := rows.Scan(&item.NormalizedQuery, &item.Example, &item.Count, &avg, &lastRaw); err != nil {
			return nil, errors.Wrap(err, "scan popular query")
		}
		item.AvgTimeMS = avg.Float64
		if item.LastExecutedAt, err = store.ParseTime(lastRaw); err != nil {
			return nil, errors.Wrap(err, "parse last executed_at")
		}
		popular = append(popular, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate popular queries")
	}

	return popular, nil
}

// Summary counts entries in the trailing window.
func (r *Recorder) Summary(ctx context.Context, windowDays int) (*Summary, error) {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}

	var (
		sum    = &Summary{WindowDays: windowDays}
		failed sql.NullInt64
		avg    sql.NullFloat64
	)
	if err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), AVG(execution_time_ms)
FROM query_history WHERE executed_at >= ?`, r.windowStart(windowDays)).
		Scan(&sum.Total, &failed, &avg); err != nil {
		return nil, errors.Wrap(err, "summarize history")
	}
	sum.Failed = int(failed.Int64)
	sum.AvgTimeMS = avg.Float64

	return sum, nil
}

func (r *Recorder) windowStart(windowDays int) time.Time {
	if windowDays <= 0 {
		windowDays = defaultWindowDays
	}
	return r.clock().UTC().AddDate(0, 0, -windowDays)
}

func clampTopN(topN int) int {
	if topN <= 0 {
		return defaultTopN
	}
	if topN > maxTopN {
		return maxTopN
	}
	return topN
}

func (r *Recorder) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e           Entry
			rawID       string
			executedAt  any
			errorMsg    sql.NullString
			resultsPath sql.NullString
		)
		if err := rows.Scan(&rawID, &e.Query, &e.NormalizedQuery, &e.DatabaseName, &e.DatabasePath,
			&executedAt, &e.ExecutionTimeMS, &e.Success, &errorMsg, &resultsPath); err != nil {
			return nil, errors.Wrap(err, "scan history entry")
		}
		if e.ID, err = uuid.Parse(rawID); err != nil {
			return nil, errors.Wrapf(err, "parse history id %q", rawID)
		}
		if e.ExecutedAt, err = store.ParseTime(executedAt); err != nil {
			return nil, errors.Wrap(err, "parse executed_at")
		}
		if errorMsg.Valid {
			v := errorMsg.String
			e.ErrorMessage = &v
		}
		if resultsPath.Valid {
			v := resultsPath.String
			e.ResultsPath = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate history")
	}

	return entries, nil
}
