package history

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable query attempt.
//
// DatabaseName and DatabasePath are copied from the data file at execution time
// and are not foreign keys, entries outlive the records they mention.
type Entry struct {
	ID              uuid.UUID `json:"id"`
	Query           string    `json:"query"`
	NormalizedQuery string    `json:"normalized_query"`
	DatabaseName    string    `json:"database_name"`
	DatabasePath    string    `json:"database_path"`
	ExecutedAt      time.Time `json:"executed_at"`
	ExecutionTimeMS int64     `json:"execution_time_ms"`
	Success         bool      `json:"success"`
	ErrorMessage    *string   `json:"error_message"`
	ResultsPath     *string   `json:"results_path"`
}

// RecordInput carries the outcome of one execution.
type RecordInput struct {
	Query        string
	DatabaseName string
	DatabasePath string
	Duration     time.Duration
	Err          error
	ResultsPath  string
	// ExecutedAt defaults to the recorder clock when zero.
	ExecutedAt time.Time
}

// PopularQuery is a normalized query text with its occurrence count.
type PopularQuery struct {
	NormalizedQuery string    `json:"normalized_query"`
	Example         string    `json:"example"`
	Count           int       `json:"count"`
	AvgTimeMS       float64   `json:"avg_time_ms"`
	LastExecutedAt  time.Time `json:"last_executed_at"`
}

// Summary aggregates history inside a window.
type Summary struct {
	WindowDays int     `json:"window_days"`
	Total      int     `json:"total"`
	Failed     int     `json:"failed"`
	AvgTimeMS  float64 `json:"avg_time_ms"`
}

// SavedQuery is a user-curated query.
type SavedQuery struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  *string   `json:"description"`
	Query        string    `json:"query"`
	DatabasePath *string   `json:"database_path"`
	Tags         []string  `json:"tags"`
	Favorite     bool      `json:"favorite"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SavedQueryInput creates a SavedQuery.
type SavedQueryInput struct {
	Name         string   `json:"name"`
	Description  *string  `json:"description"`
	Query        string   `json:"query"`
	DatabasePath *string  `json:"database_path"`
	Tags         []string `json:"tags"`
	Favorite     bool     `json:"favorite"`
}

// SavedQueryPatch updates a SavedQuery, nil fields are left untouched.
type SavedQueryPatch struct {
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	Query        *string   `json:"query"`
	DatabasePath *string   `json:"database_path"`
	Tags         *[]string `json:"tags"`
	Favorite     *bool     `json:"favorite"`
}

// NormalizeQuery lower-cases sql, collapses whitespace and drops trailing semicolons,
// so cosmetic variants group together.
func NormalizeQuery(sql string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(sql), " "))
	return strings.TrimSpace(strings.TrimRight(normalized, "; "))
}
