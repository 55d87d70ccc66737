package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	errors "github.com/Laisky/errors/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/internal/store"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func setupRecorder(t *testing.T) (*Recorder, *fixedClock, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clock := &fixedClock{now: time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)}
	r, err := NewRecorder(ctx, db, nil, clock.Now)
	require.NoError(t, err)
	return r, clock, db
}

func TestNormalizeQuery(t *testing.T) {
	require.Equal(t, "select * from users", NormalizeQuery("  SELECT *\n\tFROM users ;; "))
	require.Equal(t, "select 1", NormalizeQuery("select 1"))
}

func TestRecordSuccessAndFailure(t *testing.T) {
	r, _, db := setupRecorder(t)
	ctx := context.Background()

	ok, err := r.Record(ctx, RecordInput{
		Query:        "SELECT 1",
		DatabaseName: "shop.db",
		DatabasePath: "/data/shop.db",
		Duration:     12 * time.Millisecond,
	})
	require.NoError(t, err)
	require.True(t, ok.Success)
	require.Nil(t, ok.ErrorMessage)
	require.Equal(t, int64(12), ok.ExecutionTimeMS)

	bad, err := r.Record(ctx, RecordInput{
		Query: "SELEC 1",
		Err:   errors.New(`near "SELEC": syntax error`),
	})
	require.NoError(t, err)
	require.False(t, bad.Success)
	require.NotNil(t, bad.ErrorMessage)
	require.Contains(t, *bad.ErrorMessage, "syntax error")

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM query_history`).Scan(&count))
	require.Equal(t, 2, count)

	_, err = r.Record(ctx, RecordInput{Query: "   "})
	require.Error(t, err)
}

type plainError string

func (e plainError) Error() string { return string(e) }

func TestRecordTruncatesErrorOnRuneBoundary(t *testing.T) {
	r, _, _ := setupRecorder(t)

	// the two byte rune straddles the length limit
	msg := strings.Repeat("a", maxErrorLength-1) + "é" + "tail"
	entry, err := r.Record(context.Background(), RecordInput{
		Query: "SELECT broken",
		Err:   plainError(msg),
	})
	require.NoError(t, err)
	require.NotNil(t, entry.ErrorMessage)
	require.True(t, utf8.ValidString(*entry.ErrorMessage))
	require.Len(t, *entry.ErrorMessage, maxErrorLength-1)

	require.Equal(t, "héllo", truncateUTF8("héllo", 10))
	require.Equal(t, "h", truncateUTF8("héllo", 2))
	require.Equal(t, "hé", truncateUTF8("héllo", 3))
}

func TestGetEntry(t *testing.T) {
	r, _, _ := setupRecorder(t)
	ctx := context.Background()

	rec, err := r.Record(ctx, RecordInput{Query: "SELECT 2", ResultsPath: "/tmp/results/a.json.zst"})
	require.NoError(t, err)

	got, err := r.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "SELECT 2", got.Query)
	require.NotNil(t, got.ResultsPath)
	require.Equal(t, "/tmp/results/a.json.zst", *got.ResultsPath)

	missing, err := r.Get(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestRecordSurvivesCancelledContext(t *testing.T) {
	r, _, _ := setupRecorder(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Record(ctx, RecordInput{Query: "SELECT 1"})
	require.NoError(t, err)

	entries, err := r.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRecentNewestFirst(t *testing.T) {
	r, clock, _ := setupRecorder(t)
	ctx := context.Background()

	for _, q := range []string{"select 1", "select 2", "select 3"} {
		clock.now = clock.now.Add(time.Minute)
		_, err := r.Record(ctx, RecordInput{Query: q})
		require.NoError(t, err)
	}

	entries, err := r.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "select 3", entries[0].Query)
	require.Equal(t, "select 2", entries[1].Query)
	require.True(t, clock.now.Equal(entries[0].ExecutedAt))
}

func TestPopularRespectsWindow(t *testing.T) {
	r, clock, _ := setupRecorder(t)
	ctx := context.Background()
	now := clock.now

	record := func(q string, at time.Time) {
		_, err := r.Record(ctx, RecordInput{Query: q, ExecutedAt: at})
		require.NoError(t, err)
	}

	// outside the 7 day window
	for i := 0; i < 5; i++ {
		record("SELECT * FROM old", now.AddDate(0, 0, -30))
	}
	record("SELECT * FROM users", now.Add(-time.Hour))
	record("select *  from users;", now.Add(-2*time.Hour))
	record("SELECT * FROM USERS", now.Add(-3*time.Hour))
	record("SELECT count(*) FROM orders", now.Add(-time.Hour))

	popular, err := r.Popular(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, popular, 2)
	require.Equal(t, "select * from users", popular[0].NormalizedQuery)
	require.Equal(t, 3, popular[0].Count)
	require.Equal(t, 1, popular[1].Count)

	top, err := r.Popular(ctx, 7, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
}

func TestSlowAndSummary(t *testing.T) {
	r, clock, _ := setupRecorder(t)
	ctx := context.Background()

	durations := []time.Duration{5 * time.Millisecond, 900 * time.Millisecond, 40 * time.Millisecond}
	for i, d := range durations {
		in := RecordInput{Query: "select " + string(rune('a'+i)), Duration: d}
		if i == 2 {
			in.Err = errors.New("boom")
		}
		_, err := r.Record(ctx, in)
		require.NoError(t, err)
	}
	_, err := r.Record(ctx, RecordInput{
		Query:      "select ancient",
		Duration:   5 * time.Second,
		ExecutedAt: clock.now.AddDate(-1, 0, 0),
	})
	require.NoError(t, err)

	slow, err := r.Slow(ctx, 2)
	require.NoError(t, err)
	require.Len(t, slow, 2)
	require.Equal(t, "select ancient", slow[0].Query, "slow ignores the window")
	require.Equal(t, int64(900), slow[1].ExecutionTimeMS)

	sum, err := r.Summary(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Total)
	require.Equal(t, 1, sum.Failed)
	require.InDelta(t, 315.0, sum.AvgTimeMS, 0.01)
}

func TestSavedQueryLifecycle(t *testing.T) {
	r, clock, _ := setupRecorder(t)
	ctx := context.Background()
	desc := "Monthly revenue report"

	saved, err := r.CreateSaved(ctx, SavedQueryInput{
		Name:        "revenue",
		Description: &desc,
		Query:       "SELECT SUM(total) FROM orders",
		Tags:        []string{"finance", " finance ", ""},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"finance"}, saved.Tags)
	require.False(t, saved.Favorite)

	_, err = r.CreateSaved(ctx, SavedQueryInput{Name: "users_100%", Query: "SELECT * FROM users"})
	require.NoError(t, err)

	found, err := r.Search(ctx, "REVENUE")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, saved.ID, found[0].ID)

	found, err = r.Search(ctx, "from")
	require.NoError(t, err)
	require.Len(t, found, 2)

	found, err = r.Search(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, found, 1, "like wildcards are matched literally")

	_, err = r.Search(ctx, " ")
	require.True(t, errs.IsCode(err, errs.CodeValidation))

	clock.now = clock.now.Add(time.Minute)
	toggled, err := r.ToggleFavorite(ctx, saved.ID)
	require.NoError(t, err)
	require.True(t, toggled.Favorite)

	newName := "revenue_v2"
	tags := []string{"finance", "monthly"}
	updated, err := r.UpdateSaved(ctx, saved.ID, SavedQueryPatch{Name: &newName, Tags: &tags})
	require.NoError(t, err)
	require.Equal(t, "revenue_v2", updated.Name)
	require.Equal(t, desc, *updated.Description)
	require.True(t, updated.Favorite)
	require.Equal(t, tags, updated.Tags)

	list, err := r.ListSaved(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, saved.ID, list[0].ID, "favorites come first")

	require.NoError(t, r.DeleteSaved(ctx, saved.ID))
	_, err = r.GetSaved(ctx, saved.ID)
	require.True(t, errs.IsCode(err, errs.CodeNotFound))
	require.True(t, errs.IsCode(r.DeleteSaved(ctx, saved.ID), errs.CodeNotFound))
	_, err = r.ToggleFavorite(ctx, saved.ID)
	require.True(t, errs.IsCode(err, errs.CodeNotFound))

	_, err = r.CreateSaved(ctx, SavedQueryInput{Name: "", Query: "select 1"})
	require.True(t, errs.IsCode(err, errs.CodeValidation))
}
