package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/internal/store"
)

const (
	maxSavedNameLength = 255
	maxSearchLength    = 256
	maxTags            = 32
)

const savedColumns = `id, name, description, query, database_path, tags, favorite, created_at, updated_at`

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func encodeTags(tags []string) (string, error) {
	tags = normalizeTags(tags)
	if len(tags) > maxTags {
		return "", errs.Newf(errs.CodeValidation, "at most %d tags are allowed", maxTags)
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", errors.Wrap(err, "marshal tags")
	}
	return string(raw), nil
}

func validateSaved(name, query string) error {
	if strings.TrimSpace(name) == "" {
		return errs.New(errs.CodeValidation, "name is required")
	}
	if len(name) > maxSavedNameLength {
		return errs.Newf(errs.CodeValidation, "name exceeds %d characters", maxSavedNameLength)
	}
	if strings.TrimSpace(query) == "" {
		return errs.New(errs.CodeValidation, "query is required")
	}
	return nil
}

// CreateSaved stores a new saved query.
func (r *Recorder) CreateSaved(ctx context.Context, in SavedQueryInput) (*SavedQuery, error) {
	if err := validateSaved(in.Name, in.Query); err != nil {
		return nil, err
	}
	tags, err := encodeTags(in.Tags)
	if err != nil {
		return nil, err
	}

	now := r.clock().UTC()
	res, err := r.db.ExecContext(ctx, `
INSERT INTO saved_queries (name, description, query, database_path, tags, favorite, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.TrimSpace(in.Name), in.Description, in.Query, in.DatabasePath, tags, in.Favorite, now, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert saved query")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "read saved query id")
	}

	r.logger.Info("saved query created", zap.Int64("id", id), zap.String("name", in.Name))
	return r.GetSaved(ctx, id)
}

// GetSaved returns one saved query, NOT_FOUND when it does not exist.
func (r *Recorder) GetSaved(ctx context.Context, id int64) (*SavedQuery, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+savedColumns+` FROM saved_queries WHERE id = ?`, id)
	q, err := scanSaved(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.Newf(errs.CodeNotFound, "saved query %d not found", id)
		}
		return nil, errors.Wrapf(err, "get saved query %d", id)
	}
	return q, nil
}

// ListSaved returns saved queries, favorites first then most recently updated.
func (r *Recorder) ListSaved(ctx context.Context) ([]SavedQuery, error) {
	return r.querySaved(ctx, `SELECT `+savedColumns+` FROM saved_queries
ORDER BY favorite DESC, updated_at DESC, id DESC`)
}

// Search matches term against name, description and query text, ignoring case.
func (r *Recorder) Search(ctx context.Context, term string) ([]SavedQuery, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, errs.New(errs.CodeValidation, "search term is required")
	}
	if len(term) > maxSearchLength {
		return nil, errs.Newf(errs.CodeValidation, "search term exceeds %d characters", maxSearchLength)
	}

	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	return r.querySaved(ctx, `SELECT `+savedColumns+` FROM saved_queries
WHERE LOWER(name) LIKE ? ESCAPE '\'
   OR LOWER(COALESCE(description, '')) LIKE ? ESCAPE '\'
   OR LOWER(query) LIKE ? ESCAPE '\'
ORDER BY favorite DESC, updated_at DESC, id DESC`, pattern, pattern, pattern)
}

// UpdateSaved applies the supplied fields of patch.
func (r *Recorder) UpdateSaved(ctx context.Context, id int64, patch SavedQueryPatch) (*SavedQuery, error) {
	current, err := r.GetSaved(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		current.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		current.Description = patch.Description
	}
	if patch.Query != nil {
		current.Query = *patch.Query
	}
	if patch.DatabasePath != nil {
		current.DatabasePath = patch.DatabasePath
	}
	if patch.Tags != nil {
		current.Tags = *patch.Tags
	}
	if patch.Favorite != nil {
		current.Favorite = *patch.Favorite
	}
	if err = validateSaved(current.Name, current.Query); err != nil {
		return nil, err
	}
	tags, err := encodeTags(current.Tags)
	if err != nil {
		return nil, err
	}

	if _, err = r.db.ExecContext(ctx, `
UPDATE saved_queries
SET name = ?, description = ?, query = ?, database_path = ?, tags = ?, favorite = ?, updated_at = ?
WHERE id = ?`,
		current.Name, current.Description, current.Query, current.DatabasePath, tags, current.Favorite,
		r.clock().UTC(), id); err != nil {
		return nil, errors.Wrapf(err, "update saved query %d", id)
	}

	return r.GetSaved(ctx, id)
}

// ToggleFavorite flips the favorite flag.
func (r *Recorder) ToggleFavorite(ctx context.Context, id int64) (*SavedQuery, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE saved_queries SET favorite = 1 - favorite, updated_at = ? WHERE id = ?`, r.clock().UTC(), id)
	if err != nil {
		return nil, errors.Wrapf(err, "toggle saved query %d", id)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, errors.Wrap(err, "rows affected")
	} else if n == 0 {
		return nil, errs.Newf(errs.CodeNotFound, "saved query %d not found", id)
	}

	return r.GetSaved(ctx, id)
}

// DeleteSaved removes a saved query.
func (r *Recorder) DeleteSaved(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM saved_queries WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "delete saved query %d", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errs.Newf(errs.CodeNotFound, "saved query %d not found", id)
	}
	return nil
}

func escapeLike(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(term)
}

func (r *Recorder) querySaved(ctx context.Context, query string, args ...any) ([]SavedQuery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query saved queries")
	}
	defer rows.Close()

	out := make([]SavedQuery, 0)
	for rows.Next() {
		q, err := scanSaved(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan saved query")
		}
		out = append(out, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate saved queries")
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaved(row rowScanner) (*SavedQuery, error) {
	var (
		q         SavedQuery
		desc      sql.NullString
		dbPath    sql.NullString
		rawTags   string
		createdAt any
		updatedAt any
	)
	if err := row.Scan(&q.ID, &q.Name, &desc, &q.Query, &dbPath, &rawTags, &q.Favorite,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if desc.Valid {
		v := desc.String
		q.Description = &v
	}
	if dbPath.Valid {
		v := dbPath.String
		q.DatabasePath = &v
	}
	q.Tags = make([]string, 0)
	if rawTags != "" {
		if err := json.Unmarshal([]byte(rawTags), &q.Tags); err != nil {
			return nil, errors.Wrap(err, "decode tags")
		}
	}

	var err error
	if q.CreatedAt, err = store.ParseTime(createdAt); err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}
	if q.UpdatedAt, err = store.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrap(err, "parse updated_at")
	}
	return &q, nil
}
