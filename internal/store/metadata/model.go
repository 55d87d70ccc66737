package metadata

import "time"

// Record is the catalog entry for one uploaded data file.
type Record struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	Size         int64      `json:"size"`
	TableCount   int        `json:"table_count"`
	IsFavorite   bool       `json:"is_favorite"`
	Notes        *string    `json:"notes"`
	SchemaCache  *string    `json:"schema_cache,omitempty"`
	LastAccessed *time.Time `json:"last_accessed"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// CreateInput holds the fields of a new record.
type CreateInput struct {
	Name       string
	Path       string
	Size       int64
	TableCount int
	IsFavorite bool
	Notes      *string
}

// Patch lists the fields Update may change, nil fields are left untouched.
type Patch struct {
	Name        *string `json:"name"`
	IsFavorite  *bool   `json:"is_favorite"`
	Notes       *string `json:"notes"`
	Size        *int64  `json:"size"`
	TableCount  *int    `json:"table_count"`
	SchemaCache *string `json:"schema_cache"`
}

// Empty reports whether no field is set.
func (p Patch) Empty() bool {
	return p.Name == nil && p.IsFavorite == nil && p.Notes == nil &&
		p.Size == nil && p.TableCount == nil && p.SchemaCache == nil
}
