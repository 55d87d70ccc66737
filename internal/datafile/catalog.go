package datafile

import (
	"context"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/internal/library/metrics"
	"github.com/Laisky/sqlite-explorer/library/log"
)

const (
	// DefaultCatalogTTL is how long table lists and schemas stay cached.
	DefaultCatalogTTL = 30 * time.Second

	tablesKeyPrefix = "tables\x00"
	schemaKeyPrefix = "schema\x00"
)

// Catalog answers table and schema lookups for arbitrary data files,
// caching results per path. Files are opened read-only for each miss.
type Catalog struct {
	// cache is nil when caching is disabled
	cache  *cache.Cache
	group  singleflight.Group
	logger logSDK.Logger
}

// NewCatalog returns a Catalog whose entries expire after ttl.
// A ttl of zero or less disables caching, every lookup reads the file.
func NewCatalog(ttl time.Duration, logger logSDK.Logger) *Catalog {
	if logger == nil {
		logger = log.Logger.Named("datafile_catalog")
	}

	c := &Catalog{logger: logger}
	if ttl > 0 {
		c.cache = cache.New(ttl, 2*ttl)
	}
	return c
}

func tablesKey(path string) string {
	return tablesKeyPrefix + path
}

func schemaKey(path, table string) string {
	return schemaKeyPrefix + path + "\x00" + table
}

// load returns the cached value under key or computes it once for all
// concurrent callers.
func (c *Catalog) load(key string, fn func() (any, error)) (any, error) {
	if c.cache == nil {
		v, err, _ := c.group.Do(key, fn)
		return v, err
	}

	if v, ok := c.cache.Get(key); ok {
		metrics.ObserveCatalogLookup(true)
		return v, nil
	}
	metrics.ObserveCatalogLookup(false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, v)
		return v, nil
	})
	return v, err
}

func withReadOnly(ctx context.Context, path string, fn func(db queryer) error) error {
	if _, err := statDataFile(path); err != nil {
		return err
	}

	db, err := OpenReadOnly(path)
	if err != nil {
		return errs.Wrap(err, errs.CodeCorruptFile, "cannot open database")
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return errs.Wrap(err, errs.CodeCorruptFile, "cannot open database")
	}
	return fn(db)
}

// Tables lists the user tables of the file at path.
func (c *Catalog) Tables(ctx context.Context, path string) ([]string, error) {
	v, err := c.load(tablesKey(path), func() (any, error) {
		var tables []string
		err := withReadOnly(ctx, path, func(db queryer) error {
			var err error
			if tables, err = ListTables(ctx, db); err != nil {
				return errs.Wrap(err, errs.CodeCorruptFile, "cannot read database structure")
			}
			return nil
		})
		return tables, err
	})
	if err != nil {
		return nil, err
	}

	return append([]string(nil), v.([]string)...), nil
}

// Schema returns the columns of table in the file at path.
func (c *Catalog) Schema(ctx context.Context, path, table string) ([]ColumnInfo, error) {
	if strings.TrimSpace(table) == "" {
		return nil, errs.New(errs.CodeValidation, "table name is required")
	}

	v, err := c.load(schemaKey(path, table), func() (any, error) {
		var cols []ColumnInfo
		err := withReadOnly(ctx, path, func(db queryer) error {
			var err error
			cols, err = DescribeTable(ctx, db, table)
			if err != nil && !errs.IsCode(err, errs.CodeNotFound) {
				return errs.Wrap(err, errs.CodeCorruptFile, "cannot read table schema")
			}
			return err
		})
		return cols, err
	})
	if err != nil {
		return nil, err
	}

	return append([]ColumnInfo(nil), v.([]ColumnInfo)...), nil
}

// Inspect reads the whole catalog of path, bypassing the cache.
func (c *Catalog) Inspect(ctx context.Context, path string) ([]TableInfo, error) {
	var tables []TableInfo
	err := withReadOnly(ctx, path, func(db queryer) error {
		var err error
		if tables, err = Inspect(ctx, db); err != nil {
			return errs.Wrap(err, errs.CodeCorruptFile, "cannot read database structure")
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return tables, nil
}

// Invalidate drops every cached entry of path.
func (c *Catalog) Invalidate(path string) {
	if c.cache == nil {
		return
	}

	c.cache.Delete(tablesKey(path))
	prefix := schemaKeyPrefix + path + "\x00"
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}

	c.logger.Debug("catalog invalidated", zap.String("path", path))
}
