package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	gconfig "github.com/Laisky/go-config/v2"
)

const (
	// StorageEnv overrides settings.storage.dir.
	StorageEnv = "SQLITE_STORAGE_PATH"

	defaultStorageDir    = "storage"
	defaultMaxUploadMB   = 100
	defaultHistoryLimit  = 50
	defaultCatalogTTLSec = 30
	controlDatabaseName  = "metadata.db"
	uploadsDirectoryName = "databases"
	resultsDirectoryName = "results"
	defaultClientPerSec  = 10
	defaultTotalPerSec   = 100
)

// Settings is the typed view of the runtime configuration.
type Settings struct {
	Listen         string
	StorageDir     string
	MaxUploadBytes int64
	ArchiveResults bool
	HistoryLimit   int
	// CatalogTTL of zero disables the table and schema cache.
	CatalogTTL     time.Duration
	AllowedOrigins []string

	// ThrottleClientPerSec and ThrottleTotalPerSec bound executed queries and
	// uploads, zero disables throttling.
	ThrottleClientPerSec int
	ThrottleTotalPerSec  int
}

// ControlDBPath is the metadata database inside the storage dir.
func (s Settings) ControlDBPath() string {
	return filepath.Join(s.StorageDir, controlDatabaseName)
}

// UploadsDir holds the uploaded data files.
func (s Settings) UploadsDir() string {
	return filepath.Join(s.StorageDir, uploadsDirectoryName)
}

// ResultsDir holds archived query results.
func (s Settings) ResultsDir() string {
	return filepath.Join(s.StorageDir, resultsDirectoryName)
}

// FromShared reads Settings from gconfig.Shared, applying defaults and the
// SQLITE_STORAGE_PATH override. The --storage flag wins over both.
func FromShared() Settings {
	s := Settings{
		Listen:         gconfig.Shared.GetString("listen"),
		StorageDir:     defaultStorageDir,
		MaxUploadBytes: defaultMaxUploadMB << 20,
		ArchiveResults: gconfig.Shared.GetBool("settings.query.archive_results"),
		HistoryLimit:   defaultHistoryLimit,
		CatalogTTL:     defaultCatalogTTLSec * time.Second,
		AllowedOrigins: gconfig.Shared.GetStringSlice("settings.web.allowed_origins"),

		ThrottleClientPerSec: defaultClientPerSec,
		ThrottleTotalPerSec:  defaultTotalPerSec,
	}

	if v := strings.TrimSpace(gconfig.Shared.GetString("settings.storage.dir")); v != "" {
		s.StorageDir = v
	}
	if v := strings.TrimSpace(os.Getenv(StorageEnv)); v != "" {
		s.StorageDir = v
	}
	if v := strings.TrimSpace(gconfig.Shared.GetString("storage")); v != "" {
		s.StorageDir = v
	}

	if v := gconfig.Shared.GetInt("settings.upload.max_size_mb"); v > 0 {
		s.MaxUploadBytes = int64(v) << 20
	}
	if v := gconfig.Shared.GetInt("settings.query.history_limit"); v > 0 {
		s.HistoryLimit = v
	}
	if gconfig.Shared.Get("settings.catalog.cache_ttl_seconds") != nil {
		if v := gconfig.Shared.GetInt("settings.catalog.cache_ttl_seconds"); v >= 0 {
			s.CatalogTTL = time.Duration(v) * time.Second
		}
	}

	if gconfig.Shared.Get("settings.throttle.client_per_sec") != nil {
		s.ThrottleClientPerSec = gconfig.Shared.GetInt("settings.throttle.client_per_sec")
	}
	if gconfig.Shared.Get("settings.throttle.total_per_sec") != nil {
		s.ThrottleTotalPerSec = gconfig.Shared.GetInt("settings.throttle.total_per_sec")
	}

	return s
}
