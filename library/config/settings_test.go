package config

import (
	"path/filepath"
	"testing"
	"time"

	gconfig "github.com/Laisky/go-config/v2"
	"github.com/stretchr/testify/require"
)

func TestFromSharedDefaults(t *testing.T) {
	t.Setenv(StorageEnv, "")

	s := FromShared()
	require.Equal(t, "storage", s.StorageDir)
	require.Equal(t, int64(100<<20), s.MaxUploadBytes)
	require.Equal(t, 50, s.HistoryLimit)
	require.Equal(t, 30*time.Second, s.CatalogTTL)
	require.False(t, s.ArchiveResults)
	require.Equal(t, 10, s.ThrottleClientPerSec)
	require.Equal(t, 100, s.ThrottleTotalPerSec)
	require.Equal(t, filepath.Join("storage", "metadata.db"), s.ControlDBPath())
	require.Equal(t, filepath.Join("storage", "databases"), s.UploadsDir())
	require.Equal(t, filepath.Join("storage", "results"), s.ResultsDir())
}

func TestFromSharedOverrides(t *testing.T) {
	gconfig.Shared.Set("settings.storage.dir", "/srv/explorer")
	gconfig.Shared.Set("settings.upload.max_size_mb", 5)
	gconfig.Shared.Set("settings.query.history_limit", 20)
	gconfig.Shared.Set("settings.query.archive_results", true)
	gconfig.Shared.Set("settings.catalog.cache_ttl_seconds", 0)
	gconfig.Shared.Set("settings.web.allowed_origins", []string{"localhost"})
	gconfig.Shared.Set("settings.throttle.client_per_sec", 0)

	t.Setenv(StorageEnv, "")
	s := FromShared()
	require.Equal(t, "/srv/explorer", s.StorageDir)
	require.Equal(t, int64(5<<20), s.MaxUploadBytes)
	require.Equal(t, 20, s.HistoryLimit)
	require.True(t, s.ArchiveResults)
	require.Zero(t, s.CatalogTTL)
	require.Equal(t, []string{"localhost"}, s.AllowedOrigins)
	require.Zero(t, s.ThrottleClientPerSec)

	t.Setenv(StorageEnv, "/env/explorer")
	require.Equal(t, "/env/explorer", FromShared().StorageDir)

	gconfig.Shared.Set("storage", "/flag/explorer")
	t.Cleanup(func() { gconfig.Shared.Set("storage", "") })
	require.Equal(t, "/flag/explorer", FromShared().StorageDir)
}
