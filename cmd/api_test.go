package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Laisky/sqlite-explorer/library/config"
)

func TestSetupServerWiresStorage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	settings := config.Settings{
		StorageDir:     t.TempDir(),
		MaxUploadBytes: 1 << 20,
		ArchiveResults: true,
		HistoryLimit:   10,
		CatalogTTL:     time.Second,
	}

	srv, cleanup, err := setupServer(context.Background(), settings)
	require.NoError(t, err)
	defer cleanup()

	for _, path := range []string{settings.ControlDBPath(), settings.UploadsDir(), settings.ResultsDir()} {
		_, err := os.Stat(path)
		require.NoError(t, err, path)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/databases", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"databases":[]}`, w.Body.String())
}

func TestSetupServerWithoutArchive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	settings := config.Settings{
		StorageDir:     t.TempDir(),
		MaxUploadBytes: 1 << 20,
	}

	_, cleanup, err := setupServer(context.Background(), settings)
	require.NoError(t, err)
	defer cleanup()

	_, err = os.Stat(settings.ResultsDir())
	require.True(t, os.IsNotExist(err))
}
