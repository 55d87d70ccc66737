package cmd

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"

	errors "github.com/Laisky/errors/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/sqlite-explorer/internal/datafile"
	"github.com/Laisky/sqlite-explorer/internal/store"
	"github.com/Laisky/sqlite-explorer/internal/store/history"
	"github.com/Laisky/sqlite-explorer/internal/store/metadata"
	"github.com/Laisky/sqlite-explorer/internal/upload"
	"github.com/Laisky/sqlite-explorer/internal/web"
	"github.com/Laisky/sqlite-explorer/library/config"
	"github.com/Laisky/sqlite-explorer/library/db/sql/kv"
	"github.com/Laisky/sqlite-explorer/library/log"
	"github.com/Laisky/sqlite-explorer/library/throttle"
)

var apiCMD = &cobra.Command{
	Use:   "api",
	Short: "api",
	Long:  `HTTP API for uploading and querying SQLite databases`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		settings := config.FromShared()
		srv, cleanup, err := setupServer(ctx, settings)
		if err != nil {
			log.Logger.Panic("setup server", zap.Error(err))
		}
		defer cleanup()

		if err := srv.Run(ctx, settings.Listen); err != nil {
			log.Logger.Panic("httpServer exit", zap.Error(err))
		}
	},
}

// setupServer opens the control database under settings.StorageDir and wires
// every component into a web.Server. cleanup closes what was opened.
func setupServer(ctx context.Context, settings config.Settings) (srv *web.Server, cleanup func(), err error) {
	logger := log.Logger.Named("setup")
	logger.Info("open storage",
		zap.String("storage", settings.StorageDir),
		zap.Int64("max_upload_bytes", settings.MaxUploadBytes),
		zap.Bool("archive_results", settings.ArchiveResults))

	db, err := store.Open(ctx, settings.ControlDBPath())
	if err != nil {
		return nil, nil, errors.Wrap(err, "open control database")
	}
	manager := datafile.NewManager(log.Logger.Named("datafile_manager"), nil)
	cleanup = func() {
		if err := manager.Close(); err != nil {
			logger.Warn("close data file", zap.Error(err))
		}
		if err := db.Close(); err != nil {
			logger.Warn("close control database", zap.Error(err))
		}
	}
	defer func() {
		if err != nil {
			cleanup()
		}
	}()

	deps, err := buildDeps(ctx, db, manager, settings)
	if err != nil {
		return nil, nil, err
	}
	if srv, err = web.NewServer(deps); err != nil {
		return nil, nil, errors.Wrap(err, "new web server")
	}

	return srv, cleanup, nil
}

func buildDeps(ctx context.Context, db *sql.DB, manager *datafile.Manager, settings config.Settings) (web.Deps, error) {
	meta, err := metadata.NewStore(ctx, db, log.Logger.Named("metadata_store"), nil)
	if err != nil {
		return web.Deps{}, errors.Wrap(err, "new metadata store")
	}
	recorder, err := history.NewRecorder(ctx, db, log.Logger.Named("query_history"), nil)
	if err != nil {
		return web.Deps{}, errors.Wrap(err, "new history recorder")
	}
	prefs, err := kv.NewKv(db)
	if err != nil {
		return web.Deps{}, errors.Wrap(err, "new preference store")
	}

	catalog := datafile.NewCatalog(settings.CatalogTTL, log.Logger.Named("catalog"))
	execOpts := []datafile.ExecutorOption{
		datafile.WithCatalog(catalog),
		datafile.WithExecutorLogger(log.Logger.Named("query_executor")),
	}

	var archiver *datafile.Archiver
	if settings.ArchiveResults {
		if archiver, err = datafile.NewArchiver(settings.ResultsDir()); err != nil {
			return web.Deps{}, errors.Wrap(err, "new result archiver")
		}
		execOpts = append(execOpts, datafile.WithArchiver(archiver))
	}

	executor, err := datafile.NewExecutor(manager, recorder, execOpts...)
	if err != nil {
		return web.Deps{}, errors.Wrap(err, "new query executor")
	}
	pipeline, err := upload.NewPipeline(settings.UploadsDir(), meta, catalog,
		upload.WithMaxSize(settings.MaxUploadBytes),
		upload.WithLogger(log.Logger.Named("upload_pipeline")))
	if err != nil {
		return web.Deps{}, errors.Wrap(err, "new upload pipeline")
	}

	var th *throttle.Throttle
	if settings.ThrottleClientPerSec > 0 && settings.ThrottleTotalPerSec > 0 {
		if th, err = throttle.New(throttle.Config{
			TotalNPerSec:   settings.ThrottleTotalPerSec,
			TotalBurst:     settings.ThrottleTotalPerSec * 2,
			EachKeyNPerSec: settings.ThrottleClientPerSec,
			EachKeyBurst:   settings.ThrottleClientPerSec * 2,
		}); err != nil {
			return web.Deps{}, errors.Wrap(err, "new throttle")
		}
	}

	return web.Deps{
		Metadata:       meta,
		History:        recorder,
		Preferences:    prefs,
		Manager:        manager,
		Executor:       executor,
		Catalog:        catalog,
		Uploads:        pipeline,
		Archiver:       archiver,
		Throttle:       th,
		AllowedOrigins: settings.AllowedOrigins,
		HistoryLimit:   settings.HistoryLimit,
		Logger:         log.Logger.Named("web"),
	}, nil
}

func init() {
	rootCMD.AddCommand(apiCMD)
}
