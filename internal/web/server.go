// Package web gin server
package web

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Laisky/sqlite-explorer/internal/datafile"
	"github.com/Laisky/sqlite-explorer/internal/store/history"
	"github.com/Laisky/sqlite-explorer/internal/store/metadata"
	"github.com/Laisky/sqlite-explorer/internal/upload"
	"github.com/Laisky/sqlite-explorer/library/db/sql/kv"
	"github.com/Laisky/sqlite-explorer/library/log"
	"github.com/Laisky/sqlite-explorer/library/throttle"
)

// Deps are the services the HTTP surface calls into.
type Deps struct {
	Metadata    *metadata.Store
	History     *history.Recorder
	Preferences kv.Interface
	Manager     *datafile.Manager
	Executor    *datafile.Executor
	Catalog     *datafile.Catalog
	Uploads     *upload.Pipeline
	// Archiver is optional, archived results are unavailable without it.
	Archiver *datafile.Archiver
	// Throttle is optional, it limits uploads and query execution per client.
	Throttle *throttle.Throttle

	// AllowedOrigins lists hosts allowed by CORS, a leading "." matches subdomains.
	AllowedOrigins []string
	HistoryLimit   int
	Logger         logSDK.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Metadata == nil:
		return errors.New("metadata store is required")
	case d.History == nil:
		return errors.New("history recorder is required")
	case d.Preferences == nil:
		return errors.New("preference store is required")
	case d.Manager == nil:
		return errors.New("connection manager is required")
	case d.Executor == nil:
		return errors.New("query executor is required")
	case d.Catalog == nil:
		return errors.New("catalog is required")
	case d.Uploads == nil:
		return errors.New("upload pipeline is required")
	}
	return nil
}

// Server is the HTTP API.
type Server struct {
	deps   Deps
	engine *gin.Engine
	logger logSDK.Logger
}

// NewServer builds the gin engine and registers every route.
func NewServer(deps Deps) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server dependencies")
	}
	if deps.Logger == nil {
		deps.Logger = log.Logger.Named("web")
	}

	s := &Server{
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger,
	}
	s.engine.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(
			gmw.WithLogger(deps.Logger.Named("gin")),
		),
		allowCORS(deps.AllowedOrigins),
	)
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := s.throttleByClient()

	dbs := s.engine.Group("/databases")
	dbs.GET("", s.listDatabases)
	dbs.GET("/favorites", s.listFavoriteDatabases)
	dbs.POST("/upload", limited, s.uploadDatabase)
	dbs.GET("/current", s.currentDatabase)
	dbs.POST("/close", s.closeDatabase)
	dbs.GET("/:id", s.getDatabase)
	dbs.PUT("/:id", s.updateDatabase)
	dbs.DELETE("/:id", s.deleteDatabase)
	dbs.POST("/:id/open", s.openDatabase)
	dbs.GET("/:id/tables", s.listTables)
	dbs.GET("/:id/tables/:table/schema", s.tableSchema)
	dbs.POST("/:id/query", limited, s.queryDatabase)

	query := s.engine.Group("/query")
	query.POST("", limited, s.runQuery)
	query.GET("/history", s.queryHistory)
	query.GET("/history/:id/results", s.archivedResults)
	query.GET("/saved", s.listSavedQueries)
	query.POST("/saved", s.createSavedQuery)
	query.GET("/saved/:id", s.getSavedQuery)
	query.PUT("/saved/:id", s.updateSavedQuery)
	query.DELETE("/saved/:id", s.deleteSavedQuery)
	query.POST("/favorite/:id", s.toggleSavedQueryFavorite)
	query.GET("/search", s.searchSavedQueries)
	query.GET("/analytics", s.queryAnalytics)

	prefs := s.engine.Group("/preferences")
	prefs.GET("", s.listPreferences)
	prefs.POST("", s.setPreferences)
	prefs.GET("/:key", s.getPreference)
	prefs.DELETE("/:key", s.deletePreference)
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening on http", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server exit")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	s.logger.Info("http server stopped")
	return nil
}

// throttleByClient rejects requests over the per client rate with 429.
func (s *Server) throttleByClient() gin.HandlerFunc {
	th := s.deps.Throttle
	return func(ctx *gin.Context) {
		if th == nil || th.Allow(ctx.ClientIP()) {
			ctx.Next()
			return
		}

		s.logFromCtx(ctx, "throttle").Warn("request throttled",
			zap.String("client_ip", ctx.ClientIP()),
			zap.String("path", ctx.FullPath()))
		ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "too many requests"})
	}
}

// allowCORS echoes allowed origins and answers their preflight requests.
func allowCORS(allowed []string) gin.HandlerFunc {
	patterns := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
			patterns = append(patterns, o)
		}
	}

	return func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")
		allowedOrigin := ""
		if origin != "" && originAllowed(origin, patterns) {
			allowedOrigin = origin
		}

		if allowedOrigin != "" {
			ctx.Header("Access-Control-Allow-Origin", allowedOrigin)
			ctx.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, X-Requested-With")
			ctx.Header("Access-Control-Max-Age", "86400")
			ctx.Header("Vary", "Origin")

			if ctx.Request.Method == http.MethodOptions {
				ctx.AbortWithStatus(http.StatusNoContent)
				return
			}
		} else if origin != "" && ctx.Request.Method == http.MethodOptions {
			ctx.AbortWithStatus(http.StatusForbidden)
			return
		}

		ctx.Next()
	}
}

func originAllowed(origin string, patterns []string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}

	for _, p := range patterns {
		switch {
		case p == "*":
			return true
		case strings.HasPrefix(p, "."):
			if strings.HasSuffix(host, p) || host == p[1:] {
				return true
			}
		case host == p:
			return true
		}
	}
	return false
}
