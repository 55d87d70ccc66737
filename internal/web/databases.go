package web

import (
	"context"
	"net/http"
	"os"
	"strings"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/sqlite-explorer/internal/datafile"
	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/internal/store/metadata"
)

var allowedUploadContentTypes = map[string]struct{}{
	"":                         {},
	"application/octet-stream": {},
	"application/x-sqlite3":    {},
	"application/vnd.sqlite3":  {},
}

// multipartOverhead is the slack allowed on top of the file size limit for
// multipart framing.
const multipartOverhead = 1 << 20

type updateDatabaseRequest struct {
	Name       *string `json:"name"`
	Notes      *string `json:"notes"`
	IsFavorite *bool   `json:"is_favorite"`
}

type queryRequest struct {
	SQL string `json:"sql"`
}

// recordFromPath loads the record named by the :id parameter, writing the
// error response itself when it cannot.
func (s *Server) recordFromPath(ctx *gin.Context, logger logSDK.Logger) (*metadata.Record, bool) {
	id, err := pathID(ctx, "id")
	if err != nil {
		abortWithError(ctx, logger, err)
		return nil, false
	}

	rec, err := s.deps.Metadata.FindByID(ctx, id)
	if err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeStorage, "failed to load database"))
		return nil, false
	}
	if rec == nil {
		abortWithError(ctx, logger, errs.New(errs.CodeNotFound, "Database not found"))
		return nil, false
	}

	return rec, true
}

func (s *Server) listDatabases(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "list_databases")
	records, err := s.deps.Metadata.List(ctx)
	if err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeStorage, "failed to list databases"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"databases": records})
}

func (s *Server) listFavoriteDatabases(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "list_favorite_databases")
	records, err := s.deps.Metadata.ListFavorites(ctx)
	if err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeStorage, "failed to list favorite databases"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"databases": records})
}

// uploadDatabase stores the multipart "file" field, registers it and makes it
// the open connection. Every failure after a file was received is a 500.
func (s *Server) uploadDatabase(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "upload_database")
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, s.deps.Uploads.MaxSize()+multipartOverhead)

	fh, err := ctx.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithStatus(ctx, logger, http.StatusInternalServerError,
				errs.Newf(errs.CodeValidation, "file too large, maximum size is %dMB", s.deps.Uploads.MaxSize()>>20))
			return
		}
		abortWithStatus(ctx, logger, http.StatusBadRequest, errs.New(errs.CodeValidation, "No file uploaded"))
		return
	}

	contentType := strings.ToLower(strings.TrimSpace(fh.Header.Get("Content-Type")))
	if _, ok := allowedUploadContentTypes[contentType]; !ok {
		abortWithStatus(ctx, logger, http.StatusInternalServerError,
			errs.Newf(errs.CodeValidation, "Invalid file type %q", contentType))
		return
	}

	f, err := fh.Open()
	if err != nil {
		abortWithStatus(ctx, logger, http.StatusInternalServerError,
			errs.Wrap(err, errs.CodeStorage, "Failed to process upload"))
		return
	}
	defer f.Close()

	rec, err := s.deps.Uploads.Accept(ctx, f, fh.Filename)
	if err != nil {
		abortWithStatus(ctx, logger, http.StatusInternalServerError, err)
		return
	}

	summary, err := s.deps.Manager.Open(ctx, rec.Path, rec.Name)
	if err != nil {
		abortWithStatus(ctx, logger, http.StatusInternalServerError, err)
		return
	}

	logger.Info("database uploaded",
		zap.Int64("id", rec.ID),
		zap.String("name", rec.Name),
		zap.Int64("size", rec.Size))
	ctx.JSON(http.StatusOK, gin.H{"database": rec, "tables": summary.Tables})
}

func (s *Server) currentDatabase(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "current_database")
	summary, err := s.deps.Manager.CurrentSummary()
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"database": summary})
}

func (s *Server) closeDatabase(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "close_database")
	if err := s.deps.Manager.Close(); err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeStorage, "failed to close database"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

// getDatabase returns the record with the table catalog stored for it.
func (s *Server) getDatabase(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "get_database")
	rec, ok := s.recordFromPath(ctx, logger)
	if !ok {
		return
	}

	catalog, err := s.deps.Metadata.Tables(ctx, rec.ID)
	if err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeStorage, "failed to load table catalog"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"database": rec, "catalog": catalog})
}

// syncCatalog stores the current size and table catalog of the file at path
// after a write changed it. Failures are logged, the write already happened.
func (s *Server) syncCatalog(ctx context.Context, logger logSDK.Logger, path string) {
	rec, err := s.deps.Metadata.FindByPath(ctx, path)
	if err != nil {
		logger.Warn("load record for catalog sync", zap.Error(err))
		return
	}
	if rec == nil {
		return
	}

	tables, err := s.deps.Catalog.Inspect(ctx, path)
	if err != nil {
		logger.Warn("inspect database for catalog sync", zap.Error(err))
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		logger.Warn("stat database for catalog sync", zap.Error(err))
		return
	}

	if _, err := s.deps.Metadata.Register(ctx, metadata.RegisterInput{
		Name:   rec.Name,
		Path:   path,
		Size:   info.Size(),
		Tables: tables,
	}); err != nil {
		logger.Warn("store synced catalog", zap.Error(err))
	}
}

func (s *Server) updateDatabase(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "update_database")
	id, err := pathID(ctx, "id")
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}

	var req updateDatabaseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeValidation, "invalid request body"))
		return
	}

	rec, err := s.deps.Metadata.Update(ctx, id, metadata.Patch{
		Name:       req.Name,
		Notes:      req.Notes,
		IsFavorite: req.IsFavorite,
	})
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"database": rec})
}

// deleteDatabase removes the stored file, then the record. A file that
// cannot be removed is logged and does not block the record deletion.
func (s *Server) deleteDatabase(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "delete_database")
	rec, ok := s.recordFromPath(ctx, logger)
	if !ok {
		return
	}
	logger = logger.With(zap.Int64("id", rec.ID), zap.String("path", rec.Path))

	if current, err := s.deps.Manager.CurrentSummary(); err == nil && current.Path == rec.Path {
		if err := s.deps.Manager.Close(); err != nil {
			logger.Warn("close connection before delete", zap.Error(err))
		}
	}

	if err := os.Remove(rec.Path); err != nil {
		logger.Warn("remove database file", zap.Error(err))
	}
	s.deps.Catalog.Invalidate(rec.Path)

	if err := s.deps.Metadata.Delete(ctx, rec.ID); err != nil {
		abortWithError(ctx, logger, err)
		return
	}

	logger.Info("database deleted")
	ctx.JSON(http.StatusOK, gin.H{"message": "Database deleted successfully"})
}

func (s *Server) openDatabase(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "open_database")
	rec, ok := s.recordFromPath(ctx, logger)
	if !ok {
		return
	}

	summary, err := s.deps.Manager.Open(ctx, rec.Path, rec.Name)
	if err != nil {
		if errs.IsCode(err, errs.CodeNotFound) || errs.IsCode(err, errs.CodeCorruptFile) {
			abortWithError(ctx, logger, err)
			return
		}
		abortWithStatus(ctx, logger, http.StatusInternalServerError, err)
		return
	}
	if err := s.deps.Metadata.Touch(ctx, rec.ID); err != nil {
		logger.Warn("touch database metadata", zap.Error(err))
	}

	ctx.JSON(http.StatusOK, gin.H{"database": summary})
}

func (s *Server) listTables(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "list_tables")
	rec, ok := s.recordFromPath(ctx, logger)
	if !ok {
		return
	}

	tables, err := s.deps.Catalog.Tables(ctx, rec.Path)
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"tables": tables})
}

func (s *Server) tableSchema(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "table_schema")
	rec, ok := s.recordFromPath(ctx, logger)
	if !ok {
		return
	}

	schema, err := s.deps.Catalog.Schema(ctx, rec.Path, ctx.Param("table"))
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"schema": schema})
}

// queryDatabase runs one statement against a stored file without touching
// the open connection.
func (s *Server) queryDatabase(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "query_database")
	var req queryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SQL) == "" {
		abortWithError(ctx, logger, errs.New(errs.CodeValidation, "SQL query is required"))
		return
	}

	rec, ok := s.recordFromPath(ctx, logger)
	if !ok {
		return
	}

	out, err := s.deps.Executor.RunOn(ctx, rec.Path, rec.Name, req.SQL)
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	if out.Kind == datafile.KindWrite {
		s.syncCatalog(ctx, logger, rec.Path)
	} else if err := s.deps.Metadata.Touch(ctx, rec.ID); err != nil {
		logger.Warn("touch database metadata", zap.Error(err))
	}

	if out.Kind == datafile.KindRead {
		ctx.JSON(http.StatusOK, gin.H{
			"results":       out.Rows,
			"columns":       out.Columns,
			"executionTime": out.ExecutionTimeMS(),
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"results": gin.H{
			"changes":      out.Changes,
			"lastInsertId": out.LastInsertID,
		},
		"executionTime": out.ExecutionTimeMS(),
	})
}
