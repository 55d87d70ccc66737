package web

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Laisky/sqlite-explorer/internal/datafile"
	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/internal/store/history"
)

// runQuery executes against the open connection. Reads answer with the bare
// row array, writes with {changes, lastInsertId}.
func (s *Server) runQuery(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "run_query")
	var req queryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SQL) == "" {
		abortWithError(ctx, logger, errs.New(errs.CodeValidation, "SQL query is required"))
		return
	}

	out, err := s.deps.Executor.Run(ctx, req.SQL)
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	if out.HistoryID != "" {
		ctx.Header("X-History-Id", out.HistoryID)
	}
	if out.Kind == datafile.KindWrite {
		if summary, err := s.deps.Manager.CurrentSummary(); err == nil {
			s.syncCatalog(ctx, logger, summary.Path)
		}
	}

	if out.Kind == datafile.KindRead {
		ctx.JSON(http.StatusOK, out.Rows)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"changes":      out.Changes,
		"lastInsertId": out.LastInsertID,
	})
}

func (s *Server) queryHistory(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "query_history")
	entries, err := s.deps.History.Recent(ctx, queryInt(ctx, "limit", s.deps.HistoryLimit))
	if err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeStorage, "failed to load query history"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"history": entries})
}

func (s *Server) archivedResults(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "archived_results")
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		abortWithError(ctx, logger, errs.Newf(errs.CodeValidation, "invalid history id %q", ctx.Param("id")))
		return
	}

	entry, err := s.deps.History.Get(ctx, id)
	if err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeStorage, "failed to load history entry"))
		return
	}
	if entry == nil {
		abortWithError(ctx, logger, errs.New(errs.CodeNotFound, "history entry not found"))
		return
	}
	if entry.ResultsPath == nil || s.deps.Archiver == nil {
		abortWithError(ctx, logger, errs.New(errs.CodeNotFound, "no archived results for this entry"))
		return
	}

	doc, err := s.deps.Archiver.Load(*entry.ResultsPath)
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"result": doc})
}

func (s *Server) listSavedQueries(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "list_saved_queries")
	queries, err := s.deps.History.ListSaved(ctx)
	if err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeStorage, "failed to list saved queries"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"queries": queries})
}

func (s *Server) createSavedQuery(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "create_saved_query")
	var in history.SavedQueryInput
	if err := ctx.ShouldBindJSON(&in); err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeValidation, "invalid request body"))
		return
	}

	saved, err := s.deps.History.CreateSaved(ctx, in)
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"query": saved})
}

func (s *Server) getSavedQuery(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "get_saved_query")
	id, err := pathID(ctx, "id")
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}

	saved, err := s.deps.History.GetSaved(ctx, id)
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"query": saved})
}

func (s *Server) updateSavedQuery(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "update_saved_query")
	id, err := pathID(ctx, "id")
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}

	var patch history.SavedQueryPatch
	if err := ctx.ShouldBindJSON(&patch); err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeValidation, "invalid request body"))
		return
	}

	saved, err := s.deps.History.UpdateSaved(ctx, id, patch)
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"query": saved})
}

func (s *Server) deleteSavedQuery(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "delete_saved_query")
	id, err := pathID(ctx, "id")
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}

	if err := s.deps.History.DeleteSaved(ctx, id); err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) toggleSavedQueryFavorite(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "toggle_saved_query_favorite")
	id, err := pathID(ctx, "id")
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}

	saved, err := s.deps.History.ToggleFavorite(ctx, id)
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"query": saved})
}

func (s *Server) searchSavedQueries(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "search_saved_queries")
	queries, err := s.deps.History.Search(ctx, ctx.Query("q"))
	if err != nil {
		abortWithError(ctx, logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"queries": queries})
}

// queryAnalytics loads popular, slow and summary figures concurrently.
func (s *Server) queryAnalytics(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "query_analytics")
	days := queryInt(ctx, "days", 7)
	limit := queryInt(ctx, "limit", 10)

	var (
		popular []history.PopularQuery
		slow    []history.Entry
		summary *history.Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		popular, err = s.deps.History.Popular(gctx, days, limit)
		return err
	})
	g.Go(func() (err error) {
		slow, err = s.deps.History.Slow(gctx, limit)
		return err
	})
	g.Go(func() (err error) {
		summary, err = s.deps.History.Summary(gctx, days)
		return err
	})
	if err := g.Wait(); err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeStorage, "failed to load query analytics"))
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"popular": popular,
		"slow":    slow,
		"summary": summary,
	})
}
