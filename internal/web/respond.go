package web

import (
	"net/http"
	"strconv"
	"strings"

	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/sqlite-explorer/internal/library/errs"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// logFromCtx returns the request scoped logger.
func (s *Server) logFromCtx(ctx *gin.Context, name string) logSDK.Logger {
	if logger := gmw.GetLogger(ctx); logger != nil {
		return logger.Named(name)
	}
	return s.logger.Named(name)
}

// abortWithError maps err onto a status code and writes {error, details}.
func abortWithError(ctx *gin.Context, logger logSDK.Logger, err error) {
	abortWithStatus(ctx, logger, errs.HTTPStatus(err), err)
}

// abortWithStatus writes err with an explicit status code.
func abortWithStatus(ctx *gin.Context, logger logSDK.Logger, status int, err error) {
	body := errorBody{Error: "internal server error"}
	if typed, ok := errs.AsError(err); ok {
		body.Error = typed.Message
		body.Details = typed.Details
	} else if status < http.StatusInternalServerError {
		body.Error = err.Error()
	} else {
		body.Details = err.Error()
	}

	if status >= http.StatusInternalServerError {
		logger.Error("http error", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Warn("http warning", zap.Int("status", status), zap.Error(err))
	}
	ctx.AbortWithStatusJSON(status, body)
}

// pathID parses a positive integer path parameter.
func pathID(ctx *gin.Context, name string) (int64, error) {
	raw := strings.TrimSpace(ctx.Param(name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.Newf(errs.CodeValidation, "invalid %s %q", name, raw)
	}
	return id, nil
}

func queryInt(ctx *gin.Context, name string, def int) int {
	raw := strings.TrimSpace(ctx.Query(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
