package web

import (
	"encoding/json"
	"net/http"

	errors "github.com/Laisky/errors/v2"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/sqlite-explorer/internal/library/errs"
	"github.com/Laisky/sqlite-explorer/library/db/sql/kv"
)

// setPreferencesRequest accepts either a single {key, value} pair or a
// {preferences: {...}} map.
type setPreferencesRequest struct {
	Key         string                     `json:"key"`
	Value       json.RawMessage            `json:"value"`
	Preferences map[string]json.RawMessage `json:"preferences"`
}

// preferenceValue stores JSON strings unquoted and anything else as JSON text.
func preferenceValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// kvError maps preference store errors onto the error taxonomy.
func kvError(err error, key string) error {
	switch {
	case errors.Is(err, kv.ErrKeyNotFound):
		return errs.Newf(errs.CodeNotFound, "preference %q not found", key)
	case errors.Is(err, kv.ErrInvalidKey):
		return errs.Newf(errs.CodeValidation, "invalid preference key %q", key)
	default:
		return errs.Wrap(err, errs.CodeStorage, "preference store failure")
	}
}

func (s *Server) listPreferences(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "list_preferences")
	items, err := s.deps.Preferences.List(ctx)
	if err != nil {
		abortWithError(ctx, logger, kvError(err, ""))
		return
	}

	prefs := make(map[string]string, len(items))
	for _, item := range items {
		prefs[item.Key] = item.Value
	}
	ctx.JSON(http.StatusOK, gin.H{"preferences": prefs})
}

func (s *Server) getPreference(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "get_preference")
	key := ctx.Param("key")
	item, err := s.deps.Preferences.Get(ctx, key)
	if err != nil {
		abortWithError(ctx, logger, kvError(err, key))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"key": item.Key, "value": item.Value})
}

func (s *Server) setPreferences(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "set_preferences")
	var req setPreferencesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, logger, errs.Wrap(err, errs.CodeValidation, "invalid request body"))
		return
	}

	switch {
	case len(req.Preferences) > 0:
		items := make(map[string]string, len(req.Preferences))
		for k, v := range req.Preferences {
			items[k] = preferenceValue(v)
		}
		if err := s.deps.Preferences.SetMany(ctx, items); err != nil {
			abortWithError(ctx, logger, kvError(err, ""))
			return
		}
	case req.Key != "" && len(req.Value) > 0:
		if err := s.deps.Preferences.Set(ctx, req.Key, preferenceValue(req.Value)); err != nil {
			abortWithError(ctx, logger, kvError(err, req.Key))
			return
		}
	default:
		abortWithError(ctx, logger, errs.New(errs.CodeValidation, "key and value, or preferences, are required"))
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) deletePreference(ctx *gin.Context) {
	logger := s.logFromCtx(ctx, "delete_preference")
	key := ctx.Param("key")
	if err := s.deps.Preferences.Del(ctx, key); err != nil {
		abortWithError(ctx, logger, kvError(err, key))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}
