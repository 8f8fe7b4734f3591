package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const defaultCacheKeysLimit = 100

func (r *Router) handleCacheStats(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cache":     r.cache.Stats(req.Context()),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) handleCacheClear(w http.ResponseWriter, req *http.Request) {
	pattern := req.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	cleared, err := r.cache.DeletePattern(req.Context(), pattern)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.logger.Info("cache cleared", "pattern", pattern, "count", cleared, "user_id", caller(req))
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       fmt.Sprintf("Cleared %d cache entries matching pattern: %s", cleared, pattern),
		"cleared_count": cleared,
	})
}

func (r *Router) handleCacheKeys(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	pattern := query.Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	limit := defaultCacheKeysLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if !r.cache.Connected() {
		writeJSON(w, http.StatusOK, map[string]any{"keys": []string{}, "count": 0})
		return
	}
	keys, err := r.cache.Keys(req.Context(), pattern, limit)
	if err != nil {
		r.logger.Error("listing cache keys failed", "pattern", pattern, "error", err)
		writeError(w, http.StatusInternalServerError, "Error listing keys: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":    keys,
		"count":   len(keys),
		"pattern": pattern,
	})
}

func (r *Router) handleCacheDeleteKey(w http.ResponseWriter, req *http.Request) {
	key := req.PathValue("key")
	deleted, err := r.cache.Delete(req.Context(), key)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	outcome := "not found"
	if deleted {
		outcome = "deleted"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Cache key " + outcome,
		"key":     key,
		"deleted": deleted,
	})
}

func (r *Router) handleCacheHealth(w http.ResponseWriter, req *http.Request) {
	status := "unhealthy"
	connected := r.cache.Connected()
	if connected {
		if err := r.cache.Ping(req.Context()); err != nil {
			connected = false
		} else {
			status = "healthy"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"connected": connected,
		"service":   "redis",
	})
}
