package httpx

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"
)

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"version":   r.appVersion,
	})
}

// handleHealthDetailed reports dependency and process state. A failing
// database makes the whole report degraded.
func (r *Router) handleHealthDetailed(w http.ResponseWriter, req *http.Request) {
	status := "healthy"
	services := map[string]any{"api": "running"}
	if err := r.pingDatabase(req.Context()); err != nil {
		status = "degraded"
		services["database"] = map[string]any{"status": "disconnected", "error": err.Error()}
	} else {
		services["database"] = map[string]any{"status": "connected"}
	}
	cacheStatus := "disconnected"
	if r.cache.Connected() {
		cacheStatus = "connected"
	}
	services["cache"] = cacheStatus

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	system := map[string]any{
		"goroutines":       runtime.NumGoroutine(),
		"heap_alloc_bytes": mem.HeapAlloc,
		"num_cpu":          runtime.NumCPU(),
		"process_id":       os.Getpid(),
		"uptime_seconds":   int64(time.Since(r.started).Seconds()),
	}
	if r.deploy != nil {
		system["running_deployments"] = r.deploy.Running()
	}
	if hub := r.logs.Hub(); hub != nil {
		system["stream_subscribers"] = hub.Subscribers()
	}
	payload := map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"version":   r.appVersion,
		"system":    system,
		"services":  services,
	}
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) handleReady(w http.ResponseWriter, req *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := r.pingDatabase(req.Context()); err != nil {
		r.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "not_ready",
			"timestamp": now,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "timestamp": now})
}

func (r *Router) handleLive(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) pingDatabase(ctx context.Context) error {
	if r.dbHealth == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return r.dbHealth(ctx)
}
