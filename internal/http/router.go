package httpx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/clouddeploy/internal/cache"
	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/metrics"
	"github.com/splax/clouddeploy/internal/service/admin"
	"github.com/splax/clouddeploy/internal/service/analytics"
	"github.com/splax/clouddeploy/internal/service/auth"
	"github.com/splax/clouddeploy/internal/service/deploy"
	"github.com/splax/clouddeploy/internal/service/logs"
	"github.com/splax/clouddeploy/internal/service/project"
)

const (
	requestIDHeader    = "X-Request-ID"
	processTimeHeader  = "X-Process-Time"
	maxBodyBytes       = 1 << 20
	healthCheckTimeout = 2 * time.Second
	unmatchedRoute     = "unmatched"
)

// Deps carries the services and settings the router is wired to.
type Deps struct {
	Logger *slog.Logger

	AppName     string
	AppVersion  string
	Environment string
	FrontendURL string

	Auth      auth.Service
	Projects  project.Service
	Deploy    *deploy.Service
	Logs      logs.Service
	Analytics analytics.Service
	Admin     admin.Service
	Cache     cache.Cache

	Limiter    RateLimiter
	RateLimit  int
	RateWindow time.Duration

	Metrics  *metrics.HTTP
	Gatherer prometheus.Gatherer

	// DBHealth pings the database for readiness probes.
	DBHealth func(context.Context) error
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	logger  *slog.Logger

	appName     string
	appVersion  string
	environment string
	frontendURL string
	started     time.Time

	auth      auth.Service
	projects  project.Service
	deploy    *deploy.Service
	logs      logs.Service
	analytics analytics.Service
	admin     admin.Service
	cache     cache.Cache

	upgrader   websocket.Upgrader
	limiter    RateLimiter
	rateLimit  int
	rateWindow time.Duration
	metrics    *metrics.HTTP
	gatherer   prometheus.Gatherer
	dbHealth   func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(deps Deps) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:         http.NewServeMux(),
		logger:      logger,
		appName:     deps.AppName,
		appVersion:  deps.AppVersion,
		environment: deps.Environment,
		frontendURL: strings.TrimRight(strings.TrimSpace(deps.FrontendURL), "/"),
		started:     time.Now(),
		auth:        deps.Auth,
		projects:    deps.Projects,
		deploy:      deps.Deploy,
		logs:        deps.Logs,
		analytics:   deps.Analytics,
		admin:       deps.Admin,
		cache:       deps.Cache,
		limiter:     deps.Limiter,
		rateLimit:   deps.RateLimit,
		rateWindow:  deps.RateWindow,
		metrics:     deps.Metrics,
		gatherer:    deps.Gatherer,
		dbHealth:    deps.DBHealth,
	}
	r.upgrader = websocket.Upgrader{CheckOrigin: r.allowedOrigin}
	if r.cache == nil {
		r.cache = cache.Noop{}
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.rateWindow <= 0 {
		r.rateWindow = time.Minute
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	r.register()
	r.handler = r.withRequestID(r.withCORS(r.audit(r.withRateLimit(r.mux))))
	return r
}

// ServeHTTP delegates to the middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("GET /{$}", r.handleRoot)
	r.mux.HandleFunc("GET /info", r.handleInfo)
	r.mux.Handle("GET /metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))

	r.mux.HandleFunc("GET /health", r.handleHealth)
	r.mux.HandleFunc("GET /health/{$}", r.handleHealth)
	r.mux.HandleFunc("GET /health/detailed", r.handleHealthDetailed)
	r.mux.HandleFunc("GET /health/ready", r.handleReady)
	r.mux.HandleFunc("GET /health/live", r.handleLive)

	r.mux.HandleFunc("POST /auth/register", r.handleRegister)
	r.mux.HandleFunc("POST /auth/login", r.handleLogin)
	r.mux.HandleFunc("POST /auth/refresh", r.handleRefresh)
	r.mux.HandleFunc("POST /auth/logout", r.requireAuth(r.handleLogout))
	r.mux.HandleFunc("GET /users/me", r.requireAuth(r.handleMe))

	r.mux.HandleFunc("GET /projects", r.requireAuth(r.handleListProjects))
	r.mux.HandleFunc("POST /projects", r.requireAuth(r.handleCreateProject))
	r.mux.HandleFunc("GET /projects/{id}", r.requireAuth(r.handleGetProject))
	r.mux.HandleFunc("PUT /projects/{id}", r.requireAuth(r.handleUpdateProject))
	r.mux.HandleFunc("DELETE /projects/{id}", r.requireAuth(r.handleDeleteProject))
	r.mux.HandleFunc("POST /projects/{id}/deploy", r.requireAuth(r.handleTriggerDeployment))
	r.mux.HandleFunc("GET /projects/{id}/deployments", r.requireAuth(r.handleListDeployments))

	r.mux.HandleFunc("GET /deployments/{id}", r.requireAuth(r.handleGetDeployment))
	r.mux.HandleFunc("GET /deployments/{id}/logs", r.requireAuth(r.handleDeploymentLogs))
	r.mux.HandleFunc("POST /deployments/{id}/cancel", r.requireAuth(r.handleCancelDeployment))
	r.mux.HandleFunc("GET /deployments/{id}/stream", r.requireAuth(r.handleDeploymentStream))
	r.mux.HandleFunc("GET /ws/deployments/{id}", r.requireAuth(r.handleDeploymentWS))

	r.mux.HandleFunc("GET /analytics/user/stats", r.requireAuth(r.handleUserStats))
	r.mux.HandleFunc("GET /analytics/project/{id}", r.requireAuth(r.handleProjectStats))
	r.mux.HandleFunc("GET /analytics/admin/overview", r.requireAdmin(r.handleAdminOverview))

	r.mux.HandleFunc("GET /admin/users", r.requireAdmin(r.handleAdminListUsers))
	r.mux.HandleFunc("GET /admin/users/{id}", r.requireAdmin(r.handleAdminGetUser))
	r.mux.HandleFunc("POST /admin/users/{id}/deactivate", r.requireAdmin(r.handleAdminDeactivate))
	r.mux.HandleFunc("POST /admin/users/{id}/activate", r.requireAdmin(r.handleAdminActivate))
	r.mux.HandleFunc("POST /admin/users/{id}/make-admin", r.requireAdmin(r.handleAdminMakeAdmin))
	r.mux.HandleFunc("POST /admin/users/{id}/remove-admin", r.requireAdmin(r.handleAdminRemoveAdmin))
	r.mux.HandleFunc("GET /admin/stats", r.requireAdmin(r.handleAdminStats))
	r.mux.HandleFunc("GET /admin/deployments", r.requireAdmin(r.handleAdminListDeployments))
	r.mux.HandleFunc("POST /admin/deployments/{id}/cancel", r.requireAdmin(r.handleAdminCancelDeployment))
	r.mux.HandleFunc("GET /admin/projects", r.requireAdmin(r.handleAdminListProjects))
	r.mux.HandleFunc("DELETE /admin/projects/{id}", r.requireAdmin(r.handleAdminDeleteProject))

	r.mux.HandleFunc("GET /cache/stats", r.requireAdmin(r.handleCacheStats))
	r.mux.HandleFunc("POST /cache/clear", r.requireAdmin(r.handleCacheClear))
	r.mux.HandleFunc("GET /cache/keys", r.requireAdmin(r.handleCacheKeys))
	r.mux.HandleFunc("DELETE /cache/key/{key...}", r.requireAdmin(r.handleCacheDeleteKey))
	r.mux.HandleFunc("GET /cache/health", r.handleCacheHealth)

	r.mux.HandleFunc("/", r.handleUnmatched)
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Welcome to " + r.appName,
		"version":     r.appVersion,
		"description": "Cloud Deployment Platform API Gateway",
		"endpoints": map[string]string{
			"authentication": "/auth",
			"projects":       "/projects",
			"deployments":    "/deployments",
			"users":          "/users",
			"health":         "/health",
			"analytics":      "/analytics",
			"cache":          "/cache (admin only)",
			"admin":          "/admin (admin only)",
			"metrics":        "/metrics",
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"status":    "operational",
	})
}

func (r *Router) handleInfo(w http.ResponseWriter, req *http.Request) {
	window := r.rateWindow.Round(time.Second)
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        r.appName,
		"version":     r.appVersion,
		"environment": r.environment,
		"uptime":      time.Since(r.started).Round(time.Second).String(),
		"limits": map[string]any{
			"rate_limit": fmt.Sprintf("%d requests per %s", r.rateLimit, window),
		},
	})
}

// handleUnmatched answers requests no route accepted, distinguishing an
// unknown path from a known path with the wrong method.
func (r *Router) handleUnmatched(w http.ResponseWriter, req *http.Request) {
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		if method == req.Method {
			continue
		}
		candidate := req.Clone(req.Context())
		candidate.Method = method
		if _, pattern := r.mux.Handler(candidate); pattern != "" && pattern != "/" {
			r.methodNotAllowed(w)
			return
		}
	}
	r.notFound(w)
}

// route returns the mux pattern serving req, used as a low-cardinality label.
func (r *Router) route(req *http.Request) string {
	_, pattern := r.mux.Handler(req)
	if pattern == "" || pattern == "/" {
		return unmatchedRoute
	}
	return pattern
}

func (r *Router) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id := strings.TrimSpace(req.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
			req.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, req)
	})
}

func (r *Router) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if origin != "" && r.allowedOrigin(req) {
			headers := w.Header()
			headers.Set("Access-Control-Allow-Origin", origin)
			headers.Set("Access-Control-Allow-Credentials", "true")
			headers.Set("Access-Control-Expose-Headers", "X-Request-ID, X-Process-Time, X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset, Retry-After")
			headers.Add("Vary", "Origin")
			if req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != "" {
				headers.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				headers.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
				headers.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, req)
	})
}

// allowedOrigin accepts requests without an Origin header, the configured
// frontend, or any origin when the frontend is "*".
func (r *Router) allowedOrigin(req *http.Request) bool {
	origin := strings.TrimRight(req.Header.Get("Origin"), "/")
	if origin == "" {
		return true
	}
	return r.frontendURL == "*" || strings.EqualFold(origin, r.frontendURL)
}

func (r *Router) audit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, start: start}
		route := r.route(req)
		next.ServeHTTP(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get(requestIDHeader)); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			if info.IsAdmin {
				actor = "admin"
			}
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		case rateLimitExempt(req.URL.Path):
			r.logger.Debug("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	start  time.Time
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
		elapsed := float64(time.Since(sr.start).Microseconds()) / 1000
		sr.Header().Set(processTimeHeader, strconv.FormatFloat(elapsed, 'f', 2, 64)+"ms")
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.WriteHeader(http.StatusOK)
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		if sr.status == 0 {
			sr.status = http.StatusSwitchingProtocols
		}
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

// pathID parses a numeric path parameter.
func pathID(req *http.Request, name string) (int64, error) {
	raw := req.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Invalid(fmt.Sprintf("%s must be a positive integer", name))
	}
	return id, nil
}

// pageFromQuery reads skip and limit, defaulting limit to 100. Range checks
// are left to the services.
func pageFromQuery(req *http.Request) (domain.Page, error) {
	page := domain.Page{Limit: domain.DefaultPageLimit}
	query := req.URL.Query()
	if raw := query.Get("skip"); raw != "" {
		skip, err := strconv.Atoi(raw)
		if err != nil {
			return page, domain.Invalid("skip must be an integer")
		}
		page.Skip = skip
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return page, domain.Invalid("limit must be an integer")
		}
		page.Limit = limit
	}
	return page, nil
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "Not Found")
}
