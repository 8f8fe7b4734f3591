package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/clouddeploy/internal/cache"
	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/metrics"
	"github.com/splax/clouddeploy/internal/repository/sqlite"
	"github.com/splax/clouddeploy/internal/service/admin"
	"github.com/splax/clouddeploy/internal/service/analytics"
	"github.com/splax/clouddeploy/internal/service/auth"
	"github.com/splax/clouddeploy/internal/service/deploy"
	"github.com/splax/clouddeploy/internal/service/logs"
	"github.com/splax/clouddeploy/internal/service/project"
	"github.com/splax/clouddeploy/internal/ws"
	"github.com/splax/clouddeploy/pkg/config"
)

const testPassword = "Str0ng!Passw0rd"

type testEnv struct {
	t      *testing.T
	router *Router
	store  *sqlite.Store
	deploy *deploy.Service
}

func newTestEnv(t *testing.T, opts ...func(*Deps)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := sqlite.Open(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg := config.APIConfig{
		JWTSecret:       "router-test-secret",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}
	hub := ws.NewHub()
	logSvc := logs.New(hub, logger)
	deploySvc := deploy.New(store, store, logSvc, logger, deploy.Config{
		QueueDelay:  5 * time.Millisecond,
		BuildDelay:  5 * time.Millisecond,
		DeployDelay: 5 * time.Millisecond,
		SuccessRate: 1,
	})
	reg := prometheus.NewRegistry()
	deps := Deps{
		Logger:      logger,
		AppName:     "Cloud Deploy API Gateway",
		AppVersion:  "1.0.0",
		FrontendURL: "http://localhost:3000",
		Auth:        auth.New(store, store, logger, cfg),
		Projects:    project.New(store, store, logger),
		Deploy:      deploySvc,
		Logs:        logSvc,
		Analytics:   analytics.New(store, store, store, logger),
		Admin:       admin.New(store, store, store, deploySvc, cache.Noop{}, logger),
		Cache:       cache.Noop{},
		RateLimit:   1000,
		RateWindow:  time.Minute,
		Metrics:     metrics.NewHTTP(reg),
		Gatherer:    reg,
		DBHealth:    store.Ping,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	router := NewRouter(deps)
	t.Cleanup(func() {
		router.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = deploySvc.Shutdown(ctx)
		hub.Stop()
		_ = store.Close()
	})
	return &testEnv{t: t, router: router, store: store, deploy: deploySvc}
}

func (e *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:4321"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// login registers email and returns an access token.
func (e *testEnv) login(email string) string {
	e.t.Helper()
	creds := map[string]string{"email": email, "password": testPassword}
	if rr := e.do(http.MethodPost, "/auth/register", creds, ""); rr.Code != http.StatusCreated {
		e.t.Fatalf("register %s: status %d body %s", email, rr.Code, rr.Body.String())
	}
	rr := e.do(http.MethodPost, "/auth/login", creds, "")
	if rr.Code != http.StatusOK {
		e.t.Fatalf("login %s: status %d body %s", email, rr.Code, rr.Body.String())
	}
	var pair auth.TokenPair
	decode(e.t, rr, &pair)
	return pair.AccessToken
}

func (e *testEnv) promote(token string) {
	e.t.Helper()
	var me domain.User
	decode(e.t, e.do(http.MethodGet, "/users/me", nil, token), &me)
	if _, err := e.store.SetUserAdmin(context.Background(), me.ID, true); err != nil {
		e.t.Fatalf("promote: %v", err)
	}
}

func (e *testEnv) createProject(token, name string) domain.Project {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/projects", map[string]string{
		"name":       name,
		"github_url": "https://github.com/acme/" + name,
	}, token)
	if rr.Code != http.StatusCreated {
		e.t.Fatalf("create project: status %d body %s", rr.Code, rr.Body.String())
	}
	var p domain.Project
	decode(e.t, rr, &p)
	return p
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error string `json:"error"`
	}
	decode(t, rr, &payload)
	return payload.Error
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	creds := map[string]string{"email": "Dev@Example.com", "password": testPassword}

	rr := env.do(http.MethodPost, "/auth/register", creds, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var user domain.User
	decode(t, rr, &user)
	if user.Email != "dev@example.com" || !user.IsActive || user.IsAdmin {
		t.Fatalf("unexpected user %+v", user)
	}
	if strings.Contains(rr.Body.String(), "password") {
		t.Fatalf("password hash leaked: %s", rr.Body.String())
	}

	rr = env.do(http.MethodPost, "/auth/register", creds, "")
	if rr.Code != http.StatusConflict || errorMessage(t, rr) != "Email already registered" {
		t.Fatalf("expected duplicate conflict, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodPost, "/auth/login", map[string]string{"email": "dev@example.com", "password": "wrong"}, "")
	if rr.Code != http.StatusUnauthorized || errorMessage(t, rr) != "Incorrect email or password" {
		t.Fatalf("expected bad credentials, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodPost, "/auth/login", creds, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
	var pair auth.TokenPair
	decode(t, rr, &pair)
	if pair.TokenType != "bearer" || pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("unexpected token pair %+v", pair)
	}

	rr = env.do(http.MethodGet, "/users/me", nil, pair.AccessToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("me failed: %d", rr.Code)
	}

	rr = env.do(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh failed: %d %s", rr.Code, rr.Body.String())
	}
	var rotated auth.TokenPair
	decode(t, rr, &rotated)

	rr = env.do(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": pair.RefreshToken}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected replayed refresh token to fail, got %d", rr.Code)
	}

	rr = env.do(http.MethodPost, "/auth/refresh", map[string]string{}, "")
	if rr.Code != http.StatusBadRequest || errorMessage(t, rr) != "refresh_token is required" {
		t.Fatalf("expected missing refresh token error, got %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodPost, "/auth/logout", map[string]string{"refresh_token": rotated.RefreshToken}, rotated.AccessToken)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Successfully logged out") {
		t.Fatalf("logout failed: %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": rotated.RefreshToken}, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked refresh token to fail, got %d", rr.Code)
	}
}

func TestRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/projects", nil, "")
	if rr.Code != http.StatusUnauthorized || errorMessage(t, rr) != "Not authenticated" {
		t.Fatalf("expected 401 without token, got %d %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("expected WWW-Authenticate header")
	}

	rr = env.do(http.MethodGet, "/projects", nil, "not-a-jwt")
	if rr.Code != http.StatusUnauthorized || errorMessage(t, rr) != "Could not validate credentials" {
		t.Fatalf("expected 401 for garbage token, got %d %s", rr.Code, rr.Body.String())
	}

	token := env.login("inactive@example.com")
	var me domain.User
	decode(t, env.do(http.MethodGet, "/users/me", nil, token), &me)
	if _, err := env.store.SetUserActive(context.Background(), me.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	rr = env.do(http.MethodGet, "/users/me", nil, token)
	if rr.Code != http.StatusUnauthorized || errorMessage(t, rr) != "Inactive user" {
		t.Fatalf("expected inactive user rejection, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestProjectsAreOwnerScoped(t *testing.T) {
	env := newTestEnv(t)
	alice := env.login("alice@example.com")
	bob := env.login("bob@example.com")

	p := env.createProject(alice, "storefront")
	if p.Status != domain.ProjectActive {
		t.Fatalf("expected active project, got %s", p.Status)
	}

	path := fmt.Sprintf("/projects/%d", p.ID)
	for _, tc := range []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, path, nil},
		{http.MethodPut, path, map[string]string{"name": "stolen"}},
		{http.MethodDelete, path, nil},
		{http.MethodPost, path + "/deploy", nil},
		{http.MethodGet, path + "/deployments", nil},
		{http.MethodGet, fmt.Sprintf("/analytics/project/%d", p.ID), nil},
	} {
		rr := env.do(tc.method, tc.path, tc.body, bob)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404 for non-owner, got %d", tc.method, tc.path, rr.Code)
		}
	}

	var listed []domain.Project
	decode(t, env.do(http.MethodGet, "/projects", nil, bob), &listed)
	if len(listed) != 0 {
		t.Fatalf("expected empty list for bob, got %d", len(listed))
	}

	rr := env.do(http.MethodPut, path, map[string]string{"status": "inactive"}, alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("update failed: %d %s", rr.Code, rr.Body.String())
	}
	var updated domain.Project
	decode(t, rr, &updated)
	if updated.Status != domain.ProjectInactive || updated.Name != "storefront" {
		t.Fatalf("status-only update changed other fields: %+v", updated)
	}
	rr = env.do(http.MethodGet, "/projects?limit=0", nil, alice)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid limit rejection, got %d", rr.Code)
	}
	rr = env.do(http.MethodDelete, path, nil, alice)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d", rr.Code)
	}
	rr = env.do(http.MethodGet, path, nil, alice)
	if rr.Code != http.StatusNotFound || errorMessage(t, rr) != "Project not found" {
		t.Fatalf("expected deleted project to 404, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.login("val@example.com")

	rr := env.do(http.MethodPost, "/projects", map[string]string{
		"name":       "ok-name",
		"github_url": "http://github.com/acme/site",
	}, token)
	if rr.Code != http.StatusBadRequest || errorMessage(t, rr) != "URL must start with https://" {
		t.Fatalf("expected url validation error, got %d %s", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/projects", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || errorMessage(t, rec) != "invalid JSON body" {
		t.Fatalf("expected malformed body rejection, got %d %s", rec.Code, rec.Body.String())
	}

	rr = env.do(http.MethodGet, "/projects/abc", nil, token)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected bad id rejection, got %d", rr.Code)
	}
}

func waitForStatus(t *testing.T, env *testEnv, token string, id int64, want domain.DeploymentStatus) domain.Deployment {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		var d domain.Deployment
		decode(t, env.do(http.MethodGet, fmt.Sprintf("/deployments/%d", id), nil, token), &d)
		if d.Status == want {
			return d
		}
		if time.Now().After(deadline) {
			t.Fatalf("deployment %d stuck at %s, want %s", id, d.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDeploymentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.login("deployer@example.com")
	p := env.createProject(token, "api-server")

	rr := env.do(http.MethodPost, fmt.Sprintf("/projects/%d/deploy", p.ID), nil, token)
	if rr.Code != http.StatusCreated {
		t.Fatalf("trigger failed: %d %s", rr.Code, rr.Body.String())
	}
	var created domain.Deployment
	decode(t, rr, &created)
	if created.Status != domain.DeploymentPending || created.CompletedAt != nil {
		t.Fatalf("unexpected initial deployment %+v", created)
	}

	done := waitForStatus(t, env, token, created.ID, domain.DeploymentSuccess)
	if done.CompletedAt == nil {
		t.Fatalf("expected completed_at on terminal deployment")
	}

	var logsPayload struct {
		Logs string `json:"logs"`
	}
	decode(t, env.do(http.MethodGet, fmt.Sprintf("/deployments/%d/logs", created.ID), nil, token), &logsPayload)
	want := deploy.LogQueued + deploy.LogBuilding + deploy.LogBuilt + deploy.LogSucceeded
	if logsPayload.Logs != want {
		t.Fatalf("unexpected logs %q", logsPayload.Logs)
	}

	rr = env.do(http.MethodPost, fmt.Sprintf("/deployments/%d/cancel", created.ID), nil, token)
	if rr.Code != http.StatusConflict || errorMessage(t, rr) != "Cannot cancel deployment with status: success" {
		t.Fatalf("expected conflict cancelling terminal deployment, got %d %s", rr.Code, rr.Body.String())
	}

	var listed []domain.Deployment
	decode(t, env.do(http.MethodGet, fmt.Sprintf("/projects/%d/deployments", p.ID), nil, token), &listed)
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("unexpected deployment list %+v", listed)
	}
}

func TestCancelInFlightDeployment(t *testing.T) {
	env := newTestEnv(t)
	// Slow the queue stage so the cancel lands while pending.
	slow := deploy.New(env.store, env.store, env.router.logs, nil, deploy.Config{QueueDelay: time.Minute, SuccessRate: 1})
	env.router.deploy = slow
	t.Cleanup(func() { _ = slow.Shutdown(context.Background()) })

	token := env.login("cancel@example.com")
	p := env.createProject(token, "worker")
	var created domain.Deployment
	decode(t, env.do(http.MethodPost, fmt.Sprintf("/projects/%d/deploy", p.ID), nil, token), &created)

	rr := env.do(http.MethodPost, fmt.Sprintf("/deployments/%d/cancel", created.ID), nil, token)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Deployment cancelled successfully") {
		t.Fatalf("cancel failed: %d %s", rr.Code, rr.Body.String())
	}
	d := waitForStatus(t, env, token, created.ID, domain.DeploymentCancelled)
	if d.CompletedAt == nil {
		t.Fatalf("expected completed_at after cancel")
	}
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	user := env.login("user@example.com")
	root := env.login("root@example.com")
	env.promote(root)

	for _, path := range []string{"/admin/stats", "/admin/users", "/analytics/admin/overview", "/cache/stats"} {
		rr := env.do(http.MethodGet, path, nil, user)
		if rr.Code != http.StatusForbidden || errorMessage(t, rr) != "Admin privileges required" {
			t.Fatalf("%s: expected 403 for non-admin, got %d %s", path, rr.Code, rr.Body.String())
		}
	}

	rr := env.do(http.MethodGet, "/admin/stats", nil, root)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats failed: %d %s", rr.Code, rr.Body.String())
	}
	var stats domain.SystemStats
	decode(t, rr, &stats)
	if stats.Users.Total != 2 || stats.Users.Admins != 1 {
		t.Fatalf("unexpected user stats %+v", stats.Users)
	}

	var me domain.User
	decode(t, env.do(http.MethodGet, "/users/me", nil, root), &me)
	rr = env.do(http.MethodPost, fmt.Sprintf("/admin/users/%d/remove-admin", me.ID), nil, root)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected self demotion refusal, got %d", rr.Code)
	}

	var target domain.User
	decode(t, env.do(http.MethodGet, "/users/me", nil, user), &target)
	rr = env.do(http.MethodPost, fmt.Sprintf("/admin/users/%d/deactivate", target.ID), nil, root)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "User user@example.com deactivated") {
		t.Fatalf("deactivate failed: %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(http.MethodGet, "/users/me", nil, user)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected deactivated user to be rejected, got %d", rr.Code)
	}

	rr = env.do(http.MethodGet, "/admin/deployments?status=bogus", nil, root)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid status rejection, got %d", rr.Code)
	}
	rr = env.do(http.MethodGet, "/admin/projects?status=active", nil, root)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty project list, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestAnalyticsDateValidation(t *testing.T) {
	env := newTestEnv(t)
	token := env.login("stats@example.com")

	rr := env.do(http.MethodGet, "/analytics/user/stats?start_date=yesterday", nil, token)
	if rr.Code != http.StatusBadRequest || errorMessage(t, rr) != "Invalid date format. Use ISO format (YYYY-MM-DD)" {
		t.Fatalf("expected date format error, got %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(http.MethodGet, "/analytics/user/stats?start_date=2025-03-10&end_date=2025-03-01", nil, token)
	if rr.Code != http.StatusBadRequest || errorMessage(t, rr) != "Start date must be before end date" {
		t.Fatalf("expected range error, got %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(http.MethodGet, "/analytics/user/stats?start_date=2025-01-01&end_date=2025-01-31", nil, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("stats failed: %d %s", rr.Code, rr.Body.String())
	}
	var stats domain.UserStats
	decode(t, rr, &stats)
	if stats.Period.Days != 30 {
		t.Fatalf("expected 30 day period, got %d", stats.Period.Days)
	}
}

func TestRateLimitRejectsAfterLimit(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.RateLimit = 60 })

	for i := 0; i < 60; i++ {
		rr := env.do(http.MethodGet, "/info", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rr.Code)
		}
		if got := rr.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(59-i) {
			t.Fatalf("request %d: unexpected remaining %q", i+1, got)
		}
	}

	rr := env.do(http.MethodGet, "/info", nil, "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || retry < 1 {
		t.Fatalf("expected positive Retry-After, got %q", rr.Header().Get("Retry-After"))
	}
	var payload struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retry_after"`
	}
	decode(t, rr, &payload)
	if payload.RetryAfter != retry || payload.Error != fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", retry) {
		t.Fatalf("unexpected 429 body %+v", payload)
	}

	for _, path := range []string{"/health", "/health/live", "/metrics"} {
		if rr := env.do(http.MethodGet, path, nil, ""); rr.Code != http.StatusOK {
			t.Fatalf("%s should be exempt, got %d", path, rr.Code)
		}
	}

	rr = env.do(http.MethodGet, "/metrics", nil, "")
	if !strings.Contains(rr.Body.String(), `clouddeploy_api_rate_limit_hits_total{key="ip",route="GET /info"} 1`) {
		t.Fatalf("expected rate limit hit metric, got:\n%s", rr.Body.String())
	}
}

func TestMemoryRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := newMemoryRateLimiter(func() time.Time { return now })
	ctx := context.Background()

	if d := rl.Allow(ctx, "ip:a", 2, time.Minute); !d.allowed || d.count != 1 {
		t.Fatalf("first request: %+v", d)
	}
	now = now.Add(10 * time.Second)
	if d := rl.Allow(ctx, "ip:a", 2, time.Minute); !d.allowed || d.count != 2 {
		t.Fatalf("second request: %+v", d)
	}
	now = now.Add(10 * time.Second)
	d := rl.Allow(ctx, "ip:a", 2, time.Minute)
	if d.allowed {
		t.Fatalf("third request should be limited")
	}
	if got := d.retryAfter(now); got != 40 {
		t.Fatalf("expected retry after 40s, got %d", got)
	}
	if d := rl.Allow(ctx, "ip:b", 2, time.Minute); !d.allowed {
		t.Fatalf("other clients are independent")
	}

	now = now.Add(41 * time.Second)
	if d := rl.Allow(ctx, "ip:a", 2, time.Minute); !d.allowed || d.count != 2 {
		t.Fatalf("oldest entry should have left the window: %+v", d)
	}

	rl.cleanup(now.Add(2 * time.Minute))
	if len(rl.entries) != 0 {
		t.Fatalf("expected sweep to drop idle keys, have %d", len(rl.entries))
	}
}

func TestRequestMetadataHeaders(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if got := rr.Header().Get(requestIDHeader); got != "trace-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
	if !strings.HasSuffix(rr.Header().Get(processTimeHeader), "ms") {
		t.Fatalf("expected process time header, got %q", rr.Header().Get(processTimeHeader))
	}

	rr = env.do(http.MethodGet, "/info", nil, "")
	if len(rr.Header().Get(requestIDHeader)) != 36 {
		t.Fatalf("expected generated uuid request id, got %q", rr.Header().Get(requestIDHeader))
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/projects", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("missing allow origin header")
	}

	req = httptest.NewRequest(http.MethodGet, "/info", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected allow origin for foreign site")
	}
}

func TestUnmatchedRoutes(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/nope", nil, "")
	if rr.Code != http.StatusNotFound || errorMessage(t, rr) != "Not Found" {
		t.Fatalf("expected 404, got %d %s", rr.Code, rr.Body.String())
	}
	rr = env.do(http.MethodDelete, "/auth/login", nil, "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestHealthAndCacheRoutes(t *testing.T) {
	env := newTestEnv(t)
	root := env.login("ops@example.com")
	env.promote(root)

	for _, path := range []string{"/health", "/health/", "/health/detailed", "/health/ready", "/health/live", "/", "/info"} {
		if rr := env.do(http.MethodGet, path, nil, ""); rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d %s", path, rr.Code, rr.Body.String())
		}
	}

	var health map[string]any
	decode(t, env.do(http.MethodGet, "/cache/health", nil, ""), &health)
	if health["status"] != "unhealthy" || health["connected"] != false {
		t.Fatalf("unexpected cache health %v", health)
	}

	var keys map[string]any
	decode(t, env.do(http.MethodGet, "/cache/keys", nil, root), &keys)
	if keys["count"] != float64(0) {
		t.Fatalf("unexpected keys payload %v", keys)
	}

	rr := env.do(http.MethodDelete, "/cache/key/analytics:user:1:x", nil, root)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Cache key not found") {
		t.Fatalf("unexpected delete response %d %s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodPost, "/cache/clear?pattern=analytics:*", nil, root)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "matching pattern: analytics:*") {
		t.Fatalf("unexpected clear response %d %s", rr.Code, rr.Body.String())
	}
}

func TestReadinessReportsDatabaseFailure(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.DBHealth = func(context.Context) error { return fmt.Errorf("connection refused") }
	})
	rr := env.do(http.MethodGet, "/health/ready", nil, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/health/live", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("liveness should not depend on the database, got %d", rr.Code)
	}
}

func TestDeploymentStream(t *testing.T) {
	env := newTestEnv(t)
	token := env.login("stream@example.com")
	p := env.createProject(token, "streamer")

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	var created domain.Deployment
	decode(t, env.do(http.MethodPost, fmt.Sprintf("/projects/%d/deploy", p.ID), nil, token), &created)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/deployments/%d/stream", srv.URL, created.ID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var events []logs.Event
	var names []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			names = append(names, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			var ev logs.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			events = append(events, ev)
		}
	}
	if len(events) == 0 || names[0] != logs.EventSnapshot {
		t.Fatalf("expected snapshot first, got %v", names)
	}
	last := events[len(events)-1]
	if !last.Terminal || last.Status != domain.DeploymentSuccess {
		t.Fatalf("expected stream to end on terminal event, got %+v", last)
	}
}
