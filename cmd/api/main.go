package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/splax/clouddeploy/internal/app/store"
	"github.com/splax/clouddeploy/internal/cache"
	httpx "github.com/splax/clouddeploy/internal/http"
	"github.com/splax/clouddeploy/internal/metrics"
	"github.com/splax/clouddeploy/internal/service/admin"
	"github.com/splax/clouddeploy/internal/service/analytics"
	"github.com/splax/clouddeploy/internal/service/auth"
	"github.com/splax/clouddeploy/internal/service/deploy"
	"github.com/splax/clouddeploy/internal/service/logs"
	"github.com/splax/clouddeploy/internal/service/maintenance"
	"github.com/splax/clouddeploy/internal/service/project"
	"github.com/splax/clouddeploy/internal/ws"
	"github.com/splax/clouddeploy/pkg/config"
	"github.com/splax/clouddeploy/pkg/logger"
	"github.com/splax/clouddeploy/pkg/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 5 * time.Second
	cachePrefix     = "clouddeploy:cache:"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	if err := run(cfg, log); err != nil {
		log.Error("api exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.APIConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "clouddeploy-api", cfg.AppVersion, cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	repo, err := store.Open(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer repo.Close()
	log.Info("database ready", "driver", cfg.DatabaseDriver)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	appCache, limiter, redisClient := connectRedis(ctx, cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
	}
	defer limiter.Close()

	hub := ws.NewHub()
	defer hub.Stop()
	logSvc := logs.New(hub, log)

	deploySvc := deploy.New(repo, repo, logSvc, log, deploy.Config{
		QueueDelay:  cfg.SimQueueDelay,
		BuildDelay:  cfg.SimBuildDelay,
		DeployDelay: cfg.SimDeployDelay,
		SuccessRate: cfg.SimSuccessRate,
	}, deploy.WithMetrics(metrics.NewSimulator(reg)), deploy.WithCache(appCache))

	loc, err := time.LoadLocation(cfg.AnalyticsTimezone)
	if err != nil {
		log.Warn("unknown analytics timezone, using UTC", "timezone", cfg.AnalyticsTimezone, "error", err)
		loc = time.UTC
	}

	authSvc := auth.New(repo, repo, log, cfg)
	projectSvc := project.New(repo, repo, log, project.WithCache(appCache))
	analyticsSvc := analytics.New(repo, repo, repo, log,
		analytics.WithCache(appCache, cfg.AnalyticsCacheTTL),
		analytics.WithLocation(loc),
	)
	adminSvc := admin.New(repo, repo, repo, deploySvc, appCache, log)

	janitor := maintenance.New(repo, repo, metrics.NewMaintenance(reg), log, cfg)

	router := httpx.NewRouter(httpx.Deps{
		Logger:      log,
		AppName:     cfg.AppName,
		AppVersion:  cfg.AppVersion,
		Environment: cfg.Environment,
		FrontendURL: cfg.FrontendURL,
		Auth:        authSvc,
		Projects:    projectSvc,
		Deploy:      deploySvc,
		Logs:        logSvc,
		Analytics:   analyticsSvc,
		Admin:       adminSvc,
		Cache:       appCache,
		Limiter:     limiter,
		RateLimit:   cfg.RateLimitRequests,
		RateWindow:  cfg.RateLimitWindow,
		Metrics:     metrics.NewHTTP(reg),
		Gatherer:    reg,
		DBHealth:    repo.Ping,
	})

	srv := newServer(cfg.Addr, otelhttp.NewHandler(router, "clouddeploy-api"), hub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		janitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("api server starting", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
		defer cancelDrain()
		if err := deploySvc.Shutdown(drainCtx); err != nil {
			log.Warn("deployment simulator did not drain", "error", err)
		}

		traceCtx, cancelTrace := context.WithTimeout(context.Background(), drainTimeout)
		defer cancelTrace()
		if err := shutdownTracing(traceCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
		log.Info("api server stopped")
		return nil
	})
	return g.Wait()
}

// newServer stops the hub as soon as Shutdown begins. Open streams never go
// idle on their own, so closing them lets Shutdown return once in-flight
// requests are done.
func newServer(addr string, handler http.Handler, hub *ws.Hub) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(hub.Stop)
	return srv
}

// connectRedis returns the shared cache and rate limiter. Without REDIS_URL,
// or when Redis is unreachable at startup, both fall back to in-process
// implementations.
func connectRedis(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (cache.Cache, httpx.RateLimiter, *redis.Client) {
	url := strings.TrimSpace(cfg.RedisURL)
	if url == "" {
		log.Info("redis not configured, caching disabled")
		return cache.Noop{}, httpx.NewMemoryRateLimiter(), nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("invalid REDIS_URL, caching disabled", "error", err)
		return cache.Noop{}, httpx.NewMemoryRateLimiter(), nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unavailable, caching disabled", "addr", opts.Addr, "error", err)
		_ = client.Close()
		return cache.Noop{}, httpx.NewMemoryRateLimiter(), nil
	}
	log.Info("redis connected", "addr", opts.Addr)
	return cache.NewRedis(client, cachePrefix, log), httpx.NewRedisRateLimiter(client, log), client
}
