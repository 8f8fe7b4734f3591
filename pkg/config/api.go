package config

import (
	"strings"
	"time"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	AppName     string
	AppVersion  string
	Environment string
	Addr        string
	LogLevel    string

	DatabaseDriver string
	DatabaseURL    string
	MigrationsDir  string

	JWTSecret       string
	JWTAlgorithm    string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	FrontendURL string
	RedisURL    string

	RateLimitRequests int
	RateLimitWindow   time.Duration

	SimQueueDelay  time.Duration
	SimBuildDelay  time.Duration
	SimDeployDelay time.Duration
	SimSuccessRate float64

	AnalyticsCacheTTL time.Duration
	AnalyticsTimezone string

	MaintenanceInterval  time.Duration
	StuckDeploymentAfter time.Duration

	OTLPEndpoint string
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		AppName:     GetString("APP_NAME", "Cloud Deploy API Gateway"),
		AppVersion:  GetString("APP_VERSION", "1.0.0"),
		Environment: GetString("APP_ENV", "development"),
		Addr:        GetString("API_ADDR", ":8000"),
		LogLevel:    GetString("LOG_LEVEL", "info"),

		DatabaseDriver: strings.ToLower(GetString("DATABASE_DRIVER", "postgres")),
		DatabaseURL:    GetString("DATABASE_URL", "postgres://clouddeploy:clouddeploy@db:5432/clouddeploy?sslmode=disable"),
		MigrationsDir:  GetString("DB_MIGRATIONS_DIR", "db/migrations"),

		JWTSecret:       GetString("SECRET_KEY", "change-me-in-production"),
		JWTAlgorithm:    GetString("ALGORITHM", "HS256"),
		AccessTokenTTL:  GetDuration("ACCESS_TOKEN_EXPIRE_MINUTES", 30, time.Minute),
		RefreshTokenTTL: GetDuration("REFRESH_TOKEN_EXPIRE_DAYS", 7, 24*time.Hour),

		FrontendURL: GetString("FRONTEND_URL", "http://localhost:3000"),
		RedisURL:    GetString("REDIS_URL", ""),

		RateLimitRequests: GetInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   GetDuration("RATE_LIMIT_WINDOW_SECONDS", 60, time.Second),

		SimQueueDelay:  GetDuration("SIM_QUEUE_DELAY_MS", 2000, time.Millisecond),
		SimBuildDelay:  GetDuration("SIM_BUILD_DELAY_MS", 3000, time.Millisecond),
		SimDeployDelay: GetDuration("SIM_DEPLOY_DELAY_MS", 2000, time.Millisecond),
		SimSuccessRate: GetFloat("SIM_SUCCESS_RATE", 0.8),

		AnalyticsCacheTTL: GetDuration("ANALYTICS_CACHE_TTL_SECONDS", 60, time.Second),
		AnalyticsTimezone: GetString("ANALYTICS_TIMEZONE", "UTC"),

		MaintenanceInterval:  GetDuration("MAINTENANCE_INTERVAL_SECONDS", 60, time.Second),
		StuckDeploymentAfter: GetDuration("STUCK_DEPLOYMENT_AFTER_SECONDS", 600, time.Second),

		OTLPEndpoint: GetString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}
