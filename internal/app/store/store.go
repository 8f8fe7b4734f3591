// Package store opens the configured repository backend.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/clouddeploy/internal/app/migrate"
	"github.com/splax/clouddeploy/internal/repository"
	"github.com/splax/clouddeploy/internal/repository/postgres"
	"github.com/splax/clouddeploy/internal/repository/sqlite"
	"github.com/splax/clouddeploy/pkg/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the backend named by cfg.DatabaseDriver. Postgres
// schemas are brought up to date with goose when migrateSchema is set;
// SQLite migrates itself on open.
func Open(ctx context.Context, cfg config.APIConfig, log *slog.Logger, migrateSchema bool) (repository.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver)) {
	case DriverPostgres, "postgresql", "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if migrateSchema {
			if err := ensureSchema(ctx, pool, cfg.MigrationsDir, log); err != nil {
				pool.Close()
				return nil, err
			}
		}
		return postgres.New(pool), nil
	case DriverSQLite:
		return sqlite.Open(SQLitePath(cfg.DatabaseURL), log)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}

// OpenPool returns a raw Postgres pool for tooling that needs one.
func OpenPool(ctx context.Context, cfg config.APIConfig) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func ensureSchema(ctx context.Context, pool *pgxpool.Pool, dir string, log *slog.Logger) error {
	runner, err := migrate.New(pool, dir, log)
	if err != nil {
		return fmt.Errorf("configure migrations: %w", err)
	}
	if err := runner.Ping(ctx); err != nil {
		return err
	}
	return runner.Ensure(ctx)
}

// SQLitePath strips the sqlite:// URL forms down to a filesystem path.
func SQLitePath(url string) string {
	url = strings.TrimSpace(url)
	for _, prefix := range []string{"sqlite:///", "sqlite://", "sqlite:"} {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix)
		}
	}
	return url
}
