// Package migrate applies the Postgres schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const runTimeout = time.Minute

// Runner wraps database migration capabilities.
type Runner struct {
	pool          *pgxpool.Pool
	db            *sql.DB
	migrationsDir string
	log           *slog.Logger
}

// New returns a migration runner sharing the pool's connections.
func New(pool *pgxpool.Pool, migrationsDir string, log *slog.Logger) (Runner, error) {
	if pool == nil {
		return Runner{}, errors.New("nil pool provided")
	}
	if migrationsDir == "" {
		return Runner{}, errors.New("empty migrations directory")
	}
	if _, err := os.Stat(migrationsDir); err != nil {
		return Runner{}, fmt.Errorf("locate migrations dir: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return Runner{}, fmt.Errorf("configure goose: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{
		pool:          pool,
		db:            stdlib.OpenDBFromPool(pool),
		migrationsDir: migrationsDir,
		log:           log.With("component", "migrate"),
	}, nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	r.log.Info("applying migrations", "dir", r.migrationsDir)
	if err := goose.UpContext(runCtx, r.db, r.migrationsDir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, err := r.Version(ctx)
	if err != nil {
		return err
	}
	r.log.Info("migrations applied", "version", version)
	return nil
}

// Status logs applied and pending migrations.
func (r Runner) Status(ctx context.Context) error {
	r.log.Info("migration status", "dir", r.migrationsDir)
	if err := goose.StatusContext(ctx, r.db, r.migrationsDir); err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return nil
}

// Version reports the current schema version.
func (r Runner) Version(ctx context.Context) (int64, error) {
	version, err := goose.GetDBVersionContext(ctx, r.db)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// Down rolls back migrations either to the previous version or a specific target version.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	if targetVersion > 0 {
		r.log.Info("rolling back migrations", "target", targetVersion)
		if err := goose.DownToContext(runCtx, r.db, r.migrationsDir, targetVersion); err != nil {
			return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
		}
	} else {
		r.log.Info("rolling back latest migration")
		if err := goose.DownContext(runCtx, r.db, r.migrationsDir); err != nil {
			return fmt.Errorf("rollback latest migration: %w", err)
		}
	}

	r.log.Info("rollback complete")
	return nil
}

// Ping ensures the database connection is alive.
func (r Runner) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close releases the goose handle. The pool stays owned by the caller.
func (r Runner) Close() {
	_ = r.db.Close()
}
