package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/splax/clouddeploy/internal/app/migrate"
	"github.com/splax/clouddeploy/internal/app/store"
	"github.com/splax/clouddeploy/pkg/config"
	"github.com/splax/clouddeploy/pkg/logger"
)

var (
	timeout  time.Duration
	targetTo int64

	cfg config.APIConfig
	log *slog.Logger

	rootCmd = &cobra.Command{
		Use:           "migrate",
		Short:         "Schema migrations and operator tasks for the deployment platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.LoadAPIConfig()
			log = logger.New("migrate", logger.ParseLevel(cfg.LogLevel))
		},
	}

	upCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			return r.Ensure(ctx)
		}),
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			return r.Status(ctx)
		}),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			v, err := r.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		}),
	}

	downCmd = &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration, or down to --to",
		RunE: withRunner(func(ctx context.Context, r migrate.Runner) error {
			return r.Down(ctx, targetTo)
		}),
	}
)

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "command timeout")
	downCmd.Flags().Int64Var(&targetTo, "to", 0, "target version (default: previous version)")

	rootCmd.AddCommand(upCmd, statusCmd, versionCmd, downCmd, promoteAdminCmd, createAdminCmd)
}

// withRunner opens a Postgres pool, hands a migration runner to fn and
// releases everything afterwards.
func withRunner(fn func(context.Context, migrate.Runner) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseDriver == store.DriverSQLite {
			return fmt.Errorf("%s: sqlite schemas are migrated automatically on startup", cmd.Name())
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		pool, err := store.OpenPool(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		runner, err := migrate.New(pool, cfg.MigrationsDir, log)
		if err != nil {
			return fmt.Errorf("configure migration runner: %w", err)
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			return err
		}
		if err := fn(ctx, runner); err != nil {
			return err
		}
		log.Info("migration command completed", "command", cmd.Name())
		return nil
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if log == nil {
			log = logger.New("migrate", slog.LevelInfo)
		}
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}
