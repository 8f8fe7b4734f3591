package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/splax/clouddeploy/internal/metrics"
	"github.com/splax/clouddeploy/internal/repository"
	"github.com/splax/clouddeploy/pkg/config"
)

const (
	defaultInterval   = time.Minute
	defaultStuckAfter = 10 * time.Minute
	iterationTimeout  = 15 * time.Second
)

// Controller periodically reports deployments that stopped progressing and
// purges expired refresh tokens. Stuck deployments are never modified.
type Controller struct {
	deployments repository.DeploymentRepository
	tokens      repository.RefreshTokenRepository
	metrics     *metrics.Maintenance
	logger      *slog.Logger

	interval   time.Duration
	stuckAfter time.Duration

	now func() time.Time
}

// Report summarises one iteration.
type Report struct {
	Stuck  int
	Purged int64
}

// New constructs a maintenance controller. m may be nil.
func New(deployments repository.DeploymentRepository, tokens repository.RefreshTokenRepository, m *metrics.Maintenance, logger *slog.Logger, cfg config.APIConfig) *Controller {
	if deployments == nil || tokens == nil {
		return nil
	}
	interval := cfg.MaintenanceInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	stuckAfter := cfg.StuckDeploymentAfter
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		deployments: deployments,
		tokens:      tokens,
		metrics:     m,
		logger:      logger.With("component", "maintenance"),
		interval:    interval,
		stuckAfter:  stuckAfter,
		now:         time.Now,
	}
}

// Run executes the maintenance loop until the context is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if c == nil {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("maintenance controller started", "interval", c.interval, "stuck_after", c.stuckAfter)
	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("maintenance controller stopped")
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single iteration. Failures are logged and the affected
// step is skipped.
func (c *Controller) RunOnce(parent context.Context) Report {
	timeout := iterationTimeout
	if c.interval < timeout {
		timeout = c.interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	now := c.now().UTC()
	var report Report

	stuck, err := c.deployments.ListUnfinishedDeploymentsStartedBefore(ctx, now.Add(-c.stuckAfter))
	if err != nil {
		c.logger.Warn("failed to list unfinished deployments", "error", err)
	} else {
		report.Stuck = len(stuck)
		for _, d := range stuck {
			c.logger.Warn("deployment appears stuck",
				"deployment_id", d.ID,
				"project_id", d.ProjectID,
				"status", d.Status,
				"age", now.Sub(d.StartedAt).Round(time.Second).String(),
			)
		}
		if c.metrics != nil {
			c.metrics.StuckDeployments.Set(float64(report.Stuck))
		}
	}

	purged, err := c.tokens.DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		c.logger.Warn("failed to purge expired refresh tokens", "error", err)
	} else {
		report.Purged = purged
		if purged > 0 {
			c.logger.Info("purged expired refresh tokens", "count", purged)
			if c.metrics != nil {
				c.metrics.PurgedTokens.Add(float64(purged))
			}
		}
	}
	return report
}
