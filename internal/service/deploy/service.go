package deploy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"log/slog"

	"github.com/splax/clouddeploy/internal/cache"
	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/metrics"
	"github.com/splax/clouddeploy/internal/repository"
)

// Log lines written by the simulator.
const (
	LogQueued    = "Deployment queued...\n"
	LogBuilding  = "Starting build process...\n"
	LogBuilt     = "✓ Dependencies installed\n✓ Building application...\n✓ Build completed successfully\nStarting deployment...\n"
	LogSucceeded = "✓ Deployment completed successfully!\n"
	LogFailed    = "✗ Deployment failed: Build timeout\n"
	LogCancelled = "\n✗ Deployment cancelled by user\n"
)

const maxCancelAttempts = 5

// Config controls stage delays and the success probability.
type Config struct {
	QueueDelay  time.Duration
	BuildDelay  time.Duration
	DeployDelay time.Duration
	SuccessRate float64
}

// DefaultConfig mirrors the production timings.
func DefaultConfig() Config {
	return Config{
		QueueDelay:  2 * time.Second,
		BuildDelay:  3 * time.Second,
		DeployDelay: 2 * time.Second,
		SuccessRate: 0.8,
	}
}

// Publisher receives every persisted change with the appended log chunk.
type Publisher interface {
	Publish(deployment domain.Deployment, chunk string)
}

// Option customises the simulator.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom overrides the [0,1) source used to pick success or failure.
func WithRandom(r func() float64) Option {
	return func(s *Service) {
		if r != nil {
			s.random = r
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Simulator) Option {
	return func(s *Service) { s.metrics = m }
}

// WithCache invalidates analytics entries when deployments are triggered and
// when they reach a terminal status.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// Service simulates deployments as timed status transitions. Each run is
// tracked so cancellation can wake it early and Shutdown can wait for it.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	publisher   Publisher
	cache       cache.Cache
	metrics     *metrics.Simulator
	logger      *slog.Logger
	cfg         Config
	now         func() time.Time
	random      func() float64

	base    context.Context
	stopAll context.CancelFunc

	mu     sync.Mutex
	runs   map[int64]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// New returns a deployment simulator.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, publisher Publisher, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	s := &Service{
		projects:    projects,
		deployments: deployments,
		publisher:   publisher,
		logger:      logger.With("component", "simulator"),
		cfg:         cfg,
		now:         time.Now,
		random:      rand.Float64,
		base:        base,
		stopAll:     stop,
		runs:        make(map[int64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Trigger creates a pending deployment for an owned project and starts its
// simulated run in the background.
func (s *Service) Trigger(ctx context.Context, projectID, ownerID int64) (*domain.Deployment, error) {
	if _, err := s.projects.GetProjectForOwner(ctx, projectID, ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("Project not found")
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	deployment := &domain.Deployment{
		ProjectID: projectID,
		Status:    domain.DeploymentPending,
		Logs:      LogQueued,
		StartedAt: s.now().UTC(),
	}
	if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("Project not found")
		}
		return nil, fmt.Errorf("create deployment: %w", err)
	}
	s.recordTransition(domain.DeploymentPending)
	s.invalidate(ctx, ownerID)

	if !s.start(deployment.ID, ownerID) {
		s.logger.Warn("simulator stopped; deployment left pending", "deployment_id", deployment.ID)
		return deployment, nil
	}
	s.logger.Info("deployment queued", "deployment_id", deployment.ID, "project_id", projectID)
	return deployment, nil
}

func (s *Service) start(id, ownerID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	ctx, cancel := context.WithCancel(s.base)
	s.runs[id] = cancel
	s.wg.Add(1)
	if s.metrics != nil {
		s.metrics.InFlight.Inc()
	}
	go s.run(ctx, id, ownerID)
	return true
}

func (s *Service) finish(id int64) {
	s.mu.Lock()
	if cancel, ok := s.runs[id]; ok {
		cancel()
		delete(s.runs, id)
	}
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.InFlight.Dec()
	}
	s.wg.Done()
}

type stage struct {
	wait time.Duration
	from domain.DeploymentStatus
}

func (s *Service) run(ctx context.Context, id, ownerID int64) {
	defer s.finish(id)
	log := s.logger.With("deployment_id", id)

	stages := []stage{
		{wait: s.cfg.QueueDelay, from: domain.DeploymentPending},
		{wait: s.cfg.BuildDelay, from: domain.DeploymentBuilding},
		{wait: s.cfg.DeployDelay, from: domain.DeploymentDeploying},
	}
	for _, st := range stages {
		if !sleep(ctx, st.wait) {
			log.Debug("simulator run interrupted", "stage", st.from)
			return
		}
		current, err := s.deployments.GetDeploymentByID(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("simulator read failed", "error", err)
			}
			return
		}
		if current.Status != st.from {
			log.Debug("simulator run superseded", "expected", st.from, "actual", current.Status)
			return
		}
		transition := s.nextTransition(id, st.from)
		updated, err := s.deployments.TransitionDeployment(ctx, transition)
		switch {
		case errors.Is(err, repository.ErrStaleStatus):
			log.Debug("simulator lost status race", "from", st.from, "to", transition.To)
			return
		case err != nil:
			if ctx.Err() == nil {
				log.Error("simulator write failed", "from", st.from, "to", transition.To, "error", err)
			}
			return
		}
		s.recordTransition(updated.Status)
		s.publish(*updated, transition.AppendLog)
		if updated.Status.IsTerminal() {
			s.invalidate(ctx, ownerID)
		}
		log.Info("deployment status changed", "status", updated.Status)
	}
}

func (s *Service) nextTransition(id int64, from domain.DeploymentStatus) domain.DeploymentTransition {
	t := domain.DeploymentTransition{DeploymentID: id, From: from}
	switch from {
	case domain.DeploymentPending:
		t.To, t.AppendLog = domain.DeploymentBuilding, LogBuilding
	case domain.DeploymentBuilding:
		t.To, t.AppendLog = domain.DeploymentDeploying, LogBuilt
	case domain.DeploymentDeploying:
		if s.random() < s.cfg.SuccessRate {
			t.To, t.AppendLog = domain.DeploymentSuccess, LogSucceeded
		} else {
			t.To, t.AppendLog = domain.DeploymentFailed, LogFailed
		}
		completed := s.now().UTC()
		t.CompletedAt = &completed
	case domain.DeploymentSuccess, domain.DeploymentFailed, domain.DeploymentCancelled:
	}
	return t
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Cancel stops a deployment owned by ownerID.
func (s *Service) Cancel(ctx context.Context, deploymentID, ownerID int64) (*domain.Deployment, error) {
	return s.cancel(ctx, deploymentID, func(ctx context.Context) (*domain.Deployment, error) {
		return s.deployments.GetDeploymentForOwner(ctx, deploymentID, ownerID)
	})
}

// CancelAny stops any deployment regardless of owner.
func (s *Service) CancelAny(ctx context.Context, deploymentID int64) (*domain.Deployment, error) {
	return s.cancel(ctx, deploymentID, func(ctx context.Context) (*domain.Deployment, error) {
		return s.deployments.GetDeploymentByID(ctx, deploymentID)
	})
}

func (s *Service) cancel(ctx context.Context, deploymentID int64, load func(context.Context) (*domain.Deployment, error)) (*domain.Deployment, error) {
	for attempt := 0; attempt < maxCancelAttempts; attempt++ {
		current, err := load(ctx)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, domain.NotFound("Deployment not found")
			}
			return nil, fmt.Errorf("load deployment: %w", err)
		}
		if current.Status.IsTerminal() {
			return nil, domain.Conflict(fmt.Sprintf("Cannot cancel deployment with status: %s", current.Status))
		}
		completed := s.now().UTC()
		updated, err := s.deployments.TransitionDeployment(ctx, domain.DeploymentTransition{
			DeploymentID: deploymentID,
			From:         current.Status,
			To:           domain.DeploymentCancelled,
			AppendLog:    LogCancelled,
			CompletedAt:  &completed,
		})
		if errors.Is(err, repository.ErrStaleStatus) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("cancel deployment: %w", err)
		}
		s.wake(deploymentID)
		s.recordTransition(updated.Status)
		s.publish(*updated, LogCancelled)
		s.invalidateProject(ctx, updated.ProjectID)
		s.logger.Info("deployment cancelled", "deployment_id", deploymentID)
		return updated, nil
	}
	return nil, fmt.Errorf("cancel deployment %d: %w", deploymentID, repository.ErrStaleStatus)
}

// wake interrupts a sleeping run so it observes the new status immediately.
func (s *Service) wake(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.runs[id]; ok {
		cancel()
	}
}

// Get returns a deployment owned by ownerID.
func (s *Service) Get(ctx context.Context, deploymentID, ownerID int64) (*domain.Deployment, error) {
	deployment, err := s.deployments.GetDeploymentForOwner(ctx, deploymentID, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("Deployment not found")
		}
		return nil, err
	}
	return deployment, nil
}

// Logs returns the accumulated log of an owned deployment.
func (s *Service) Logs(ctx context.Context, deploymentID, ownerID int64) (string, error) {
	deployment, err := s.Get(ctx, deploymentID, ownerID)
	if err != nil {
		return "", err
	}
	return deployment.Logs, nil
}

// ListByProject returns deployments of an owned project, newest first.
func (s *Service) ListByProject(ctx context.Context, projectID, ownerID int64, page domain.Page) ([]domain.Deployment, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.projects.GetProjectForOwner(ctx, projectID, ownerID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("Project not found")
		}
		return nil, err
	}
	return s.deployments.ListDeploymentsByProject(ctx, projectID, page)
}

// Running returns the number of runs currently tracked.
func (s *Service) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Shutdown stops all runs and waits for them to exit or ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stopAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) publish(deployment domain.Deployment, chunk string) {
	if s.publisher != nil {
		s.publisher.Publish(deployment, chunk)
	}
}

func (s *Service) invalidate(ctx context.Context, ownerID int64) {
	if err := cache.InvalidateOwner(ctx, s.cache, ownerID); err != nil {
		s.logger.Warn("analytics cache invalidation failed", "user_id", ownerID, "error", err)
	}
}

// invalidateProject resolves the project's owner first; admin cancels do not
// know it.
func (s *Service) invalidateProject(ctx context.Context, projectID int64) {
	if s.cache == nil {
		return
	}
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		s.logger.Warn("analytics cache invalidation skipped", "project_id", projectID, "error", err)
		return
	}
	s.invalidate(ctx, project.UserID)
}

func (s *Service) recordTransition(status domain.DeploymentStatus) {
	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(status.String()).Inc()
	}
}
