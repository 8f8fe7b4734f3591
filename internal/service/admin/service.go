package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/splax/clouddeploy/internal/cache"
	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository"
)

const (
	storagePerProjectMB = 100
	costPerMB           = 0.02
)

// Canceller stops a deployment regardless of owner.
type Canceller interface {
	CancelAny(ctx context.Context, deploymentID int64) (*domain.Deployment, error)
}

// Service exposes cross-owner operations for administrators.
type Service struct {
	users       repository.UserRepository
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	canceller   Canceller
	cache       cache.Cache
	logger      *slog.Logger
	now         func() time.Time
}

// New returns an admin service. c may be nil.
func New(users repository.UserRepository, projects repository.ProjectRepository, deployments repository.DeploymentRepository, canceller Canceller, c cache.Cache, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{
		users:       users,
		projects:    projects,
		deployments: deployments,
		canceller:   canceller,
		cache:       c,
		logger:      logger.With("component", "admin"),
		now:         time.Now,
	}
}

var errUserNotFound = domain.NotFound("User not found")

// ListUsers pages through every account.
func (s Service) ListUsers(ctx context.Context, page domain.Page) ([]domain.User, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	return s.users.ListUsers(ctx, page)
}

// GetUser returns one account.
func (s Service) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

// Deactivate disables an account. Administrators cannot disable themselves.
func (s Service) Deactivate(ctx context.Context, actorID, id int64) (*domain.User, error) {
	if actorID == id {
		return nil, domain.Invalid("Cannot deactivate your own account")
	}
	return s.setFlag(ctx, "deactivate", actorID, id, func(ctx context.Context) (*domain.User, error) {
		return s.users.SetUserActive(ctx, id, false)
	})
}

// Activate re-enables an account.
func (s Service) Activate(ctx context.Context, actorID, id int64) (*domain.User, error) {
	return s.setFlag(ctx, "activate", actorID, id, func(ctx context.Context) (*domain.User, error) {
		return s.users.SetUserActive(ctx, id, true)
	})
}

// MakeAdmin grants administrator privileges.
func (s Service) MakeAdmin(ctx context.Context, actorID, id int64) (*domain.User, error) {
	return s.setFlag(ctx, "make_admin", actorID, id, func(ctx context.Context) (*domain.User, error) {
		return s.users.SetUserAdmin(ctx, id, true)
	})
}

// RemoveAdmin revokes administrator privileges from another account.
func (s Service) RemoveAdmin(ctx context.Context, actorID, id int64) (*domain.User, error) {
	if actorID == id {
		return nil, domain.Invalid("Cannot remove your own admin privileges")
	}
	return s.setFlag(ctx, "remove_admin", actorID, id, func(ctx context.Context) (*domain.User, error) {
		return s.users.SetUserAdmin(ctx, id, false)
	})
}

func (s Service) setFlag(ctx context.Context, action string, actorID, id int64, apply func(context.Context) (*domain.User, error)) (*domain.User, error) {
	user, err := apply(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errUserNotFound
		}
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	s.logger.Info("user updated", "action", action, "user_id", id, "actor_id", actorID)
	return user, nil
}

// Stats aggregates user, project and deployment totals.
func (s Service) Stats(ctx context.Context) (domain.SystemStats, error) {
	now := s.now().UTC()
	since := now.Add(-24 * time.Hour)
	var stats domain.SystemStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.Users, err = s.users.CountUsers(gctx, since)
		return err
	})
	g.Go(func() (err error) {
		stats.Projects, err = s.projects.CountProjects(gctx)
		return err
	})
	g.Go(func() (err error) {
		stats.Deployments, err = s.deployments.CountDeployments(gctx, since)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.SystemStats{}, fmt.Errorf("system stats: %w", err)
	}
	totalMB := stats.Projects.Total * storagePerProjectMB
	stats.Storage = domain.StorageEstimate{TotalMB: totalMB, EstimatedCost: float64(totalMB) * costPerMB}
	stats.Timestamp = now
	return stats, nil
}

// ListDeployments pages through every deployment, optionally by status.
func (s Service) ListDeployments(ctx context.Context, status *domain.DeploymentStatus, page domain.Page) ([]domain.Deployment, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	return s.deployments.ListDeployments(ctx, domain.DeploymentFilter{Status: status}, page)
}

// ListProjects pages through every project, optionally by status.
func (s Service) ListProjects(ctx context.Context, status *domain.ProjectStatus, page domain.Page) ([]domain.Project, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	return s.projects.ListProjects(ctx, status, page)
}

// DeleteProject removes any project and its deployments.
func (s Service) DeleteProject(ctx context.Context, id int64) (*domain.Project, error) {
	project, err := s.projects.GetProjectByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("Project not found")
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	if err := s.projects.DeleteProject(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NotFound("Project not found")
		}
		return nil, fmt.Errorf("delete project: %w", err)
	}
	if err := cache.InvalidateOwner(ctx, s.cache, project.UserID); err != nil {
		s.logger.Warn("analytics cache invalidation failed", "user_id", project.UserID, "error", err)
	}
	s.logger.Info("project deleted by admin", "project_id", id, "owner_id", project.UserID)
	return project, nil
}

// CancelDeployment cancels any in-flight deployment.
func (s Service) CancelDeployment(ctx context.Context, id int64) (*domain.Deployment, error) {
	return s.canceller.CancelAny(ctx, id)
}
