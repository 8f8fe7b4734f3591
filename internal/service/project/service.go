package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/splax/clouddeploy/internal/cache"
	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository"
	"github.com/splax/clouddeploy/internal/validation"
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name      string `json:"name" validate:"project_name"`
	GithubURL string `json:"github_url" validate:"github_url"`
}

// UpdateInput carries a partial project update. Absent fields keep their
// current value.
type UpdateInput struct {
	Name      *string `json:"name" validate:"omitnil,project_name"`
	GithubURL *string `json:"github_url" validate:"omitnil,github_url"`
	Status    *string `json:"status" validate:"omitnil,oneof=active inactive error"`
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}

// Option customises the service.
type Option func(*Service)

// WithCache invalidates analytics entries when projects change.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service orchestrates owner-scoped project management.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	cache       cache.Cache
	logger      *slog.Logger
	now         func() time.Time
}

// New returns a project service.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, logger *slog.Logger, opts ...Option) Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := Service{projects: projects, deployments: deployments, logger: logger.With("component", "projects"), now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

var errProjectNotFound = domain.NotFound("Project not found")

// List returns the owner's projects.
func (s Service) List(ctx context.Context, ownerID int64, page domain.Page) ([]domain.Project, error) {
	if err := page.Validate(); err != nil {
		return nil, err
	}
	projects, err := s.projects.ListProjectsByOwner(ctx, ownerID, page)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// Create registers an active project for ownerID.
func (s Service) Create(ctx context.Context, ownerID int64, input CreateInput) (*domain.Project, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.GithubURL = strings.TrimSpace(input.GithubURL)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	project := &domain.Project{
		UserID:    ownerID,
		Name:      input.Name,
		GithubURL: input.GithubURL,
		Status:    domain.ProjectActive,
		CreatedAt: s.now().UTC(),
	}
	if err := s.projects.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	s.invalidate(ctx, ownerID)
	s.logger.Info("project created", "project_id", project.ID, "user_id", ownerID)
	return project, nil
}

// Get returns an owned project with its deployments, newest first.
func (s Service) Get(ctx context.Context, projectID, ownerID int64) (*domain.ProjectWithDeployments, error) {
	project, err := s.owned(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	deployments, err := s.deployments.ListDeploymentsByProject(ctx, project.ID, domain.Page{})
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}
	return &domain.ProjectWithDeployments{Project: *project, Deployments: deployments}, nil
}

// Update applies the fields present in input to an owned project. Ownership
// is checked before the payload so non-owners always see not found.
func (s Service) Update(ctx context.Context, projectID, ownerID int64, input UpdateInput) (*domain.Project, error) {
	project, err := s.owned(ctx, projectID, ownerID)
	if err != nil {
		return nil, err
	}
	input.Name = trimmed(input.Name)
	input.GithubURL = trimmed(input.GithubURL)
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if input.Name != nil {
		project.Name = *input.Name
	}
	if input.GithubURL != nil {
		project.GithubURL = *input.GithubURL
	}
	if input.Status != nil {
		status, err := domain.ParseProjectStatus(*input.Status)
		if err != nil {
			return nil, err
		}
		project.Status = status
	}
	if err := s.projects.UpdateProject(ctx, project); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errProjectNotFound
		}
		return nil, fmt.Errorf("update project: %w", err)
	}
	s.invalidate(ctx, ownerID)
	return project, nil
}

// Delete removes an owned project and its deployments.
func (s Service) Delete(ctx context.Context, projectID, ownerID int64) error {
	if _, err := s.owned(ctx, projectID, ownerID); err != nil {
		return err
	}
	if err := s.projects.DeleteProject(ctx, projectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errProjectNotFound
		}
		return fmt.Errorf("delete project: %w", err)
	}
	s.invalidate(ctx, ownerID)
	s.logger.Info("project deleted", "project_id", projectID, "user_id", ownerID)
	return nil
}

func (s Service) invalidate(ctx context.Context, ownerID int64) {
	if err := cache.InvalidateOwner(ctx, s.cache, ownerID); err != nil {
		s.logger.Warn("analytics cache invalidation failed", "user_id", ownerID, "error", err)
	}
}

func (s Service) owned(ctx context.Context, projectID, ownerID int64) (*domain.Project, error) {
	project, err := s.projects.GetProjectForOwner(ctx, projectID, ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errProjectNotFound
		}
		return nil, fmt.Errorf("load project: %w", err)
	}
	return project, nil
}
