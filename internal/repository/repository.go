package repository

import (
	"context"
	"time"

	"github.com/splax/clouddeploy/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id int64) (*domain.User, error)
	ListUsers(ctx context.Context, page domain.Page) ([]domain.User, error)
	SetUserActive(ctx context.Context, id int64, active bool) (*domain.User, error)
	SetUserAdmin(ctx context.Context, id int64, admin bool) (*domain.User, error)
	CountUsers(ctx context.Context, recentSince time.Time) (domain.UserCounts, error)
	CountUsersCreatedBetween(ctx context.Context, from, to time.Time) (int, error)
	TopUsersByProjects(ctx context.Context, limit int) ([]domain.UserProjectCount, error)
}

// RefreshTokenRepository stores hashed refresh tokens.
type RefreshTokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *domain.RefreshToken) error
	GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	// RotateRefreshToken deletes oldHash and inserts next in one transaction.
	RotateRefreshToken(ctx context.Context, oldHash string, next *domain.RefreshToken) error
	DeleteRefreshToken(ctx context.Context, userID int64, tokenHash string) error
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// ProjectRepository persists projects. Owner scoped lookups return
// ErrNotFound for projects owned by someone else.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	GetProjectByID(ctx context.Context, id int64) (*domain.Project, error)
	GetProjectForOwner(ctx context.Context, id, ownerID int64) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID int64, page domain.Page) ([]domain.Project, error)
	ListProjects(ctx context.Context, status *domain.ProjectStatus, page domain.Page) ([]domain.Project, error)
	ListProjectsCreatedBetween(ctx context.Context, ownerID int64, from, to time.Time) ([]domain.Project, error)
	UpdateProject(ctx context.Context, project *domain.Project) error
	// DeleteProject removes the project and its deployments.
	DeleteProject(ctx context.Context, id int64) error
	CountProjects(ctx context.Context) (domain.ProjectCounts, error)
}

// DeploymentRepository stores deployment history.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, id int64) (*domain.Deployment, error)
	GetDeploymentForOwner(ctx context.Context, id, ownerID int64) (*domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, projectID int64, page domain.Page) ([]domain.Deployment, error)
	// ListDeployments returns deployments matching filter, newest first.
	// Zero valued filter fields are ignored.
	ListDeployments(ctx context.Context, filter domain.DeploymentFilter, page domain.Page) ([]domain.Deployment, error)
	// TransitionDeployment applies a compare-and-set status change and
	// returns the stored row. It fails with ErrStaleStatus when the current
	// status differs from transition.From.
	TransitionDeployment(ctx context.Context, transition domain.DeploymentTransition) (*domain.Deployment, error)
	ListUnfinishedDeploymentsStartedBefore(ctx context.Context, before time.Time) ([]domain.Deployment, error)
	CountDeployments(ctx context.Context, recentSince time.Time) (domain.DeploymentCounts, error)
	CountDeploymentsByProject(ctx context.Context, projectIDs []int64) (map[int64]int, error)
	CountDeploymentsStartedBetween(ctx context.Context, from, to time.Time) (int, error)
}

// Store bundles every repository for backends implementing all of them.
type Store interface {
	UserRepository
	RefreshTokenRepository
	ProjectRepository
	DeploymentRepository
	Ping(ctx context.Context) error
	Close() error
}
