package postgres

import (
	"context"
	"time"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository"
)

const projectColumns = `id, user_id, name, github_url, status, created_at`

func scanProject(row rowScanner) (*domain.Project, error) {
	var p domain.Project
	var status string
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.GithubURL, &status, &p.CreatedAt); err != nil {
		return nil, translate(err)
	}
	parsed, err := domain.ParseProjectStatus(status)
	if err != nil {
		return nil, err
	}
	p.Status = parsed
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (r *Repository) queryProjects(ctx context.Context, query string, args ...any) ([]domain.Project, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// CreateProject inserts a project and assigns its identifier.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (user_id, name, github_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err := r.pool.QueryRow(ctx, query, project.UserID, project.Name, project.GithubURL, string(project.Status), project.CreatedAt).
		Scan(&project.ID)
	return translate(err)
}

// GetProjectByID returns a project regardless of owner.
func (r *Repository) GetProjectByID(ctx context.Context, id int64) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return scanProject(r.pool.QueryRow(ctx, query, id))
}

// GetProjectForOwner returns a project only when ownerID owns it.
func (r *Repository) GetProjectForOwner(ctx context.Context, id, ownerID int64) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND user_id = $2`
	return scanProject(r.pool.QueryRow(ctx, query, id, ownerID))
}

// ListProjectsByOwner pages through a user's projects.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID int64, page domain.Page) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE user_id = $1 ORDER BY id OFFSET $2 LIMIT $3`
	return r.queryProjects(ctx, query, ownerID, page.Skip, limitOrNil(page.Limit))
}

// ListProjects pages through all projects, optionally filtered by status.
func (r *Repository) ListProjects(ctx context.Context, status *domain.ProjectStatus, page domain.Page) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY id OFFSET $2 LIMIT $3`
	var statusArg any
	if status != nil {
		statusArg = string(*status)
	}
	return r.queryProjects(ctx, query, statusArg, page.Skip, limitOrNil(page.Limit))
}

// ListProjectsCreatedBetween returns an owner's projects created in [from, to].
func (r *Repository) ListProjectsCreatedBetween(ctx context.Context, ownerID int64, from, to time.Time) ([]domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects
		WHERE user_id = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY id`
	return r.queryProjects(ctx, query, ownerID, from, to)
}

// UpdateProject stores mutable project attributes.
func (r *Repository) UpdateProject(ctx context.Context, project *domain.Project) error {
	const query = `UPDATE projects SET name = $2, github_url = $3, status = $4 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, project.ID, project.Name, project.GithubURL, string(project.Status))
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes a project; deployments cascade via foreign key.
func (r *Repository) DeleteProject(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountProjects aggregates project totals.
func (r *Repository) CountProjects(ctx context.Context) (domain.ProjectCounts, error) {
	const query = `SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'active') FROM projects`
	var c domain.ProjectCounts
	err := r.pool.QueryRow(ctx, query).Scan(&c.Total, &c.Active)
	return c, err
}
