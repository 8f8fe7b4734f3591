package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository"
)

const deploymentColumns = `d.id, d.project_id, d.status, d.logs, d.started_at, d.completed_at`

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var d domain.Deployment
	var status string
	var completedAt sql.NullTime
	if err := row.Scan(&d.ID, &d.ProjectID, &status, &d.Logs, &d.StartedAt, &completedAt); err != nil {
		return nil, translate(err)
	}
	parsed, err := domain.ParseDeploymentStatus(status)
	if err != nil {
		return nil, err
	}
	d.Status = parsed
	d.StartedAt = d.StartedAt.UTC()
	if completedAt.Valid {
		value := completedAt.Time.UTC()
		d.CompletedAt = &value
	}
	return &d, nil
}

func (r *Repository) queryDeployments(ctx context.Context, query string, args ...any) ([]domain.Deployment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

// CreateDeployment inserts a deployment and assigns its identifier.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (project_id, status, logs, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err := r.pool.QueryRow(ctx, query,
		deployment.ProjectID,
		deployment.Status.String(),
		deployment.Logs,
		deployment.StartedAt,
		timePtrToNil(deployment.CompletedAt),
	).Scan(&deployment.ID)
	return translate(err)
}

// GetDeploymentByID retrieves a deployment regardless of owner.
func (r *Repository) GetDeploymentByID(ctx context.Context, id int64) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments d WHERE d.id = $1`
	return scanDeployment(r.pool.QueryRow(ctx, query, id))
}

// GetDeploymentForOwner retrieves a deployment whose project belongs to ownerID.
func (r *Repository) GetDeploymentForOwner(ctx context.Context, id, ownerID int64) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments d
		INNER JOIN projects p ON p.id = d.project_id
		WHERE d.id = $1 AND p.user_id = $2`
	return scanDeployment(r.pool.QueryRow(ctx, query, id, ownerID))
}

// ListDeploymentsByProject returns a project's deployments, newest first.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, projectID int64, page domain.Page) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments d
		WHERE d.project_id = $1
		ORDER BY d.started_at DESC, d.id DESC
		OFFSET $2 LIMIT $3`
	return r.queryDeployments(ctx, query, projectID, page.Skip, limitOrNil(page.Limit))
}

// ListDeployments returns deployments matching filter, newest first.
func (r *Repository) ListDeployments(ctx context.Context, filter domain.DeploymentFilter, page domain.Page) ([]domain.Deployment, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.OwnerID != 0 {
		add("p.user_id = $%d", filter.OwnerID)
	}
	if filter.ProjectID != 0 {
		add("d.project_id = $%d", filter.ProjectID)
	}
	if filter.Status != nil {
		add("d.status = $%d", filter.Status.String())
	}
	if !filter.StartedFrom.IsZero() {
		add("d.started_at >= $%d", filter.StartedFrom)
	}
	if !filter.StartedTo.IsZero() {
		add("d.started_at <= $%d", filter.StartedTo)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + deploymentColumns + ` FROM deployments d INNER JOIN projects p ON p.id = d.project_id`)
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	args = append(args, page.Skip, limitOrNil(page.Limit))
	fmt.Fprintf(&b, " ORDER BY d.started_at DESC, d.id DESC OFFSET $%d LIMIT $%d", len(args)-1, len(args))
	return r.queryDeployments(ctx, b.String(), args...)
}

// TransitionDeployment applies a compare-and-set status change.
func (r *Repository) TransitionDeployment(ctx context.Context, t domain.DeploymentTransition) (*domain.Deployment, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	const query = `UPDATE deployments d
		SET status = $3, logs = d.logs || $4, completed_at = $5
		WHERE d.id = $1 AND d.status = $2
		RETURNING ` + deploymentColumns
	updated, err := scanDeployment(r.pool.QueryRow(ctx, query,
		t.DeploymentID,
		t.From.String(),
		t.To.String(),
		t.AppendLog,
		timePtrToNil(t.CompletedAt),
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM deployments WHERE id = $1)`, t.DeploymentID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, repository.ErrNotFound
	}
	return nil, repository.ErrStaleStatus
}

// ListUnfinishedDeploymentsStartedBefore finds non-terminal deployments older than the cutoff.
func (r *Repository) ListUnfinishedDeploymentsStartedBefore(ctx context.Context, before time.Time) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments d
		WHERE d.status IN ('pending', 'building', 'deploying') AND d.started_at < $1
		ORDER BY d.started_at`
	return r.queryDeployments(ctx, query, before)
}

// CountDeployments aggregates deployment totals.
func (r *Repository) CountDeployments(ctx context.Context, recentSince time.Time) (domain.DeploymentCounts, error) {
	const query = `SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE started_at >= $1)
		FROM deployments`
	var c domain.DeploymentCounts
	err := r.pool.QueryRow(ctx, query, recentSince).Scan(&c.Total, &c.Successful, &c.Failed, &c.Pending, &c.Recent)
	return c, err
}

// CountDeploymentsByProject counts all deployments of each listed project.
func (r *Repository) CountDeploymentsByProject(ctx context.Context, projectIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(projectIDs))
	if len(projectIDs) == 0 {
		return counts, nil
	}
	const query = `SELECT project_id, COUNT(*) FROM deployments WHERE project_id = ANY($1) GROUP BY project_id`
	rows, err := r.pool.Query(ctx, query, projectIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

// CountDeploymentsStartedBetween counts deployments started in [from, to).
func (r *Repository) CountDeploymentsStartedBetween(ctx context.Context, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM deployments WHERE started_at >= $1 AND started_at < $2`
	var count int
	err := r.pool.QueryRow(ctx, query, from, to).Scan(&count)
	return count, err
}
