package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository"
)

func (m deploymentModel) toDomain() (domain.Deployment, error) {
	status, err := domain.ParseDeploymentStatus(m.Status)
	if err != nil {
		return domain.Deployment{}, err
	}
	d := domain.Deployment{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		Status:    status,
		Logs:      m.Logs,
		StartedAt: m.StartedAt.UTC(),
	}
	if m.CompletedAt != nil {
		value := m.CompletedAt.UTC()
		d.CompletedAt = &value
	}
	return d, nil
}

func deploymentsToDomain(models []deploymentModel) ([]domain.Deployment, error) {
	deployments := make([]domain.Deployment, 0, len(models))
	for _, m := range models {
		d, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}

func (s *Store) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	m := deploymentModel{
		ProjectID:   deployment.ProjectID,
		Status:      deployment.Status.String(),
		Logs:        deployment.Logs,
		StartedAt:   deployment.StartedAt.UTC(),
		CompletedAt: utcPtr(deployment.CompletedAt),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&projectModel{}).Where("id = ?", deployment.ProjectID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return repository.ErrNotFound
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		return translate(err)
	}
	deployment.ID = m.ID
	return nil
}

func (s *Store) getDeployment(q *gorm.DB) (*domain.Deployment, error) {
	var m deploymentModel
	if err := q.First(&m).Error; err != nil {
		return nil, translate(err)
	}
	d, err := m.toDomain()
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetDeploymentByID(ctx context.Context, id int64) (*domain.Deployment, error) {
	return s.getDeployment(s.db.WithContext(ctx).Where("deployments.id = ?", id))
}

func (s *Store) GetDeploymentForOwner(ctx context.Context, id, ownerID int64) (*domain.Deployment, error) {
	q := s.db.WithContext(ctx).
		Joins("INNER JOIN projects ON projects.id = deployments.project_id").
		Where("deployments.id = ? AND projects.user_id = ?", id, ownerID)
	return s.getDeployment(q)
}

func (s *Store) ListDeploymentsByProject(ctx context.Context, projectID int64, page domain.Page) ([]domain.Deployment, error) {
	var models []deploymentModel
	q := s.db.WithContext(ctx).Where("project_id = ?", projectID).Order("started_at DESC, id DESC")
	if err := paged(q, page.Skip, page.Limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return deploymentsToDomain(models)
}

func (s *Store) ListDeployments(ctx context.Context, filter domain.DeploymentFilter, page domain.Page) ([]domain.Deployment, error) {
	q := s.db.WithContext(ctx).Model(&deploymentModel{}).
		Select("deployments.*").
		Joins("INNER JOIN projects ON projects.id = deployments.project_id")
	if filter.OwnerID != 0 {
		q = q.Where("projects.user_id = ?", filter.OwnerID)
	}
	if filter.ProjectID != 0 {
		q = q.Where("deployments.project_id = ?", filter.ProjectID)
	}
	if filter.Status != nil {
		q = q.Where("deployments.status = ?", filter.Status.String())
	}
	if !filter.StartedFrom.IsZero() {
		q = q.Where("deployments.started_at >= ?", filter.StartedFrom.UTC())
	}
	if !filter.StartedTo.IsZero() {
		q = q.Where("deployments.started_at <= ?", filter.StartedTo.UTC())
	}
	q = q.Order("deployments.started_at DESC, deployments.id DESC")

	var models []deploymentModel
	if err := paged(q, page.Skip, page.Limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return deploymentsToDomain(models)
}

func (s *Store) TransitionDeployment(ctx context.Context, t domain.DeploymentTransition) (*domain.Deployment, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var updated *domain.Deployment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&deploymentModel{}).
			Where("id = ? AND status = ?", t.DeploymentID, t.From.String()).
			Updates(map[string]any{
				"status":       t.To.String(),
				"logs":         gorm.Expr("logs || ?", t.AppendLog),
				"completed_at": utcPtr(t.CompletedAt),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&deploymentModel{}).Where("id = ?", t.DeploymentID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return repository.ErrNotFound
			}
			return repository.ErrStaleStatus
		}
		d, err := s.getDeployment(tx.Where("id = ?", t.DeploymentID))
		if err != nil {
			return err
		}
		updated = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Store) ListUnfinishedDeploymentsStartedBefore(ctx context.Context, before time.Time) ([]domain.Deployment, error) {
	var models []deploymentModel
	err := s.db.WithContext(ctx).
		Where("status IN ? AND started_at < ?", []string{"pending", "building", "deploying"}, before.UTC()).
		Order("started_at").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deploymentsToDomain(models)
}

func (s *Store) CountDeployments(ctx context.Context, recentSince time.Time) (domain.DeploymentCounts, error) {
	var row struct {
		Total      int
		Successful int
		Failed     int
		Pending    int
		Recent     int
	}
	const query = `SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0) AS successful,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN started_at >= ? THEN 1 ELSE 0 END), 0) AS recent
		FROM deployments`
	err := s.db.WithContext(ctx).Raw(query, recentSince.UTC()).Scan(&row).Error
	return domain.DeploymentCounts{
		Total:      row.Total,
		Successful: row.Successful,
		Failed:     row.Failed,
		Pending:    row.Pending,
		Recent:     row.Recent,
	}, err
}

func (s *Store) CountDeploymentsByProject(ctx context.Context, projectIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(projectIDs))
	if len(projectIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		ProjectID int64
		Count     int
	}
	err := s.db.WithContext(ctx).Model(&deploymentModel{}).
		Select("project_id, COUNT(*) AS count").
		Where("project_id IN ?", projectIDs).
		Group("project_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.ProjectID] = r.Count
	}
	return counts, nil
}

func (s *Store) CountDeploymentsStartedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&deploymentModel{}).
		Where("started_at >= ? AND started_at < ?", from.UTC(), to.UTC()).
		Count(&count).Error
	return int(count), err
}
