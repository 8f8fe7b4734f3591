package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository"
)

func (m projectModel) toDomain() (domain.Project, error) {
	status, err := domain.ParseProjectStatus(m.Status)
	if err != nil {
		return domain.Project{}, err
	}
	return domain.Project{
		ID:        m.ID,
		UserID:    m.UserID,
		Name:      m.Name,
		GithubURL: m.GithubURL,
		Status:    status,
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}

func projectsToDomain(models []projectModel) ([]domain.Project, error) {
	projects := make([]domain.Project, 0, len(models))
	for _, m := range models {
		p, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func (s *Store) CreateProject(ctx context.Context, project *domain.Project) error {
	m := projectModel{
		UserID:    project.UserID,
		Name:      project.Name,
		GithubURL: project.GithubURL,
		Status:    string(project.Status),
		CreatedAt: project.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return translate(err)
	}
	project.ID = m.ID
	return nil
}

func (s *Store) getProject(q *gorm.DB) (*domain.Project, error) {
	var m projectModel
	if err := q.First(&m).Error; err != nil {
		return nil, translate(err)
	}
	p, err := m.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProjectByID(ctx context.Context, id int64) (*domain.Project, error) {
	return s.getProject(s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) GetProjectForOwner(ctx context.Context, id, ownerID int64) (*domain.Project, error) {
	return s.getProject(s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, ownerID))
}

func (s *Store) ListProjectsByOwner(ctx context.Context, ownerID int64, page domain.Page) ([]domain.Project, error) {
	var models []projectModel
	q := s.db.WithContext(ctx).Where("user_id = ?", ownerID).Order("id")
	if err := paged(q, page.Skip, page.Limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return projectsToDomain(models)
}

func (s *Store) ListProjects(ctx context.Context, status *domain.ProjectStatus, page domain.Page) ([]domain.Project, error) {
	var models []projectModel
	q := s.db.WithContext(ctx).Order("id")
	if status != nil {
		q = q.Where("status = ?", string(*status))
	}
	if err := paged(q, page.Skip, page.Limit).Find(&models).Error; err != nil {
		return nil, err
	}
	return projectsToDomain(models)
}

func (s *Store) ListProjectsCreatedBetween(ctx context.Context, ownerID int64, from, to time.Time) ([]domain.Project, error) {
	var models []projectModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND created_at >= ? AND created_at <= ?", ownerID, from.UTC(), to.UTC()).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return projectsToDomain(models)
}

func (s *Store) UpdateProject(ctx context.Context, project *domain.Project) error {
	res := s.db.WithContext(ctx).Model(&projectModel{}).Where("id = ?", project.ID).Updates(map[string]any{
		"name":       project.Name,
		"github_url": project.GithubURL,
		"status":     string(project.Status),
	})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes deployments explicitly so the cascade does not depend
// on the connection's foreign key pragma.
func (s *Store) DeleteProject(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&deploymentModel{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&projectModel{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		return nil
	})
}

func (s *Store) CountProjects(ctx context.Context) (domain.ProjectCounts, error) {
	var row struct {
		Total  int
		Active int
	}
	const query = `SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0) AS active
		FROM projects`
	err := s.db.WithContext(ctx).Raw(query).Scan(&row).Error
	return domain.ProjectCounts{Total: row.Total, Active: row.Active}, err
}
