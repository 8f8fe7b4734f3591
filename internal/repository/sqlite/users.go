package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/splax/clouddeploy/internal/domain"
)

func (m userModel) toDomain() domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		IsActive:     m.IsActive,
		IsAdmin:      m.IsAdmin,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	m := userModel{
		Email:        strings.ToLower(user.Email),
		PasswordHash: user.PasswordHash,
		IsActive:     user.IsActive,
		IsAdmin:      user.IsAdmin,
		CreatedAt:    user.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return translate(err)
	}
	user.ID = m.ID
	user.Email = m.Email
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	u := m.toDomain()
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, translate(err)
	}
	u := m.toDomain()
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context, page domain.Page) ([]domain.User, error) {
	var models []userModel
	if err := paged(s.db.WithContext(ctx).Order("id"), page.Skip, page.Limit).Find(&models).Error; err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(models))
	for _, m := range models {
		users = append(users, m.toDomain())
	}
	return users, nil
}

func (s *Store) setUserFlag(ctx context.Context, id int64, column string, value bool) (*domain.User, error) {
	res := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return nil, translate(res.Error)
	}
	return s.GetUserByID(ctx, id)
}

func (s *Store) SetUserActive(ctx context.Context, id int64, active bool) (*domain.User, error) {
	return s.setUserFlag(ctx, id, "is_active", active)
}

func (s *Store) SetUserAdmin(ctx context.Context, id int64, admin bool) (*domain.User, error) {
	return s.setUserFlag(ctx, id, "is_admin", admin)
}

func (s *Store) CountUsers(ctx context.Context, recentSince time.Time) (domain.UserCounts, error) {
	var row struct {
		Total  int
		Active int
		Admins int
		Recent int
	}
	const query = `SELECT COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0) AS active,
			COALESCE(SUM(CASE WHEN is_admin THEN 1 ELSE 0 END), 0) AS admins,
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS recent
		FROM users`
	err := s.db.WithContext(ctx).Raw(query, recentSince.UTC()).Scan(&row).Error
	return domain.UserCounts{Total: row.Total, Active: row.Active, Admins: row.Admins, Recent: row.Recent}, err
}

func (s *Store) CountUsersCreatedBetween(ctx context.Context, from, to time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&userModel{}).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Count(&count).Error
	return int(count), err
}

func (s *Store) TopUsersByProjects(ctx context.Context, limit int) ([]domain.UserProjectCount, error) {
	var rows []struct {
		UserID       int64
		Email        string
		ProjectCount int
	}
	q := s.db.WithContext(ctx).Table("users").
		Select("users.id AS user_id, users.email AS email, COUNT(projects.id) AS project_count").
		Joins("INNER JOIN projects ON projects.user_id = users.id").
		Group("users.id, users.email").
		Order("project_count DESC, users.id ASC")
	if err := paged(q, 0, limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	ranked := make([]domain.UserProjectCount, 0, len(rows))
	for _, r := range rows {
		ranked = append(ranked, domain.UserProjectCount{UserID: r.UserID, Email: r.Email, ProjectCount: r.ProjectCount})
	}
	return ranked, nil
}
