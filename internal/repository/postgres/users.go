package postgres

import (
	"context"
	"time"

	"github.com/splax/clouddeploy/internal/domain"
)

const userColumns = `id, email, password_hash, is_active, is_admin, created_at`

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsAdmin, &u.CreatedAt); err != nil {
		return nil, translate(err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// CreateUser inserts a user and assigns its identifier.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (email, password_hash, is_active, is_admin, created_at)
		VALUES (LOWER($1), $2, $3, $4, $5)
		RETURNING id, email`
	err := r.pool.QueryRow(ctx, query, user.Email, user.PasswordHash, user.IsActive, user.IsAdmin, user.CreatedAt).
		Scan(&user.ID, &user.Email)
	return translate(err)
}

// GetUserByEmail fetches a user by email, ignoring case.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1)`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// ListUsers pages through users ordered by identifier.
func (r *Repository) ListUsers(ctx context.Context, page domain.Page) ([]domain.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users ORDER BY id OFFSET $1 LIMIT $2`
	rows, err := r.pool.Query(ctx, query, page.Skip, limitOrNil(page.Limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// SetUserActive toggles the active flag.
func (r *Repository) SetUserActive(ctx context.Context, id int64, active bool) (*domain.User, error) {
	const query = `UPDATE users SET is_active = $2 WHERE id = $1 RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, query, id, active))
}

// SetUserAdmin toggles the admin flag.
func (r *Repository) SetUserAdmin(ctx context.Context, id int64, admin bool) (*domain.User, error) {
	const query = `UPDATE users SET is_admin = $2 WHERE id = $1 RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, query, id, admin))
}

// CountUsers aggregates user totals.
func (r *Repository) CountUsers(ctx context.Context, recentSince time.Time) (domain.UserCounts, error) {
	const query = `SELECT COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE is_admin),
			COUNT(*) FILTER (WHERE created_at >= $1)
		FROM users`
	var c domain.UserCounts
	err := r.pool.QueryRow(ctx, query, recentSince).Scan(&c.Total, &c.Active, &c.Admins, &c.Recent)
	return c, err
}

// CountUsersCreatedBetween counts users created in [from, to).
func (r *Repository) CountUsersCreatedBetween(ctx context.Context, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM users WHERE created_at >= $1 AND created_at < $2`
	var count int
	err := r.pool.QueryRow(ctx, query, from, to).Scan(&count)
	return count, err
}

// TopUsersByProjects ranks users by owned project count.
func (r *Repository) TopUsersByProjects(ctx context.Context, limit int) ([]domain.UserProjectCount, error) {
	const query = `SELECT u.id, u.email, COUNT(p.id) AS project_count
		FROM users u
		INNER JOIN projects p ON p.user_id = u.id
		GROUP BY u.id, u.email
		ORDER BY project_count DESC, u.id ASC
		LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limitOrNil(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ranked := make([]domain.UserProjectCount, 0)
	for rows.Next() {
		var item domain.UserProjectCount
		if err := rows.Scan(&item.UserID, &item.Email, &item.ProjectCount); err != nil {
			return nil, err
		}
		ranked = append(ranked, item)
	}
	return ranked, rows.Err()
}
