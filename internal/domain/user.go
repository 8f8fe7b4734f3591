package domain

import "time"

// User represents a platform account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserProjectCount ranks a user by the number of projects they own.
type UserProjectCount struct {
	UserID       int64  `json:"user_id"`
	Email        string `json:"email"`
	ProjectCount int    `json:"project_count"`
}

// UserCounts aggregates user totals for admin views.
type UserCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Admins int `json:"admins"`
	Recent int `json:"recent_24h"`
}

// RefreshToken is a persisted, revocable refresh credential. Only the
// SHA-256 digest of the raw token is stored.
type RefreshToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
