// Package sqlite implements the repositories on an embedded SQLite database
// through GORM. It backs local development and tests where running
// PostgreSQL is not practical.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/splax/clouddeploy/internal/repository"
)

// Store implements every repository interface on SQLite.
type Store struct {
	db *gorm.DB
}

var (
	_ repository.UserRepository         = (*Store)(nil)
	_ repository.RefreshTokenRepository = (*Store)(nil)
	_ repository.ProjectRepository      = (*Store)(nil)
	_ repository.DeploymentRepository   = (*Store)(nil)
	_ repository.Store                  = (*Store)(nil)
)

type userModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Email        string    `gorm:"not null;uniqueIndex"`
	PasswordHash string    `gorm:"not null"`
	IsActive     bool      `gorm:"not null"`
	IsAdmin      bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

func (userModel) TableName() string { return "users" }

type projectModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"not null;index"`
	Name      string    `gorm:"not null"`
	GithubURL string    `gorm:"not null"`
	Status    string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`

	Deployments []deploymentModel `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (projectModel) TableName() string { return "projects" }

type deploymentModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	ProjectID   int64     `gorm:"not null;index"`
	Status      string    `gorm:"not null;index"`
	Logs        string    `gorm:"type:text;not null"`
	StartedAt   time.Time `gorm:"not null;index"`
	CompletedAt *time.Time
}

func (deploymentModel) TableName() string { return "deployments" }

type refreshTokenModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    int64     `gorm:"not null;index"`
	TokenHash string    `gorm:"not null;uniqueIndex"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (refreshTokenModel) TableName() string { return "refresh_tokens" }

// Open connects to the SQLite database at path (":memory:" for an
// ephemeral one) and migrates the schema.
func Open(path string, log *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("empty sqlite path")
	}
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         newGormLogger(log),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// One connection keeps in-memory databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if err := db.AutoMigrate(&userModel{}, &projectModel{}, &deploymentModel{}, &refreshTokenModel{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	log.Debug("sqlite store ready", "path", path)
	return &Store{db: db}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newGormLogger routes GORM output through slog, showing SQL only when debug
// logging is enabled.
func newGormLogger(log *slog.Logger) gormlogger.Interface {
	ctx := context.Background()
	level := gormlogger.Silent
	switch {
	case log.Enabled(ctx, slog.LevelDebug):
		level = gormlogger.Info
	case log.Enabled(ctx, slog.LevelWarn):
		level = gormlogger.Warn
	case log.Enabled(ctx, slog.LevelError):
		level = gormlogger.Error
	}
	writer := slog.NewLogLogger(log.With("component", "gorm").Handler(), slog.LevelDebug)
	return gormlogger.New(writer, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return repository.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return repository.ErrDuplicate
	case errors.Is(err, gorm.ErrForeignKeyViolated), strings.Contains(err.Error(), "FOREIGN KEY constraint failed"):
		return repository.ErrNotFound
	default:
		return err
	}
}

// paged applies offset pagination; a non-positive limit means no limit.
func paged(q *gorm.DB, skip, limit int) *gorm.DB {
	if skip > 0 {
		q = q.Offset(skip)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}
