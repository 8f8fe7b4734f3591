package sqlite

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository"
)

func (s *Store) CreateRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	m := refreshTokenModel{
		UserID:    token.UserID,
		TokenHash: token.TokenHash,
		ExpiresAt: token.ExpiresAt.UTC(),
		CreatedAt: token.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return translate(err)
	}
	token.ID = m.ID
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var m refreshTokenModel
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &domain.RefreshToken{
		ID:        m.ID,
		UserID:    m.UserID,
		TokenHash: m.TokenHash,
		ExpiresAt: m.ExpiresAt.UTC(),
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, oldHash string, next *domain.RefreshToken) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("token_hash = ?", oldHash).Delete(&refreshTokenModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repository.ErrNotFound
		}
		m := refreshTokenModel{
			UserID:    next.UserID,
			TokenHash: next.TokenHash,
			ExpiresAt: next.ExpiresAt.UTC(),
			CreatedAt: next.CreatedAt.UTC(),
		}
		if err := tx.Create(&m).Error; err != nil {
			return translate(err)
		}
		next.ID = m.ID
		return nil
	})
}

func (s *Store) DeleteRefreshToken(ctx context.Context, userID int64, tokenHash string) error {
	res := s.db.WithContext(ctx).Where("token_hash = ? AND user_id = ?", tokenHash, userID).Delete(&refreshTokenModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("expires_at < ?", before.UTC()).Delete(&refreshTokenModel{})
	return res.RowsAffected, res.Error
}
