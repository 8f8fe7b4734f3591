package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository"
)

// CreateRefreshToken persists a hashed refresh token.
func (r *Repository) CreateRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	const query = `INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`
	err := r.pool.QueryRow(ctx, query, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt).Scan(&token.ID)
	return translate(err)
}

// GetRefreshToken looks up a token by digest.
func (r *Repository) GetRefreshToken(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	const query = `SELECT id, user_id, token_hash, expires_at, created_at FROM refresh_tokens WHERE token_hash = $1`
	var t domain.RefreshToken
	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// RotateRefreshToken swaps oldHash for next atomically.
func (r *Repository) RotateRefreshToken(ctx context.Context, oldHash string, next *domain.RefreshToken) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM refresh_tokens WHERE token_hash = $1`, oldHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	const insert = `INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`
	if err := tx.QueryRow(ctx, insert, next.UserID, next.TokenHash, next.ExpiresAt, next.CreatedAt).Scan(&next.ID); err != nil {
		return translate(err)
	}
	return tx.Commit(ctx)
}

// DeleteRefreshToken revokes a token belonging to userID.
func (r *Repository) DeleteRefreshToken(ctx context.Context, userID int64, tokenHash string) error {
	const query = `DELETE FROM refresh_tokens WHERE token_hash = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, query, tokenHash, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteExpiredRefreshTokens purges tokens that expired before the cutoff.
func (r *Repository) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
