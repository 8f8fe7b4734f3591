package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/splax/clouddeploy/internal/domain"
	"github.com/splax/clouddeploy/internal/repository"
	"github.com/splax/clouddeploy/pkg/config"
	"github.com/splax/clouddeploy/pkg/crypto"
	jwtpkg "github.com/splax/clouddeploy/pkg/jwt"
)

// ErrInvalidToken is returned for any token that fails validation.
var ErrInvalidToken = domain.Unauthenticated("Could not validate credentials")

var errBadCredentials = domain.Unauthenticated("Incorrect email or password")

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	tokens repository.RefreshTokenRepository
	logger *slog.Logger
	cfg    config.APIConfig
	now    func() time.Time
}

// New constructs a Service.
func New(users repository.UserRepository, tokens repository.RefreshTokenRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return Service{users: users, tokens: tokens, logger: logger.With("component", "auth"), cfg: cfg, now: time.Now}
}

// TokenPair contains access and refresh tokens.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Register creates an active, non-admin user.
func (s Service) Register(ctx context.Context, email, password string) (*domain.User, error) {
	normalized, err := ValidateEmail(email)
	if err != nil {
		return nil, err
	}
	if ok, msg := crypto.ValidatePasswordStrength(password); !ok {
		return nil, domain.Invalid(msg)
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		if errors.Is(err, crypto.ErrPasswordTooLong) {
			return nil, domain.Invalid(err.Error())
		}
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Email:        normalized,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.Conflict("Email already registered")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login authenticates a user and returns a fresh token pair.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, TokenPair, error) {
	user, err := s.users.GetUserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, TokenPair{}, errBadCredentials
		}
		return nil, TokenPair{}, fmt.Errorf("load user: %w", err)
	}
	if !crypto.VerifyPassword(password, user.PasswordHash) {
		return nil, TokenPair{}, errBadCredentials
	}
	if !user.IsActive {
		return nil, TokenPair{}, domain.Unauthenticated("Inactive user")
	}
	pair, record, err := s.issueTokens(user.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	if err := s.tokens.CreateRefreshToken(ctx, record); err != nil {
		return nil, TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, pair, nil
}

// Refresh exchanges a persisted refresh token for a new pair. The presented
// token is deleted in the same transaction that stores its replacement, so
// it cannot be replayed.
func (s Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := jwtpkg.Parse(strings.TrimSpace(refreshToken), s.cfg.JWTSecret, jwtpkg.TypeRefresh)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	oldHash := crypto.HashToken(strings.TrimSpace(refreshToken))
	stored, err := s.tokens.GetRefreshToken(ctx, oldHash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, fmt.Errorf("load refresh token: %w", err)
	}
	if stored.UserID != userID || stored.Expired(s.now()) {
		return TokenPair{}, ErrInvalidToken
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return TokenPair{}, domain.Unauthenticated("Inactive user")
	}
	pair, record, err := s.issueTokens(user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.tokens.RotateRefreshToken(ctx, oldHash, record); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	return pair, nil
}

// Logout revokes a refresh token belonging to userID. Unknown tokens are
// ignored.
func (s Service) Logout(ctx context.Context, userID int64, refreshToken string) error {
	err := s.tokens.DeleteRefreshToken(ctx, userID, crypto.HashToken(strings.TrimSpace(refreshToken)))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	s.logger.Info("user logged out", "user_id", userID)
	return nil
}

// Authorize validates an access token and returns the active user it names.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, ErrInvalidToken
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret, jwtpkg.TypeAccess)
	if err != nil {
		return nil, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, ErrInvalidToken
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, domain.Unauthenticated("Inactive user")
	}
	return user, nil
}

func (s Service) issueTokens(userID int64) (TokenPair, *domain.RefreshToken, error) {
	subject := strconv.FormatInt(userID, 10)
	access, err := jwtpkg.Issue(subject, jwtpkg.TypeAccess, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := jwtpkg.Issue(subject, jwtpkg.TypeRefresh, s.cfg.JWTSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("issue refresh token: %w", err)
	}
	now := s.now().UTC()
	record := &domain.RefreshToken{
		UserID:    userID,
		TokenHash: crypto.HashToken(refresh),
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt: now,
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, record, nil
}
