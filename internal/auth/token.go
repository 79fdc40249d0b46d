package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/repository"
)

// tokenBytes of entropy, hex encoded to 64 characters.
const tokenBytes = 32

// DefaultTokenTTL is how long a bearer token stays valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

// TokenService issues, resolves and revokes opaque bearer tokens.
type TokenService struct {
	tokens repository.AuthTokenRepository
	users  repository.UserRepository
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService creates a TokenService. A zero ttl means DefaultTokenTTL.
func NewTokenService(
	tokens repository.AuthTokenRepository,
	users repository.UserRepository,
	logger *zap.Logger,
	ttl time.Duration,
) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{
		tokens: tokens,
		users:  users,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Issue creates a new token for the user.
func (s *TokenService) Issue(ctx context.Context, userID, userAgent string) (*model.AuthToken, error) {
	value, err := generateToken()
	if err != nil {
		return nil, model.NewStorageUnavailableError(err)
	}

	now := s.now()
	token := &model.AuthToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     value,
		UserAgent: userAgent,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, model.NewStorageUnavailableError(err)
	}
	return token, nil
}

// StripBearer removes an optional case-insensitive "Bearer " prefix.
func StripBearer(raw string) string {
	raw = strings.TrimSpace(raw)
	const prefix = "bearer "
	if len(raw) >= len(prefix) && strings.EqualFold(raw[:len(prefix)], prefix) {
		raw = strings.TrimSpace(raw[len(prefix):])
	}
	return raw
}

// Authenticate resolves a raw token, with or without the Bearer prefix, to its
// active owner. Expired tokens are rejected without being modified.
func (s *TokenService) Authenticate(ctx context.Context, raw string) (*model.User, *model.AuthToken, error) {
	value := StripBearer(raw)
	if value == "" {
		return nil, nil, model.NewUnauthenticatedError()
	}

	token, err := s.tokens.FindUnrevokedByToken(ctx, value)
	if err != nil {
		return nil, nil, model.NewStorageUnavailableError(err)
	}
	now := s.now()
	if token == nil || !token.Live(now) {
		return nil, nil, model.NewUnauthenticatedError()
	}

	user, err := s.users.FindByID(ctx, token.UserID)
	if err != nil {
		return nil, nil, model.NewStorageUnavailableError(err)
	}
	if user == nil || !user.IsActive {
		return nil, nil, model.NewUnauthenticatedError()
	}

	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	} else {
		user.LastLoginAt = &now
	}

	return user, token, nil
}

// Revoke invalidates one token. Unknown or already revoked tokens are not an error.
// Reports whether this call revoked it.
func (s *TokenService) Revoke(ctx context.Context, raw string) (bool, error) {
	value := StripBearer(raw)
	if value == "" {
		return false, nil
	}
	revoked, err := s.tokens.Revoke(ctx, value, s.now())
	if err != nil {
		return false, model.NewStorageUnavailableError(err)
	}
	return revoked, nil
}

// RevokeAll invalidates every live token of the user except exceptToken
// (empty revokes all) and returns how many were revoked.
func (s *TokenService) RevokeAll(ctx context.Context, userID, exceptToken string) (int, error) {
	n, err := s.tokens.RevokeAllByUserID(ctx, userID, StripBearer(exceptToken), s.now())
	if err != nil {
		return 0, model.NewStorageUnavailableError(err)
	}
	return int(n), nil
}
