// Package auth implements email code login, password login and bearer session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/repository"
)

// Login methods reported to the Recorder.
const (
	MethodCode     = "code"
	MethodPassword = "password"
)

// Recorder receives auth outcomes for metrics.
type Recorder interface {
	RecordCodeIssued()
	RecordCodeVerification(result string)
	RecordLogin(method, result string)
	RecordTokenIssued()
	RecordTokensRevoked(count int)
}

type nopRecorder struct{}

func (nopRecorder) RecordCodeIssued()             {}
func (nopRecorder) RecordCodeVerification(string) {}
func (nopRecorder) RecordLogin(string, string)    {}
func (nopRecorder) RecordTokenIssued()            {}
func (nopRecorder) RecordTokensRevoked(int)       {}

// LabelSanitizer cleans the client supplied device label before it is stored.
type LabelSanitizer interface {
	SanitizeLabel(raw string) string
}

type passthroughLabels struct{}

func (passthroughLabels) SanitizeLabel(raw string) string { return raw }

// UserSummary is the user view returned to clients after login.
type UserSummary struct {
	ID         string
	Email      string
	IsVerified bool
}

// LoginResult is returned by every successful login.
type LoginResult struct {
	Token  string
	UserID string
	User   UserSummary
}

// Service orchestrates the public and signed-in auth operations.
type Service struct {
	users  repository.UserRepository
	codes  *CodeService
	tokens *TokenService
	hasher PasswordHasher
	dummy  *dummyHash
	labels LabelSanitizer
	rec    Recorder
	logger *zap.Logger
}

// NewService creates a Service. labels and rec may be nil.
func NewService(
	users repository.UserRepository,
	codes *CodeService,
	tokens *TokenService,
	hasher PasswordHasher,
	labels LabelSanitizer,
	rec Recorder,
	logger *zap.Logger,
) *Service {
	if labels == nil {
		labels = passthroughLabels{}
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Service{
		users:  users,
		codes:  codes,
		tokens: tokens,
		hasher: hasher,
		dummy:  &dummyHash{hasher: hasher},
		labels: labels,
		rec:    rec,
		logger: logger,
	}
}

// resultLabel maps an error to a metrics label.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	if kind := model.KindOf(err); kind != "" {
		return strings.ToLower(string(kind))
	}
	return "error"
}

// RequestCode sends a fresh verification code to email.
func (s *Service) RequestCode(ctx context.Context, email, userAgent string) error {
	err := s.codes.Issue(ctx, email, s.labels.SanitizeLabel(userAgent))
	if err == nil {
		s.rec.RecordCodeIssued()
	}
	return err
}

// LoginWithCode verifies the code and issues a token.
func (s *Service) LoginWithCode(ctx context.Context, email, code, userAgent string) (*LoginResult, error) {
	_, user, err := s.codes.Verify(ctx, email, code)
	s.rec.RecordCodeVerification(resultLabel(err))
	if err != nil {
		s.rec.RecordLogin(MethodCode, resultLabel(err))
		return nil, err
	}

	result, err := s.issueLogin(ctx, user, userAgent)
	s.rec.RecordLogin(MethodCode, resultLabel(err))
	return result, err
}

// LoginWithPassword authenticates by email and password. Every failure is
// InvalidCredentials so callers cannot tell which part was wrong.
func (s *Service) LoginWithPassword(ctx context.Context, email, password, userAgent string) (*LoginResult, error) {
	result, err := s.loginWithPassword(ctx, email, password, userAgent)
	s.rec.RecordLogin(MethodPassword, resultLabel(err))
	return result, err
}

func (s *Service) loginWithPassword(ctx context.Context, email, password, userAgent string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, model.NewStorageUnavailableError(err)
	}
	if user == nil || !user.HasPassword() {
		s.dummy.burn(password)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Verify(*user.PasswordHash, password) || !user.IsActive {
		return nil, model.NewInvalidCredentialsError()
	}

	now := s.tokens.now()
	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, model.NewStorageUnavailableError(err)
	}
	user.LastLoginAt = &now

	return s.issueLogin(ctx, user, userAgent)
}

func (s *Service) issueLogin(ctx context.Context, user *model.User, userAgent string) (*LoginResult, error) {
	token, err := s.tokens.Issue(ctx, user.ID, s.labels.SanitizeLabel(userAgent))
	if err != nil {
		return nil, err
	}
	s.rec.RecordTokenIssued()
	s.logger.Info("user logged in", zap.String("user_id", user.ID))

	return &LoginResult{
		Token:  token.Token,
		UserID: user.ID,
		User: UserSummary{
			ID:         user.ID,
			Email:      user.Email,
			IsVerified: user.IsVerified,
		},
	}, nil
}

// ChangePassword validates and stores a new password, then revokes every
// live token of the user, the caller's included.
func (s *Service) ChangePassword(ctx context.Context, userID, newPassword string) error {
	if unmet := ValidatePasswordStrength(newPassword); len(unmet) > 0 {
		return model.NewWeakPasswordError(unmet)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return model.NewWeakPasswordError([]string{"at most 72 bytes"})
		}
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.NewStorageUnavailableError(err)
	}
	if user == nil {
		return model.NewUnauthenticatedError()
	}

	if err := s.users.UpdatePassword(ctx, userID, hash, s.tokens.now()); err != nil {
		return model.NewStorageUnavailableError(err)
	}

	revoked, err := s.tokens.RevokeAll(ctx, userID, "")
	if err != nil {
		return err
	}
	s.rec.RecordTokensRevoked(revoked)
	s.logger.Info("password changed",
		zap.String("user_id", userID),
		zap.Int("sessions_terminated", revoked),
	)
	return nil
}

// Logout revokes the presented token.
func (s *Service) Logout(ctx context.Context, token string) error {
	revoked, err := s.tokens.Revoke(ctx, token)
	if err != nil {
		return err
	}
	if revoked {
		s.rec.RecordTokensRevoked(1)
	}
	return nil
}

// LogoutAll revokes every live token of the user and returns the count.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	return s.revokeAll(ctx, userID, "")
}

// LogoutOthers revokes every live token of the user except currentToken.
func (s *Service) LogoutOthers(ctx context.Context, userID, currentToken string) (int, error) {
	if StripBearer(currentToken) == "" {
		return 0, model.NewUnauthenticatedError()
	}
	return s.revokeAll(ctx, userID, currentToken)
}

func (s *Service) revokeAll(ctx context.Context, userID, except string) (int, error) {
	n, err := s.tokens.RevokeAll(ctx, userID, except)
	if err != nil {
		return 0, err
	}
	s.rec.RecordTokensRevoked(n)
	s.logger.Info("sessions terminated",
		zap.String("user_id", userID),
		zap.Int("sessions_terminated", n),
		zap.Bool("kept_current", except != ""),
	)
	return n, nil
}

// CurrentUser resolves a bearer token to its user.
func (s *Service) CurrentUser(ctx context.Context, rawToken string) (*model.User, *model.AuthToken, error) {
	return s.tokens.Authenticate(ctx, rawToken)
}
