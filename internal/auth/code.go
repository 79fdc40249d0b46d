package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hitoshi/authcore/internal/model"
	"github.com/hitoshi/authcore/internal/repository"
)

// CodeLength is the number of digits in a verification code.
const CodeLength = 6

var codeSpace = big.NewInt(1_000_000)

// CodeGenerator produces verification codes.
type CodeGenerator interface {
	Generate() (string, error)
}

// RandomCodeGenerator draws codes uniformly from 000000-999999 using crypto/rand.
type RandomCodeGenerator struct{}

func (RandomCodeGenerator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// Notifier delivers a verification code to an email address.
type Notifier interface {
	SendCode(ctx context.Context, email, code string, ttl time.Duration) error
}

// CodeConfig holds the verification code policy.
type CodeConfig struct {
	TTL         time.Duration
	MaxAttempts int
	RateLimit   int           // codes per RateWindow per user
	RateWindow  time.Duration
}

// DefaultCodeConfig returns 15 minute codes, 3 attempts, 3 requests per hour.
func DefaultCodeConfig() CodeConfig {
	return CodeConfig{
		TTL:         15 * time.Minute,
		MaxAttempts: 3,
		RateLimit:   3,
		RateWindow:  60 * time.Minute,
	}
}

// CodeService issues and verifies emailed one-time codes.
type CodeService struct {
	users     repository.UserRepository
	codes     repository.VerificationCodeRepository
	generator CodeGenerator
	notifier  Notifier
	logger    *zap.Logger
	config    CodeConfig
	now       func() time.Time
}

// NewCodeService creates a CodeService.
func NewCodeService(
	users repository.UserRepository,
	codes repository.VerificationCodeRepository,
	generator CodeGenerator,
	notifier Notifier,
	logger *zap.Logger,
	config CodeConfig,
) *CodeService {
	return &CodeService{
		users:     users,
		codes:     codes,
		generator: generator,
		notifier:  notifier,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Issue creates a fresh code for email and sends it. Unknown emails get an
// unverified account. Inactive accounts get nothing, silently.
func (s *CodeService) Issue(ctx context.Context, email, userAgent string) error {
	email = NormalizeEmail(email)
	now := s.now()

	user, err := s.findOrCreateUser(ctx, email, now)
	if err != nil {
		return err
	}
	if !user.IsActive {
		s.logger.Warn("verification code requested for inactive user", zap.String("user_id", user.ID))
		return nil
	}

	count, err := s.codes.CountCreatedSince(ctx, user.ID, now.Add(-s.config.RateWindow))
	if err != nil {
		return model.NewStorageUnavailableError(err)
	}
	if count >= s.config.RateLimit {
		s.logger.Info("verification code rate limited",
			zap.String("user_id", user.ID),
			zap.Int("recent_codes", count),
		)
		return model.NewRateLimitedError()
	}

	value, err := s.generator.Generate()
	if err != nil {
		return model.NewStorageUnavailableError(err)
	}

	if err := s.codes.WithdrawUnused(ctx, user.ID, now); err != nil {
		return model.NewStorageUnavailableError(err)
	}
	code := &model.VerificationCode{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Code:      value,
		UserAgent: userAgent,
		ExpiresAt: now.Add(s.config.TTL),
		CreatedAt: now,
	}
	if err := s.codes.Create(ctx, code); err != nil {
		// a unique violation here means a concurrent Issue won the race
		return model.NewStorageUnavailableError(err)
	}

	if err := s.notifier.SendCode(ctx, email, value, s.config.TTL); err != nil {
		s.logger.Error("failed to deliver verification code",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
		return model.NewDeliveryFailedError(err)
	}

	s.logger.Info("verification code issued", zap.String("user_id", user.ID))
	return nil
}

func (s *CodeService) findOrCreateUser(ctx context.Context, email string, now time.Time) (*model.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, model.NewStorageUnavailableError(err)
	}
	if user != nil {
		return user, nil
	}

	user = &model.User{
		ID:        uuid.NewString(),
		Email:     email,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if !repository.IsUniqueViolation(err) {
			return nil, model.NewStorageUnavailableError(err)
		}
		// created concurrently by another request
		existing, findErr := s.users.FindByEmail(ctx, email)
		if findErr != nil || existing == nil {
			return nil, model.NewStorageUnavailableError(err)
		}
		return existing, nil
	}
	s.logger.Info("user created", zap.String("user_id", user.ID))
	return user, nil
}

// Verify redeems a code and returns the consumed record with its user. Every
// attempt against the user's live code is counted before it is evaluated, so
// a correct guess after MaxAttempts wrong ones fails.
func (s *CodeService) Verify(ctx context.Context, email, submitted string) (*model.VerificationCode, *model.User, error) {
	email = NormalizeEmail(email)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, nil, model.NewStorageUnavailableError(err)
	}
	if user == nil {
		return nil, nil, model.NewNotFoundError()
	}
	if !user.IsActive {
		return nil, nil, model.NewInvalidCredentialsError()
	}

	code, err := s.codes.FindUnusedByUserID(ctx, user.ID)
	if err != nil {
		return nil, nil, model.NewStorageUnavailableError(err)
	}
	if code == nil {
		return nil, nil, model.NewInvalidCodeError()
	}

	code, err = s.codes.IncrementAttempts(ctx, code.ID)
	if err != nil {
		return nil, nil, model.NewStorageUnavailableError(err)
	}
	if code == nil {
		return nil, nil, model.NewInvalidCodeError()
	}

	now := s.now()
	if code.Expired(now) {
		return nil, nil, model.NewExpiredError()
	}
	if code.Exhausted(s.config.MaxAttempts) {
		return nil, nil, model.NewAttemptsExceededError()
	}
	if subtle.ConstantTimeCompare([]byte(code.Code), []byte(submitted)) != 1 {
		return nil, nil, model.NewInvalidCodeError()
	}

	consumed, err := s.codes.MarkUsed(ctx, code.ID, now)
	if err != nil {
		return nil, nil, model.NewStorageUnavailableError(err)
	}
	if !consumed {
		return nil, nil, model.NewInvalidCodeError()
	}
	code.IsUsed = true
	code.UsedAt = &now

	if err := s.users.MarkVerifiedLogin(ctx, user.ID, now); err != nil {
		return nil, nil, model.NewStorageUnavailableError(err)
	}
	user.IsVerified = true
	user.LastLoginAt = &now

	return code, user, nil
}
