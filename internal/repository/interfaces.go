// Package repository defines persistence interfaces and their PostgreSQL implementations.
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/authcore/internal/model"
)

// UserRepository persists accounts.
type UserRepository interface {
	// FindByID returns nil when no user has the ID.
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail looks up by the already-normalized email. Returns nil when absent.
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create inserts a user. A concurrent insert of the same email fails with a unique violation.
	Create(ctx context.Context, user *model.User) error

	// MarkVerifiedLogin sets is_verified and last_login_at in one statement.
	MarkVerifiedLogin(ctx context.Context, id string, at time.Time) error

	// TouchLastLogin sets last_login_at.
	TouchLastLogin(ctx context.Context, id string, at time.Time) error

	// UpdatePassword replaces the stored password hash.
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
}

// VerificationCodeRepository persists emailed one-time codes.
type VerificationCodeRepository interface {
	// CountCreatedSince counts every code created for the user at or after since,
	// withdrawn codes included.
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)

	// WithdrawUnused hides every unused code of the user regardless of expiry.
	WithdrawUnused(ctx context.Context, userID string, at time.Time) error

	// Create inserts a code. A second unused code for the same user fails with a unique violation.
	Create(ctx context.Context, code *model.VerificationCode) error

	// FindUnusedByUserID returns the user's single unused, non-withdrawn code or nil.
	FindUnusedByUserID(ctx context.Context, userID string) (*model.VerificationCode, error)

	// IncrementAttempts atomically adds one attempt and returns the updated row.
	// Returns nil when the code was consumed or withdrawn in the meantime.
	IncrementAttempts(ctx context.Context, id string) (*model.VerificationCode, error)

	// MarkUsed consumes the code only if it is still unused. Reports whether this call consumed it.
	MarkUsed(ctx context.Context, id string, at time.Time) (bool, error)
}

// AuthTokenRepository persists bearer tokens.
type AuthTokenRepository interface {
	// Create inserts a token.
	Create(ctx context.Context, token *model.AuthToken) error

	// FindUnrevokedByToken returns the non-revoked token with the exact value or nil.
	// Expiry is left to the caller.
	FindUnrevokedByToken(ctx context.Context, token string) (*model.AuthToken, error)

	// Revoke flips is_revoked for the token. Reports whether a row changed.
	Revoke(ctx context.Context, token string, at time.Time) (bool, error)

	// RevokeAllByUserID revokes every live token of the user except exceptToken
	// (empty means none) and returns how many were revoked.
	RevokeAllByUserID(ctx context.Context, userID, exceptToken string, at time.Time) (int64, error)
}
