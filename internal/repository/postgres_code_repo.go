package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/authcore/internal/model"
)

const codeColumns = `id, user_id, code, user_agent, expires_at, is_used, used_at, attempts, deleted_at, created_at`

// PostgresCodeRepo is the VerificationCodeRepository backed by PostgreSQL.
type PostgresCodeRepo struct {
	db *sqlx.DB
}

func NewPostgresCodeRepo(db *sqlx.DB) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: db}
}

// CountCreatedSince counts withdrawn codes too, so re-requesting cannot reset the window.
func (r *PostgresCodeRepo) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT count(*) FROM verification_codes WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to count verification codes: %w", err)
	}
	return count, nil
}

// WithdrawUnused hides every unused code of the user.
func (r *PostgresCodeRepo) WithdrawUnused(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE verification_codes SET deleted_at = $2
		 WHERE user_id = $1 AND is_used = false AND deleted_at IS NULL`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to withdraw verification codes: %w", err)
	}
	return nil
}

// Create inserts the code.
func (r *PostgresCodeRepo) Create(ctx context.Context, code *model.VerificationCode) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO verification_codes (id, user_id, code, user_agent, expires_at, is_used, attempts, created_at)
		 VALUES (:id, :user_id, :code, :user_agent, :expires_at, :is_used, :attempts, :created_at)`,
		code,
	)
	if err != nil {
		return fmt.Errorf("failed to create verification code: %w", err)
	}
	return nil
}

// FindUnusedByUserID returns nil when the user has no redeemable row.
func (r *PostgresCodeRepo) FindUnusedByUserID(ctx context.Context, userID string) (*model.VerificationCode, error) {
	code := &model.VerificationCode{}
	err := r.db.GetContext(ctx, code,
		`SELECT `+codeColumns+` FROM verification_codes
		 WHERE user_id = $1 AND is_used = false AND deleted_at IS NULL`,
		userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find verification code: %w", err)
	}
	return code, nil
}

// IncrementAttempts adds one attempt in a single statement so concurrent guesses are all counted.
func (r *PostgresCodeRepo) IncrementAttempts(ctx context.Context, id string) (*model.VerificationCode, error) {
	code := &model.VerificationCode{}
	err := r.db.GetContext(ctx, code,
		`UPDATE verification_codes SET attempts = attempts + 1
		 WHERE id = $1 AND is_used = false AND deleted_at IS NULL
		 RETURNING `+codeColumns,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return code, nil
}

// MarkUsed consumes the code only if no one else has.
func (r *PostgresCodeRepo) MarkUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE verification_codes SET is_used = true, used_at = $2
		 WHERE id = $1 AND is_used = false AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark verification code used: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// compile-time interface check
var _ VerificationCodeRepository = (*PostgresCodeRepo)(nil)
