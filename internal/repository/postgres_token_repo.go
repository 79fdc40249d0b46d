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

// PostgresTokenRepo is the AuthTokenRepository backed by PostgreSQL.
type PostgresTokenRepo struct {
	db *sqlx.DB
}

func NewPostgresTokenRepo(db *sqlx.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// Create inserts the token.
func (r *PostgresTokenRepo) Create(ctx context.Context, token *model.AuthToken) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO auth_tokens (id, user_id, token, user_agent, expires_at, is_revoked, created_at, updated_at)
		 VALUES (:id, :user_id, :token, :user_agent, :expires_at, :is_revoked, :created_at, :updated_at)`,
		token,
	)
	if err != nil {
		return fmt.Errorf("failed to create auth token: %w", err)
	}
	return nil
}

// FindUnrevokedByToken returns nil when the token is unknown or revoked.
func (r *PostgresTokenRepo) FindUnrevokedByToken(ctx context.Context, token string) (*model.AuthToken, error) {
	t := &model.AuthToken{}
	err := r.db.GetContext(ctx, t,
		`SELECT id, user_id, token, user_agent, expires_at, is_revoked, created_at, updated_at
		 FROM auth_tokens
		 WHERE token = $1 AND is_revoked = false`,
		token,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find auth token: %w", err)
	}
	return t, nil
}

// Revoke is a no-op for unknown or already revoked tokens.
func (r *PostgresTokenRepo) Revoke(ctx context.Context, token string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auth_tokens SET is_revoked = true, updated_at = $2
		 WHERE token = $1 AND is_revoked = false`,
		token, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revoke auth token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// RevokeAllByUserID revokes the user's live tokens in one statement.
func (r *PostgresTokenRepo) RevokeAllByUserID(ctx context.Context, userID, exceptToken string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE auth_tokens SET is_revoked = true, updated_at = $2
		 WHERE user_id = $1 AND is_revoked = false AND expires_at > $2
		   AND ($3 = '' OR token <> $3)`,
		userID, at, exceptToken,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user auth tokens: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// compile-time interface check
var _ AuthTokenRepository = (*PostgresTokenRepo)(nil)
