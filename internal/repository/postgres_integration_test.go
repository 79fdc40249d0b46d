package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/authcore/internal/database"
	"github.com/hitoshi/authcore/internal/model"
)

// setupIntegrationDB connects to TEST_DATABASE_URL and applies migrations.
// Skips when no database is reachable.
func setupIntegrationDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.Open(dbURL)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("test database unreachable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE auth_tokens, verification_codes, users CASCADE`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, repo *PostgresUserRepo, email string) *model.User {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := &model.User{ID: uuid.NewString(), Email: email, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return u
}

func newTestCode(userID, code string, now time.Time) *model.VerificationCode {
	return &model.VerificationCode{
		ID:        uuid.NewString(),
		UserID:    userID,
		Code:      code,
		ExpiresAt: now.Add(15 * time.Minute),
		CreatedAt: now,
	}
}

func TestPostgresUserRepo_DuplicateEmailIsUniqueViolation(t *testing.T) {
	db := setupIntegrationDB(t)
	users := NewPostgresUserRepo(db)
	createTestUser(t, users, "dup@example.com")

	now := time.Now()
	err := users.Create(context.Background(), &model.User{ID: uuid.NewString(), Email: "dup@example.com", IsActive: true, CreatedAt: now, UpdatedAt: now})
	if !IsUniqueViolation(err) {
		t.Fatalf("err = %v, want unique violation", err)
	}
}

func TestPostgresCodeRepo_WithdrawnCodesStillCount(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	codes := NewPostgresCodeRepo(db)
	u := createTestUser(t, users, "count@example.com")
	now := time.Now()

	for i := 0; i < 2; i++ {
		if err := codes.WithdrawUnused(ctx, u.ID, now); err != nil {
			t.Fatalf("WithdrawUnused: %v", err)
		}
		if err := codes.Create(ctx, newTestCode(u.ID, "123456", now)); err != nil {
			t.Fatalf("Create #%d: %v", i, err)
		}
	}

	count, err := codes.CountCreatedSince(ctx, u.ID, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountCreatedSince: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	live, err := codes.FindUnusedByUserID(ctx, u.ID)
	if err != nil || live == nil {
		t.Fatalf("FindUnusedByUserID = %v, %v; want one live code", live, err)
	}
}

func TestPostgresCodeRepo_SecondUnusedCodeRejected(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	codes := NewPostgresCodeRepo(db)
	u := createTestUser(t, users, "race@example.com")
	now := time.Now()

	if err := codes.Create(ctx, newTestCode(u.ID, "111111", now)); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := codes.Create(ctx, newTestCode(u.ID, "222222", now))
	if !IsUniqueViolation(err) {
		t.Fatalf("err = %v, want unique violation", err)
	}
}

func TestPostgresCodeRepo_IncrementAndMarkUsedOnce(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	codes := NewPostgresCodeRepo(db)
	u := createTestUser(t, users, "once@example.com")
	now := time.Now()
	c := newTestCode(u.ID, "654321", now)
	if err := codes.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := codes.IncrementAttempts(ctx, c.ID)
	if err != nil || updated == nil {
		t.Fatalf("IncrementAttempts = %v, %v", updated, err)
	}
	if updated.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", updated.Attempts)
	}

	first, err := codes.MarkUsed(ctx, c.ID, now)
	if err != nil || !first {
		t.Fatalf("first MarkUsed = %v, %v; want true", first, err)
	}
	second, err := codes.MarkUsed(ctx, c.ID, now)
	if err != nil || second {
		t.Fatalf("second MarkUsed = %v, %v; want false", second, err)
	}

	gone, err := codes.IncrementAttempts(ctx, c.ID)
	if err != nil || gone != nil {
		t.Errorf("IncrementAttempts on used code = %v, %v; want nil", gone, err)
	}
}

func TestPostgresTokenRepo_RevokeAllSkipsExceptAndExpired(t *testing.T) {
	db := setupIntegrationDB(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	tokens := NewPostgresTokenRepo(db)
	u := createTestUser(t, users, "tokens@example.com")
	now := time.Now()

	mk := func(value string, expires time.Time) {
		t.Helper()
		err := tokens.Create(ctx, &model.AuthToken{
			ID: uuid.NewString(), UserID: u.ID, Token: value,
			ExpiresAt: expires, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("Create %s: %v", value, err)
		}
	}
	mk("keep", now.Add(time.Hour))
	mk("a", now.Add(time.Hour))
	mk("b", now.Add(time.Hour))
	mk("old", now.Add(-time.Hour))

	n, err := tokens.RevokeAllByUserID(ctx, u.ID, "keep", now)
	if err != nil {
		t.Fatalf("RevokeAllByUserID: %v", err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}

	kept, err := tokens.FindUnrevokedByToken(ctx, "keep")
	if err != nil || kept == nil {
		t.Errorf("FindUnrevokedByToken(keep) = %v, %v; want token", kept, err)
	}

	changed, err := tokens.Revoke(ctx, "a", now)
	if err != nil || changed {
		t.Errorf("Revoke(already revoked) = %v, %v; want false, nil", changed, err)
	}
}
