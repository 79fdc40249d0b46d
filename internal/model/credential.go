package model

import "time"

// VerificationCode is a single-use, short-lived numeric code sent by email.
// A code superseded by a newer request is withdrawn (DeletedAt set): it is
// hidden from lookups but still counts toward the request rate limit.
type VerificationCode struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	Code      string     `db:"code"`
	UserAgent string     `db:"user_agent"`
	ExpiresAt time.Time  `db:"expires_at"`
	IsUsed    bool       `db:"is_used"`
	UsedAt    *time.Time `db:"used_at"`
	Attempts  int        `db:"attempts"`
	DeletedAt *time.Time `db:"deleted_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// Expired reports whether the code is past its expiry at now.
func (c *VerificationCode) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Exhausted reports whether more than maxAttempts attempts have been counted.
// Attempts includes the one being evaluated.
func (c *VerificationCode) Exhausted(maxAttempts int) bool {
	return c.Attempts > maxAttempts
}

// AuthToken is an opaque bearer credential. Tokens are never deleted;
// revocation only flips IsRevoked.
type AuthToken struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Token     string    `db:"token"`
	UserAgent string    `db:"user_agent"`
	ExpiresAt time.Time `db:"expires_at"`
	IsRevoked bool      `db:"is_revoked"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Live reports whether the token authenticates at now.
func (t *AuthToken) Live(now time.Time) bool {
	return !t.IsRevoked && t.ExpiresAt.After(now)
}
