// Package model defines the domain types shared by the auth services.
package model

import "time"

// User is an account identified by its normalized email address.
// PasswordHash is nil until the user sets a password.
type User struct {
	ID           string     `db:"id"`
	Email        string     `db:"email"`
	PasswordHash *string    `db:"password_hash"`
	IsVerified   bool       `db:"is_verified"`
	IsActive     bool       `db:"is_active"`
	LastLoginAt  *time.Time `db:"last_login_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// HasPassword reports whether the user has a stored password hash.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}
