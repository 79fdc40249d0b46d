package auth

import (
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is used when BcryptHasher.Cost is zero.
const DefaultBcryptCost = 12

// MinPasswordLength is the shortest password ValidatePasswordStrength accepts.
const MinPasswordLength = 8

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify reports whether password matches hash. Comparison time does not depend on where they differ.
	Verify(hash, password string) bool
}

// BcryptHasher is the bcrypt PasswordHasher.
type BcryptHasher struct {
	Cost int
}

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return DefaultBcryptCost
	}
	return b.Cost
}

// Hash returns a salted bcrypt hash.
func (b BcryptHasher) Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), b.cost())
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Verify compares password against a bcrypt hash.
func (b BcryptHasher) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

const dummyPassword = "authcore-dummy-password"

// dummyHash is compared against when the account has no usable hash, so
// unknown-email logins cost the same as wrong-password logins.
type dummyHash struct {
	once   sync.Once
	hasher PasswordHasher
	hash   string
}

func (d *dummyHash) burn(password string) {
	d.once.Do(func() {
		h, err := d.hasher.Hash(dummyPassword)
		if err != nil {
			// the configured hasher is unusable; still pay for a real compare
			raw, fallbackErr := bcrypt.GenerateFromPassword([]byte(dummyPassword), DefaultBcryptCost)
			if fallbackErr != nil {
				return
			}
			h = string(raw)
		}
		d.hash = h
	})
	if d.hash != "" {
		d.hasher.Verify(d.hash, password)
	}
}

// ValidatePasswordStrength returns every rule the password fails, or nil.
func ValidatePasswordStrength(password string) []string {
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	length := 0
	for _, r := range password {
		length++
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			hasSpecial = true
		}
	}

	var unmet []string
	if length < MinPasswordLength {
		unmet = append(unmet, "at least 8 characters")
	}
	if !hasUpper {
		unmet = append(unmet, "an uppercase letter")
	}
	if !hasLower {
		unmet = append(unmet, "a lowercase letter")
	}
	if !hasDigit {
		unmet = append(unmet, "a digit")
	}
	if !hasSpecial {
		unmet = append(unmet, "a special character")
	}
	return unmet
}
