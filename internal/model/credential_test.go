package model

import (
	"testing"
	"time"
)

func TestVerificationCode_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if (&VerificationCode{ExpiresAt: now.Add(time.Minute)}).Expired(now) {
		t.Error("code expiring later should not be expired")
	}
	if !(&VerificationCode{ExpiresAt: now}).Expired(now) {
		t.Error("code expiring exactly now should be expired")
	}
	if !(&VerificationCode{ExpiresAt: now.Add(-time.Second)}).Expired(now) {
		t.Error("past code should be expired")
	}
}

func TestVerificationCode_Exhausted(t *testing.T) {
	tests := []struct {
		attempts int
		want     bool
	}{
		{1, false},
		{3, false},
		{4, true},
	}
	for _, tt := range tests {
		if got := (&VerificationCode{Attempts: tt.attempts}).Exhausted(3); got != tt.want {
			t.Errorf("Exhausted(3) with %d attempts = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestAuthToken_Live(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if !(&AuthToken{ExpiresAt: now.Add(time.Hour)}).Live(now) {
		t.Error("unexpired token should be live")
	}
	if (&AuthToken{ExpiresAt: now.Add(time.Hour), IsRevoked: true}).Live(now) {
		t.Error("revoked token should not be live")
	}
	if (&AuthToken{ExpiresAt: now}).Live(now) {
		t.Error("token expiring exactly now should not be live")
	}
}

func TestUser_HasPassword(t *testing.T) {
	empty := ""
	hash := "$2a$12$abc"

	if (&User{}).HasPassword() {
		t.Error("nil hash should report no password")
	}
	if (&User{PasswordHash: &empty}).HasPassword() {
		t.Error("empty hash should report no password")
	}
	if !(&User{PasswordHash: &hash}).HasPassword() {
		t.Error("stored hash should report a password")
	}
}
