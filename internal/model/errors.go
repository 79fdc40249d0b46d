package model

import (
	"errors"
	"fmt"
)

// APIError is the unified error body returned to clients.
// Category groups the cause for clients; Action tells the user what to do next.
type APIError struct {
	Code     string
	Message  string
	Category string // auth, validation, system
	Action   string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// ErrorKind is the stable machine-readable tag carried by AuthError.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindInvalidCode        ErrorKind = "INVALID_CODE"
	KindExpired            ErrorKind = "EXPIRED"
	KindAttemptsExceeded   ErrorKind = "ATTEMPTS_EXCEEDED"
	KindRateLimited        ErrorKind = "RATE_LIMITED"
	KindDeliveryFailed     ErrorKind = "DELIVERY_FAILED"
	KindInvalidCredentials ErrorKind = "INVALID_CREDENTIALS"
	KindWeakPassword       ErrorKind = "WEAK_PASSWORD"
	KindUnauthenticated    ErrorKind = "UNAUTHENTICATED"
	KindStorageUnavailable ErrorKind = "STORAGE_UNAVAILABLE"
)

// AuthError is the single error type returned across the auth service boundary.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrNotFound           = &AuthError{Kind: KindNotFound}
	ErrInvalidCode        = &AuthError{Kind: KindInvalidCode}
	ErrExpired            = &AuthError{Kind: KindExpired}
	ErrAttemptsExceeded   = &AuthError{Kind: KindAttemptsExceeded}
	ErrRateLimited        = &AuthError{Kind: KindRateLimited}
	ErrDeliveryFailed     = &AuthError{Kind: KindDeliveryFailed}
	ErrInvalidCredentials = &AuthError{Kind: KindInvalidCredentials}
	ErrWeakPassword       = &AuthError{Kind: KindWeakPassword}
	ErrUnauthenticated    = &AuthError{Kind: KindUnauthenticated}
	ErrStorageUnavailable = &AuthError{Kind: KindStorageUnavailable}
)

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any AuthError with the same Kind.
func (e *AuthError) Is(target error) bool {
	var t *AuthError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the same call may succeed if repeated unchanged.
func (e *AuthError) Retryable() bool {
	return e.Kind == KindStorageUnavailable
}

// KindOf returns the kind of the first AuthError in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// NewNotFoundError reports that no account exists for the email.
func NewNotFoundError() *AuthError {
	return &AuthError{Kind: KindNotFound, Message: "no account exists for this email"}
}

// NewInvalidCodeError covers wrong, already-used and never-issued codes alike.
func NewInvalidCodeError() *AuthError {
	return &AuthError{Kind: KindInvalidCode, Message: "verification code is invalid"}
}

// NewExpiredError reports a code redeemed at or after its expiry.
func NewExpiredError() *AuthError {
	return &AuthError{Kind: KindExpired, Message: "verification code has expired"}
}

// NewAttemptsExceededError reports a code whose attempt budget is spent.
func NewAttemptsExceededError() *AuthError {
	return &AuthError{Kind: KindAttemptsExceeded, Message: "too many attempts for this verification code"}
}

// NewRateLimitedError reports too many codes requested within the rate window.
func NewRateLimitedError() *AuthError {
	return &AuthError{Kind: KindRateLimited, Message: "too many verification codes requested"}
}

// NewDeliveryFailedError wraps a notifier failure. The code stays stored.
func NewDeliveryFailedError(err error) *AuthError {
	return &AuthError{Kind: KindDeliveryFailed, Message: "failed to deliver verification code", Err: err}
}

// NewInvalidCredentialsError is the single answer for every failed password
// login and for inactive accounts.
func NewInvalidCredentialsError() *AuthError {
	return &AuthError{Kind: KindInvalidCredentials, Message: "invalid email or password"}
}

// NewWeakPasswordError lists every unmet complexity rule in the message.
func NewWeakPasswordError(unmet []string) *AuthError {
	msg := "password does not meet complexity requirements"
	for i, rule := range unmet {
		if i == 0 {
			msg += ": " + rule
		} else {
			msg += ", " + rule
		}
	}
	return &AuthError{Kind: KindWeakPassword, Message: msg}
}

// NewUnauthenticatedError reports a missing, unknown, revoked or expired token.
func NewUnauthenticatedError() *AuthError {
	return &AuthError{Kind: KindUnauthenticated, Message: "authentication required"}
}

// NewStorageUnavailableError wraps a persistence failure. It is the only retryable kind.
func NewStorageUnavailableError(err error) *AuthError {
	return &AuthError{Kind: KindStorageUnavailable, Message: "credential store unavailable", Err: err}
}

// APIError converts the error into the client-facing format.
func (e *AuthError) APIError() *APIError {
	apiErr := &APIError{Code: string(e.Kind), Message: e.Message, Category: "auth"}
	switch e.Kind {
	case KindNotFound:
		apiErr.Action = "Request a verification code first."
	case KindInvalidCode:
		apiErr.Action = "Check the code in the latest email and try again."
	case KindExpired, KindAttemptsExceeded:
		apiErr.Action = "Request a new verification code."
	case KindRateLimited:
		apiErr.Action = "Wait before requesting another code."
	case KindDeliveryFailed:
		apiErr.Category = "system"
		apiErr.Action = "Try again in a few minutes."
	case KindInvalidCredentials:
		apiErr.Action = "Check your email and password, or sign in with a code."
	case KindWeakPassword:
		apiErr.Category = "validation"
		apiErr.Action = "Choose a stronger password."
	case KindUnauthenticated:
		apiErr.Action = "Sign in again."
	case KindStorageUnavailable:
		apiErr.Category = "system"
		apiErr.Message = "service temporarily unavailable"
		apiErr.Action = "Retry the request."
	}
	return apiErr
}
