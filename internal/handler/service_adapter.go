package handler

import (
	"context"

	"github.com/hitoshi/authcore/internal/auth"
)

// AuthServiceAdapter adapts auth.Service to AuthServiceInterface.
type AuthServiceAdapter struct {
	svc *auth.Service
}

// NewAuthServiceAdapter creates an AuthServiceAdapter.
func NewAuthServiceAdapter(svc *auth.Service) *AuthServiceAdapter {
	return &AuthServiceAdapter{svc: svc}
}

// RequestCode delegates to the service.
func (a *AuthServiceAdapter) RequestCode(ctx context.Context, email, userAgent string) error {
	return a.svc.RequestCode(ctx, email, userAgent)
}

// LoginWithCode returns the login result as a handler response.
func (a *AuthServiceAdapter) LoginWithCode(ctx context.Context, email, code, userAgent string) (*loginResponse, error) {
	result, err := a.svc.LoginWithCode(ctx, email, code, userAgent)
	if err != nil {
		return nil, err
	}
	return toLoginResponse(result), nil
}

// LoginWithPassword returns the login result as a handler response.
func (a *AuthServiceAdapter) LoginWithPassword(ctx context.Context, email, password, userAgent string) (*loginResponse, error) {
	result, err := a.svc.LoginWithPassword(ctx, email, password, userAgent)
	if err != nil {
		return nil, err
	}
	return toLoginResponse(result), nil
}

// ChangePassword delegates to the service.
func (a *AuthServiceAdapter) ChangePassword(ctx context.Context, userID, newPassword string) error {
	return a.svc.ChangePassword(ctx, userID, newPassword)
}

// Logout delegates to the service.
func (a *AuthServiceAdapter) Logout(ctx context.Context, token string) error {
	return a.svc.Logout(ctx, token)
}

// LogoutAll delegates to the service.
func (a *AuthServiceAdapter) LogoutAll(ctx context.Context, userID string) (int, error) {
	return a.svc.LogoutAll(ctx, userID)
}

// LogoutOthers delegates to the service.
func (a *AuthServiceAdapter) LogoutOthers(ctx context.Context, userID, currentToken string) (int, error) {
	return a.svc.LogoutOthers(ctx, userID, currentToken)
}

func toLoginResponse(result *auth.LoginResult) *loginResponse {
	return &loginResponse{
		Token:  result.Token,
		UserID: result.UserID,
		User: userResponse{
			ID:         result.User.ID,
			Email:      result.User.Email,
			IsVerified: result.User.IsVerified,
		},
	}
}

// compile-time interface check
var _ AuthServiceInterface = (*AuthServiceAdapter)(nil)
