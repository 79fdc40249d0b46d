// Package handler provides the HTTP handlers for the auth API.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/hitoshi/authcore/internal/middleware"
	"github.com/hitoshi/authcore/internal/model"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	codePattern  = regexp.MustCompile(`^[0-9]{6}$`)
)

// AuthServiceInterface is the auth service as seen by the handlers.
type AuthServiceInterface interface {
	RequestCode(ctx context.Context, email, userAgent string) error
	LoginWithCode(ctx context.Context, email, code, userAgent string) (*loginResponse, error)
	LoginWithPassword(ctx context.Context, email, password, userAgent string) (*loginResponse, error)
	ChangePassword(ctx context.Context, userID, newPassword string) error
	Logout(ctx context.Context, token string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
	LogoutOthers(ctx context.Context, userID, currentToken string) (int, error)
}

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type requestCodeRequest struct {
	Email     string `json:"email"`
	UserAgent string `json:"userAgent"`
}

type loginWithCodeRequest struct {
	Email     string `json:"email"`
	Code      string `json:"code"`
	UserAgent string `json:"userAgent"`
}

type loginWithPasswordRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	UserAgent string `json:"userAgent"`
}

type changePasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	IsVerified bool   `json:"isVerified"`
}

type loginResponse struct {
	Token  string       `json:"token"`
	UserID string       `json:"userId"`
	User   userResponse `json:"user"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type sessionsResponse struct {
	Success            bool `json:"success"`
	SessionsTerminated int  `json:"sessionsTerminated"`
}

// RequestCode emails a sign-in code.
// POST /auth/request-code
func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req requestCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !emailPattern.MatchString(req.Email) {
		middleware.WriteInvalidRequest(w, "A valid email address is required.")
		return
	}

	if err := h.service.RequestCode(r.Context(), req.Email, userAgent(r, req.UserAgent)); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// LoginWithCode exchanges an emailed code for a bearer token.
// POST /auth/login/code
func (h *AuthHandler) LoginWithCode(w http.ResponseWriter, r *http.Request) {
	var req loginWithCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !emailPattern.MatchString(req.Email) {
		middleware.WriteInvalidRequest(w, "A valid email address is required.")
		return
	}
	if !codePattern.MatchString(req.Code) {
		middleware.WriteInvalidRequest(w, "The code must be exactly 6 digits.")
		return
	}

	resp, err := h.service.LoginWithCode(r.Context(), req.Email, req.Code, userAgent(r, req.UserAgent))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// LoginWithPassword exchanges email and password for a bearer token.
// POST /auth/login/password
func (h *AuthHandler) LoginWithPassword(w http.ResponseWriter, r *http.Request) {
	var req loginWithPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !emailPattern.MatchString(req.Email) {
		middleware.WriteInvalidRequest(w, "A valid email address is required.")
		return
	}
	if req.Password == "" {
		middleware.WriteInvalidRequest(w, "A password is required.")
		return
	}

	resp, err := h.service.LoginWithPassword(r.Context(), req.Email, req.Password, userAgent(r, req.UserAgent))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ChangePassword sets a new password and signs out every session.
// POST /auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, req.NewPassword); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// Logout revokes the presented token.
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromContext(r.Context())
	if token == nil {
		middleware.WriteError(w, model.NewUnauthenticatedError())
		return
	}

	if err := h.service.Logout(r.Context(), token.Token); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// LogoutAll revokes every token of the signed-in user.
// POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	n, err := h.service.LogoutAll(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Success: true, SessionsTerminated: n})
}

// LogoutOthers revokes every token of the signed-in user except the one in use.
// POST /auth/logout-others
func (h *AuthHandler) LogoutOthers(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	token := middleware.TokenFromContext(r.Context())
	if token == nil {
		middleware.WriteError(w, model.NewUnauthenticatedError())
		return
	}

	n, err := h.service.LogoutOthers(r.Context(), userID, token.Token)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Success: true, SessionsTerminated: n})
}

// Me returns the signed-in user.
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		middleware.WriteError(w, model.NewUnauthenticatedError())
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:         user.ID,
		Email:      user.Email,
		IsVerified: user.IsVerified,
	})
}

// userAgent prefers the client-supplied label over the request header.
func userAgent(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.UserAgent()
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewUnauthenticatedError())
		return "", false
	}
	return userID, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteInvalidRequest(w, "Failed to parse the request body.")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
