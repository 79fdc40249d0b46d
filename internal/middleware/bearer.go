// Package middleware provides the HTTP middleware chain.
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hitoshi/authcore/internal/model"
)

// contextKey is the type-safe key for request context values.
type contextKey string

var (
	userContextKey   = contextKey("user")
	tokenContextKey  = contextKey("token")
	holderContextKey = contextKey("user_holder")
)

// userHolder lets outer middleware see the user resolved further in.
type userHolder struct {
	userID string
}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, holderContextKey, h)
}

// TokenAuthenticator resolves a raw Authorization header value to its user.
// auth.Service satisfies it.
type TokenAuthenticator interface {
	CurrentUser(ctx context.Context, rawToken string) (*model.User, *model.AuthToken, error)
}

// NewBearerMiddleware resolves the Authorization header and stores the user
// and token in the request context. A missing or invalid token leaves the
// request anonymous; RequireUser enforces sign-in. Store failures answer 503.
func NewBearerMiddleware(authenticator TokenAuthenticator, logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, token, err := authenticator.CurrentUser(r.Context(), header)
			if err != nil {
				if model.KindOf(err) == model.KindStorageUnavailable {
					logger.Error("failed to resolve bearer token", zap.Error(err))
					WriteError(w, err)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if h, ok := r.Context().Value(holderContextKey).(*userHolder); ok {
				h.userID = user.ID
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user, token)))
		})
	}
}

// RequireUser rejects anonymous requests with 401 UNAUTHENTICATED.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == nil {
			WriteError(w, model.NewUnauthenticatedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext returns the signed-in user, or nil.
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}

// TokenFromContext returns the token the request was authenticated with, or nil.
func TokenFromContext(ctx context.Context) *model.AuthToken {
	token, _ := ctx.Value(tokenContextKey).(*model.AuthToken)
	return token
}

// UserIDFromContext returns the signed-in user's ID.
func UserIDFromContext(ctx context.Context) (string, error) {
	user := UserFromContext(ctx)
	if user == nil || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}

// ContextWithUser stores user and token in ctx. Used by the bearer middleware and tests.
func ContextWithUser(ctx context.Context, user *model.User, token *model.AuthToken) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	if token != nil {
		ctx = context.WithValue(ctx, tokenContextKey, token)
	}
	return ctx
}
