package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hitoshi/authcore/internal/metrics"
	"github.com/hitoshi/authcore/internal/middleware"
)

// RouterDeps holds what NewRouter needs.
type RouterDeps struct {
	HealthChecker HealthChecker
	Authenticator middleware.TokenAuthenticator
	AuthService   AuthServiceInterface

	// Edge throttling of the public auth routes
	Limiter           middleware.Limiter
	RateLimitRecorder middleware.RateLimitRecorder

	Metrics  middleware.HTTPMetricsRecorder
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger

	CORSAllowedOrigin string
	RequestTimeout    time.Duration
}

// NewRouter returns the chi router with every route and the middleware chain.
//
// Middleware order:
//
//	Recovery → RealIP → RequestID → Logging → SecurityHeaders → CORS → Timeout → Bearer
//
// Public auth routes add the edge rate limit; signed-in routes add RequireUser.
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(chimw.Timeout(timeout))
	r.Use(middleware.NewBearerMiddleware(deps.Authenticator, logger))

	authHandler := NewAuthHandler(deps.AuthService)

	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker, logger).Health)
	}
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		// Public
		r.Group(func(r chi.Router) {
			if deps.Limiter != nil {
				r.Use(middleware.NewEdgeRateLimitMiddleware(deps.Limiter, "edge", deps.RateLimitRecorder, logger))
			}
			r.Post("/request-code", authHandler.RequestCode)
			r.Post("/send-code", authHandler.RequestCode)
			r.Post("/login/code", authHandler.LoginWithCode)
			r.Post("/verify-code", authHandler.LoginWithCode)
			r.Post("/login/password", authHandler.LoginWithPassword)
		})

		// Signed in
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			r.Post("/change-password", authHandler.ChangePassword)
			r.Post("/logout", authHandler.Logout)
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Post("/logout-others", authHandler.LogoutOthers)
			r.Get("/me", authHandler.Me)
		})
	})

	return r
}
