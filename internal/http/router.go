package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/veltix/auth-api/internal/auth"
	"github.com/veltix/auth-api/internal/config"
	"github.com/veltix/auth-api/internal/httputil"
	"github.com/veltix/auth-api/internal/logging"
)

// NewRouter creates and configures the HTTP router. The authorization
// pipeline runs on every route; individual routes add predicate guards on
// top of it.
func NewRouter(cfg *config.Config, authHandler *auth.Handler, pipeline *auth.Pipeline, logger *logging.Logger) *chi.Mux {
	r := chi.NewRouter()

	// CORS - must be first
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.Server.TrustedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           300, // 5 minutes
		}))
	}

	// Global middleware
	r.Use(SecurityHeaders)               // Security headers on all responses
	r.Use(middleware.Recoverer)          // Recover from panics
	r.Use(middleware.RequestID)          // Add request ID
	r.Use(middleware.RealIP)             // Set RemoteAddr to real IP
	r.Use(logging.RequestLogger(logger)) // Structured logging with request context
	r.Use(middleware.Compress(5))        // Compress responses
	r.Use(pipeline.Middleware)           // Principal resolution, public fallback, block check

	// Public routes
	r.Get("/health", handleHealth)

	r.Route("/"+cfg.Auth.APIPath, func(r chi.Router) {
		// Public auth routes
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/social/login", authHandler.SocialLogin)
		r.Post("/social/register", authHandler.SocialRegister)
		r.Post("/passwords/email", authHandler.ForgotPassword)
		r.Post("/passwords/reset", authHandler.ResetPassword)
		r.Post("/refresh-token", authHandler.Refresh)
		r.Delete("/refresh-token", authHandler.Logout)

		// Routes requiring an authenticated principal
		r.Group(func(r chi.Router) {
			r.Use(pipeline.Require(auth.Authenticated()))
			r.Get("/me", authHandler.Me)
			r.Post("/verification/confirm", authHandler.ConfirmEmail)
			r.Post("/verification/resend", authHandler.ResendVerification)
			r.Post("/two-factor/enable", authHandler.EnableTwoFactor)
			r.Post("/two-factor/enable/confirm", authHandler.ConfirmEnableTwoFactor)
			r.Post("/two-factor/disable", authHandler.DisableTwoFactor)
		})
	})

	return r
}

// handleHealth is a simple health check endpoint
func handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, map[string]string{"status": "api is running"}, http.StatusOK)
}
