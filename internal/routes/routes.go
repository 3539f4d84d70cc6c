package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/listable/authgate/internal/handlers"
	"github.com/listable/authgate/internal/middleware"
)

// RegisterRoutes registers all application routes. Login carries its own
// fixed-window limiter inside the handler; the other public endpoints get a
// coarse per-IP throttle at the router.
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
) {
	rateLimitConfig := middleware.DefaultVerificationRateLimit()

	router.Post("/auth/login", authHandler.Login)

	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))

		r.Post("/auth/signup", authHandler.Signup)
		r.Post("/auth/resend-verification", authHandler.ResendVerification)
		r.Get("/auth/verify", authHandler.VerifyEmail)
	})
}
