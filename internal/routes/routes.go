package routes

import (
	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Handlers bundles everything the route table mounts
type Handlers struct {
	Auth   *handlers.AuthHandler
	MFA    *handlers.MFAHandler
	Admin  *handlers.AdminHandler
	Health *handlers.HealthHandler
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	h Handlers,
	gate auth.SessionAuthenticator,
	limits middleware.RateLimitConfig,
	ipConfig *pkghttp.IPConfig,
) {
	credentialLimit := middleware.RateLimitByIP(limits.CredentialPerMinute, ipConfig)
	codeLimit := middleware.RateLimitByIP(limits.CodePerMinute, ipConfig)

	router.Get("/health", h.Health.Health)

	router.Route("/auth", func(r chi.Router) {
		// Public routes - no authentication required
		r.With(codeLimit).Post("/register", h.Auth.Register)
		r.With(credentialLimit).Post("/login", h.Auth.Login)
		r.With(credentialLimit).Post("/refresh", h.Auth.RefreshToken)
		r.Post("/logout", h.Auth.Logout)

		r.With(codeLimit).Post("/otp/send", h.Auth.SendOTP)
		r.With(codeLimit).Post("/otp/resend", h.Auth.ResendOTP)
		r.With(codeLimit).Post("/otp/verify", h.Auth.VerifyOTP)
		r.With(codeLimit).Get("/otp/status", h.Auth.OTPStatus)

		r.With(codeLimit).Post("/password/forgot", h.Auth.ForgotPassword)
		r.With(codeLimit).Post("/password/reset", h.Auth.ResetPassword)

		r.With(credentialLimit).Post("/mfa/verify-login", h.MFA.VerifyLogin)

		// Protected routes - live session required
		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate(gate))
			r.Use(middleware.RateLimitByUserID(limits.AuthenticatedPerMinute, ipConfig))

			r.Get("/me", h.Auth.Me)
			r.Post("/mfa/setup", h.MFA.Setup)
			r.Post("/mfa/activate", h.MFA.Activate)
			r.Post("/mfa/disable", h.MFA.Disable)
			r.Get("/mfa/status", h.MFA.Status)
		})
	})

	// Admin-only routes
	router.Route("/admin/users/{id}", func(r chi.Router) {
		r.Use(auth.Authenticate(gate))
		r.Use(auth.RequireRoles(models.RoleAdmin))
		r.Use(middleware.RateLimitByUserID(limits.AuthenticatedPerMinute, ipConfig))

		r.Post("/lock", h.Admin.Lock)
		r.Post("/unlock", h.Admin.Unlock)
		r.Post("/suspend", h.Admin.Suspend)
		r.Post("/terminate", h.Admin.Terminate)
		r.Post("/reactivate", h.Admin.Reactivate)
		r.Get("/audit", h.Admin.AuditTrail)
	})
}
