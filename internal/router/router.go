package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nivara-labs/identity-core/internal/api/audit"
	"github.com/nivara-labs/identity-core/internal/api/auth"
	"github.com/nivara-labs/identity-core/internal/api/membership"
	"github.com/nivara-labs/identity-core/internal/api/profile"
	"github.com/nivara-labs/identity-core/internal/api/status"
	"github.com/nivara-labs/identity-core/internal/api/tenant"
)

// Config carries the handlers and middleware the router wires together.
type Config struct {
	AuthHandler            auth.Handler
	StatusHandler          status.Handler
	MembershipHandler      membership.Handler
	ProfileHandler         profile.Handler
	TenantHandler          tenant.Handler
	AuditHandler           audit.Handler
	AuthenticateMiddleware func(http.Handler) http.Handler
}

// SetupRouter initializes and configures the main application router.
// Server-wide middleware (logger, requestID, recoverer) are applied before
// mounting this router in main.go.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Get("/swagger/*", httpSwagger.Handler())

	r.Route("/api/v1", func(r chi.Router) {

		// Public auth routes.
		r.Group(func(r chi.Router) {
			r.Post("/auth/register", cfg.AuthHandler.Register)
			r.Post("/auth/login", cfg.AuthHandler.Login)
			r.Post("/auth/refresh", cfg.AuthHandler.RefreshToken)
			r.Post("/auth/provider/{provider}", cfg.AuthHandler.ProviderLogin)
			r.Post("/auth/users/{userID}/otp", cfg.AuthHandler.RequestOTP)
			r.Post("/auth/users/{userID}/otp/verify", cfg.AuthHandler.VerifyOTP)
			r.Post("/auth/password/forgot", cfg.AuthHandler.ForgotPassword)
			r.Post("/auth/password/reset", cfg.AuthHandler.ResetPassword)
			r.Post("/auth/reactivate", cfg.AuthHandler.InitiateReactivation)
			r.Post("/auth/reactivate/confirm", cfg.AuthHandler.ConfirmReactivation)
		})

		// Protected admin and resource routes.
		r.Group(func(r chi.Router) {
			r.Use(cfg.AuthenticateMiddleware)

			r.Post("/auth/logout", cfg.AuthHandler.Logout)
			r.Post("/auth/password/change", cfg.AuthHandler.ChangePassword)

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Get("/", cfg.StatusHandler.GetUser)
				r.Put("/status", cfg.StatusHandler.SetGlobalStatus)
				r.Put("/contact", cfg.ProfileHandler.UpdateContact)
				r.Get("/apps", cfg.MembershipHandler.GetAccessibleApps)

				r.Route("/memberships", func(r chi.Router) {
					r.Get("/", cfg.MembershipHandler.GetMemberships)
					r.Post("/", cfg.MembershipHandler.AddMembership)
					r.Route("/{appID}", func(r chi.Router) {
						r.Delete("/", cfg.MembershipHandler.RemoveMembership)
						r.Put("/role", cfg.MembershipHandler.ChangeRole)
						r.Put("/status", cfg.MembershipHandler.ChangeMembershipStatus)
						r.Get("/permissions", cfg.MembershipHandler.GetEffectivePermissions)
					})
				})

				r.Route("/profiles/{appID}", func(r chi.Router) {
					r.Get("/", cfg.ProfileHandler.GetResolvedProfile)
					r.Put("/", cfg.ProfileHandler.UpdateProfile)
				})
			})

			r.Route("/apps", func(r chi.Router) {
				r.Get("/", cfg.TenantHandler.ListApps)
				r.Post("/", cfg.TenantHandler.CreateApp)
				r.Route("/{appID}", func(r chi.Router) {
					r.Get("/", cfg.TenantHandler.GetApp)
					r.Put("/", cfg.TenantHandler.UpdateApp)
					r.Get("/roles", cfg.TenantHandler.ListRoles)
					r.Post("/roles", cfg.TenantHandler.CreateRole)
					r.Get("/roles/{roleName}", cfg.TenantHandler.GetRole)
				})
			})

			r.Get("/audit-logs", cfg.AuditHandler.ListAuditLogs)
		})
	})

	return r
}
