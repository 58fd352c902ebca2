package router

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/ticket-access-service/internal/domain"
	"github.com/sandeepkv93/ticket-access-service/internal/health"
	"github.com/sandeepkv93/ticket-access-service/internal/http/handler"
	"github.com/sandeepkv93/ticket-access-service/internal/http/middleware"
	"github.com/sandeepkv93/ticket-access-service/internal/http/response"
	"github.com/sandeepkv93/ticket-access-service/internal/security"
)

type Dependencies struct {
	AuthHandler                *handler.AuthHandler
	UserHandler                *handler.UserHandler
	ResourceHandler            *handler.ResourceHandler
	AdminHandler               *handler.AdminHandler
	EventHandler               *handler.EventHandler
	JWTManager                 *security.JWTManager
	IdentityResolver           middleware.IdentityResolver
	CORSOrigins                []string
	AuthRateLimitRPM           int
	PasswordForgotRateLimitRPM int
	APIRateLimitRPM            int
	GlobalRateLimiter          GlobalRateLimiterFunc
	AuthRateLimiter            AuthRateLimiterFunc
	ForgotRateLimiter          ForgotRateLimiterFunc
	Idempotency                IdempotencyMiddlewareFactory
	Readiness                  *health.ProbeRunner
	EnableOTelHTTP             bool
	EnableSentry               bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type AuthRateLimiterFunc func(http.Handler) http.Handler
type ForgotRateLimiterFunc func(http.Handler) http.Handler
type IdempotencyMiddlewareFactory func(scope string) func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if dep.EnableSentry {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.RateLimit(middleware.PerMinute(dep.APIRateLimitRPM), middleware.RateLimitOptions{
			Scope:  "api",
			Key:    middleware.SubjectOrIPKeyFunc(dep.JWTManager),
			Bypass: middleware.ProbeBypass,
		}))
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.RateLimit(middleware.PerMinute(dep.AuthRateLimitRPM), middleware.RateLimitOptions{Scope: "auth"})
	}
	forgotLimiter := dep.ForgotRateLimiter
	if forgotLimiter == nil {
		forgotLimiter = middleware.RateLimit(middleware.PerMinute(dep.PasswordForgotRateLimitRPM), middleware.RateLimitOptions{Scope: "forgot"})
	}
	idem := func(scope string) []func(http.Handler) http.Handler {
		if dep.Idempotency == nil {
			return nil
		}
		return []func(http.Handler) http.Handler{dep.Idempotency(scope)}
	}
	authn := middleware.AuthMiddleware(dep.JWTManager, dep.IdentityResolver)
	can := middleware.RequireCapability

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/signup", dep.AuthHandler.Signup)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(forgotLimiter).Post("/forgot-password", dep.AuthHandler.ForgotPassword)
			r.With(authLimiter).Post("/reset-password", dep.AuthHandler.ResetPassword)
			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
				r.Post("/logout", dep.AuthHandler.Logout)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Get("/me", dep.UserHandler.Me)
			r.Get("/me/sessions", dep.UserHandler.Sessions)
			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.Post("/me/logout-all", dep.UserHandler.LogoutAll)
				r.Delete("/me/sessions/{session_id}", dep.UserHandler.RevokeSession)
				r.Post("/me/sessions/revoke-others", dep.UserHandler.RevokeOtherSessions)
			})
			r.With(can(domain.CapManageOwnSettings)).Get("/me/settings", dep.UserHandler.GetSettings)
			r.With(can(domain.CapManageOwnSettings)).Put("/me/settings", dep.UserHandler.UpdateSettings)

			r.Route("/resources", func(r chi.Router) {
				issueChain := append([]func(http.Handler) http.Handler{can(domain.CapIssueResource)}, idem("resources.issue")...)
				r.With(issueChain...).Post("/", dep.ResourceHandler.Issue)
				r.With(can(domain.CapClaimResource)).Post("/validate", dep.ResourceHandler.Validate)
				r.Get("/limits", dep.ResourceHandler.Limits)
				r.Get("/assigned", dep.ResourceHandler.Assigned)
				r.Get("/history", dep.ResourceHandler.History)
				r.Get("/history/{id}", dep.ResourceHandler.Detail)
				r.Delete("/history/{id}", dep.ResourceHandler.DeleteHistory)
			})
			r.With(can(domain.CapClaimResource)).Post("/resource/validate", dep.ResourceHandler.Validate)

			r.Route("/events", func(r chi.Router) {
				r.Get("/", dep.EventHandler.List)
				r.Get("/{id}", dep.EventHandler.Get)
				r.Group(func(r chi.Router) {
					r.Use(can(domain.CapManageEvents))
					r.Post("/", dep.EventHandler.Create)
					r.Put("/{id}", dep.EventHandler.Update)
					r.Delete("/{id}", dep.EventHandler.Delete)
					r.With(idem("events.tickets.approve")...).Post("/{id}/tickets", dep.EventHandler.ApproveTickets)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.With(can(domain.CapObserveEvents)).Get("/events", dep.AdminHandler.Events)
				r.Group(func(r chi.Router) {
					r.Use(can(domain.CapManageUsers))
					r.Get("/users", dep.AdminHandler.ListUsers)
					r.Get("/roles", dep.AdminHandler.RoleCounts)
					r.With(idem("admin.users.roles.put")...).Put("/users/{id}/roles", dep.AdminHandler.SetUserRoles)
					r.Post("/users/{id}/force-logout", dep.AdminHandler.ForceLogout)
				})
			})
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
