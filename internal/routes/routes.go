package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/campusgate/internal/auth"
	"github.com/BradenHooton/campusgate/internal/guard"
	"github.com/BradenHooton/campusgate/internal/handlers"
	"github.com/BradenHooton/campusgate/internal/middleware"
	"github.com/BradenHooton/campusgate/internal/models"
	pkghttp "github.com/BradenHooton/campusgate/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Portal view paths
const (
	LoginPath     = "/login"
	ForbiddenPath = "/forbidden"
)

// RegisterGatewayRoutes registers the portal gateway's routes
func RegisterGatewayRoutes(
	router chi.Router,
	portal *handlers.PortalHandler,
	rateLimit middleware.RateLimitConfig,
	logger *slog.Logger,
) {
	g := guard.Guard{LoginPath: LoginPath, ForbiddenPath: ForbiddenPath, Logger: logger}
	csrf := middleware.CSRFProtection(middleware.CSRFConfig{
		CookieName: handlers.CSRFCookieName,
		HeaderName: handlers.CSRFHeaderName,
	}, logger)
	limit := middleware.RateLimitByIP(rateLimit)

	// Public views
	router.Get(LoginPath, portal.PublicView("login"))
	router.Get(ForbiddenPath, portal.PublicView("forbidden"))

	// Session API
	router.Route("/auth", func(r chi.Router) {
		r.Get("/attempts", portal.Attempts)
		r.Get("/pending", portal.Pending)
		r.Get("/session", portal.Session)

		r.Group(func(r chi.Router) {
			r.Use(csrf)
			r.With(limit).Post("/login", portal.Login)
			r.With(limit).Post("/otp", portal.OTP)
			r.Post("/logout", portal.Logout)
		})
	})

	// Guarded views
	router.With(g.Middleware(portal.ResolveStore)).Get("/dashboard", portal.GuardedView("dashboard"))
	router.With(g.Middleware(portal.ResolveStore)).Get("/courses", portal.GuardedView("courses"))
	router.With(g.Middleware(portal.ResolveStore, models.RoleTeacher, models.RoleAdmin)).Get("/grading", portal.GuardedView("grading"))
	router.With(g.Middleware(portal.ResolveStore, models.RoleAdmin)).Get("/admin", portal.GuardedView("admin"))

	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})
	router.NotFound(notFound)
}

// RegisterCredentialRoutes registers the development credential server's routes
func RegisterCredentialRoutes(
	router chi.Router,
	credential *handlers.CredentialHandler,
	tokenManager *auth.TokenManager,
	rateLimit middleware.RateLimitConfig,
) {
	limit := middleware.RateLimitByIP(rateLimit)

	router.Route("/auth", func(r chi.Router) {
		r.With(limit).Post("/login-step-one", credential.StepOne)
		r.With(limit).Post("/login-step-two", credential.StepTwo)
		r.Post("/refresh", credential.Refresh)
		r.Post("/logout", credential.Logout)

		r.With(auth.AuthMiddleware(tokenManager)).Get("/me", credential.Me)
	})
	router.NotFound(notFound)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteNotFound(w, "Not found")
}
