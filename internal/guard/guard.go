// Package guard gates portal views by authentication state and role.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/campusgate/internal/models"
	"github.com/BradenHooton/campusgate/internal/session"
	pkghttp "github.com/BradenHooton/campusgate/pkg/http"
)

// Decision is the outcome of one navigation check
type Decision struct {
	Allowed        bool
	RedirectTarget string
}

// Guard holds the routes a denied navigation is sent to
type Guard struct {
	LoginPath     string
	ForbiddenPath string
	Logger        *slog.Logger
}

// Decide evaluates one navigation. An empty allowed set admits any
// authenticated role.
func (g Guard) Decide(state models.SessionState, allowed models.RoleSet) Decision {
	if !state.IsAuthenticated || state.User == nil {
		return Decision{RedirectTarget: g.LoginPath}
	}
	if len(allowed) > 0 && !allowed.Contains(state.User.Role) {
		return Decision{RedirectTarget: g.ForbiddenPath}
	}
	return Decision{Allowed: true}
}

// StoreResolver finds the session of the tab that sent r
type StoreResolver func(r *http.Request) (*session.Store, error)

type contextKey string

const (
	storeContextKey contextKey = "session_store"
	tokenContextKey contextKey = "access_token"
)

// Middleware admits a request only when Decide allows it. A session that
// lost its token to a reload is refreshed here; a rejected refresh clears
// the session and redirects to login without an error message. While the
// credential service is unreachable the session is kept and the view
// answers 503.
func (g Guard) Middleware(resolve StoreResolver, allowed ...models.Role) func(http.Handler) http.Handler {
	roles := models.RoleSet(allowed)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store, err := resolve(r)
			if err != nil {
				g.logger().Warn("failed to resolve session", slog.Any("error", err))
				http.Redirect(w, r, g.LoginPath, http.StatusFound)
				return
			}

			decision := g.Decide(store.State(), roles)
			if !decision.Allowed {
				http.Redirect(w, r, decision.RedirectTarget, http.StatusFound)
				return
			}

			token, err := store.AccessToken(r.Context())
			switch {
			case err == nil:
			case errors.Is(err, models.ErrServiceUnavailable):
				pkghttp.WriteServiceUnavailable(w, "Sign-in service unavailable, try again shortly")
				return
			case r.Context().Err() != nil:
				// client went away; nothing to answer
				return
			default:
				http.Redirect(w, r, g.LoginPath, http.StatusFound)
				return
			}

			// role may have changed while refreshing
			if decision = g.Decide(store.State(), roles); !decision.Allowed {
				http.Redirect(w, r, decision.RedirectTarget, http.StatusFound)
				return
			}

			ctx := context.WithValue(r.Context(), storeContextKey, store)
			ctx = context.WithValue(ctx, tokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g Guard) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// StoreFromContext returns the session admitted by Middleware
func StoreFromContext(ctx context.Context) (*session.Store, bool) {
	store, ok := ctx.Value(storeContextKey).(*session.Store)
	return store, ok
}

// AccessTokenFromContext returns the access token obtained by Middleware
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey).(string)
	return token, ok
}
