package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	pkghttp "github.com/BradenHooton/campusgate/pkg/http"
)

// CSRFConfig names the double-submit cookie and the header that must echo it
type CSRFConfig struct {
	CookieName string
	HeaderName string
}

// CSRFProtection validates the double-submit token on state-changing
// requests: the header value must equal the cookie value.
func CSRFProtection(config CSRFConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isStateChangingMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			headerToken := r.Header.Get(config.HeaderName)
			cookie, err := r.Cookie(config.CookieName)
			if headerToken == "" || err != nil || cookie.Value == "" {
				logger.Warn("CSRF token missing in request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				pkghttp.WriteForbidden(w, "CSRF token missing")
				return
			}

			if subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookie.Value)) != 1 {
				logger.Warn("CSRF token validation failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path))
				pkghttp.WriteForbidden(w, "CSRF token invalid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isStateChangingMethod checks if the HTTP method modifies state
func isStateChangingMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}
