package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/campusgate/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	// ClientIP keys the limit; nil keys by the connecting peer
	ClientIP *pkghttp.ClientIPResolver
}

// DefaultLoginRateLimit returns the per-IP limit for the login endpoints.
// It sits in front of the per-identifier lockout and only caps raw volume.
func DefaultLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultLoginRateLimit().RequestsPerMinute
	}
	resolver := config.ClientIP

	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return resolver.ClientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded", 60)
		}),
	)
}
