package middleware

import "net/http"

// SecurityHeadersConfig holds security headers configuration
type SecurityHeadersConfig struct {
	Env string
}

const (
	productionCSP = "default-src 'self'; " +
		"script-src 'self'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; " +
		"font-src 'self'; " +
		"connect-src 'self'; " +
		"frame-ancestors 'none'; " +
		"base-uri 'self'; " +
		"form-action 'self'"

	// allows dev servers with hot reload
	developmentCSP = "default-src 'self' http: https: ws:; " +
		"script-src 'self' 'unsafe-inline' 'unsafe-eval' http: https: ws:; " +
		"style-src 'self' 'unsafe-inline' http: https:; " +
		"img-src 'self' data: https: http:; " +
		"font-src 'self' data: http: https:; " +
		"connect-src 'self' http: https: ws: wss:; " +
		"frame-ancestors 'self'; " +
		"base-uri 'self'; " +
		"form-action 'self'"
)

// SecurityHeaders returns a middleware that adds security headers to all
// responses. Responses are never cached, so a view rendered for a session
// cannot be replayed from the browser cache after logout.
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	production := config.Env == "production"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")

			if production {
				h.Set("Content-Security-Policy", productionCSP)
				h.Set("Cross-Origin-Embedder-Policy", "require-corp")
			} else {
				h.Set("Content-Security-Policy", developmentCSP)
				h.Set("Cross-Origin-Embedder-Policy", "credentialless")
			}

			// HSTS only over HTTPS in production
			if production && (r.Header.Get("X-Forwarded-Proto") == "https" || r.TLS != nil) {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			}

			h.Set("Permissions-Policy",
				"accelerometer=(), camera=(), geolocation=(), gyroscope=(), "+
					"magnetometer=(), microphone=(), payment=(), usb=()")
			h.Set("X-DNS-Prefetch-Control", "off")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")

			next.ServeHTTP(w, r)
		})
	}
}
