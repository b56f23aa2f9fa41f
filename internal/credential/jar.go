package credential

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/campusgate/internal/models"
)

const cookieStoreTimeout = 2 * time.Second

// CookieStore keeps the credential cookies of each browser
type CookieStore interface {
	LoadCredentialCookies(ctx context.Context, browser string) ([]models.CredentialCookie, error)
	SaveCredentialCookie(ctx context.Context, browser string, cookie models.CredentialCookie) error
	DeleteCredentialCookie(ctx context.Context, browser, name, path string) error
}

// StoredJar is an http.CookieJar for one browser backed by a CookieStore.
// Every read goes to the store, so a cookie rotated through one gateway
// instance is what the next instance presents. It serves a single
// Credential Service origin and does not track domains.
type StoredJar struct {
	browser string
	store   CookieStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewStoredJar creates the jar of browser
func NewStoredJar(browser string, store CookieStore, logger *slog.Logger) *StoredJar {
	return &StoredJar{
		browser: browser,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// SetCookies stores, replaces or deletes cookies from a response to u
func (j *StoredJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	ctx, cancel := context.WithTimeout(context.Background(), cookieStoreTimeout)
	defer cancel()

	now := j.now()
	for _, c := range cookies {
		path := c.Path
		if path == "" || path[0] != '/' {
			path = defaultCookiePath(u.Path)
		}

		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}

		var err error
		if c.MaxAge < 0 || (!expires.IsZero() && !expires.After(now)) {
			err = j.store.DeleteCredentialCookie(ctx, j.browser, c.Name, path)
		} else {
			err = j.store.SaveCredentialCookie(ctx, j.browser, models.CredentialCookie{
				Name:    c.Name,
				Value:   c.Value,
				Path:    path,
				Expires: expires,
			})
		}
		if err != nil {
			j.logger.Error("failed to store credential cookie",
				slog.String("browser", j.browser),
				slog.String("cookie", c.Name),
				slog.Any("error", err))
		}
	}
}

// Cookies returns the unexpired cookies whose path matches u
func (j *StoredJar) Cookies(u *url.URL) []*http.Cookie {
	ctx, cancel := context.WithTimeout(context.Background(), cookieStoreTimeout)
	defer cancel()

	stored, err := j.store.LoadCredentialCookies(ctx, j.browser)
	if err != nil {
		j.logger.Error("failed to load credential cookies",
			slog.String("browser", j.browser),
			slog.Any("error", err))
		return nil
	}

	now := j.now()
	requestPath := u.Path
	if requestPath == "" {
		requestPath = "/"
	}

	var out []*http.Cookie
	for _, c := range stored {
		if c.Expired(now) || !pathMatch(requestPath, c.Path) {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// defaultCookiePath is the directory of the request path (RFC 6265 5.1.4)
func defaultCookiePath(requestPath string) string {
	if requestPath == "" || requestPath[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(requestPath, "/")
	if i == 0 {
		return "/"
	}
	return requestPath[:i]
}

func pathMatch(requestPath, cookiePath string) bool {
	if requestPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || requestPath[len(cookiePath)] == '/'
}
