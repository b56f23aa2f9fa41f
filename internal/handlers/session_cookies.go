package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/BradenHooton/campusgate/internal/session"
	"github.com/google/uuid"
)

// Cookie and header names identifying one portal tab
const (
	BrowserCookieName = "portal_browser"
	TabCookieName     = "portal_tab"
	CSRFCookieName    = "portal_csrf"
	TabHeaderName     = "X-Portal-Tab"
	CSRFHeaderName    = "X-CSRF-Token"
)

const browserCookieMaxAge = 400 * 24 * time.Hour

// ErrNoSessionCookies is returned when a request carries no browser or tab id
var ErrNoSessionCookies = errors.New("request carries no session cookies")

// SessionCookies maps requests to session scopes. The browser id lives in
// a persistent cookie shared by all tabs. The tab id comes from the
// X-Portal-Tab header, else from the portal_tab session cookie.
//
// Browsers share session cookies between tabs, so the cookie alone cannot
// tell two tabs apart. Every public view hands out a tab id (PageTab); the
// page script keeps the first one it receives in sessionStorage and sends
// it as X-Portal-Tab. Clients that never send the header get one pending
// login per browser rather than per tab.
type SessionCookies struct {
	Secure bool
}

// Read returns the scope named by r without issuing anything
func (c SessionCookies) Read(r *http.Request) (session.Scope, error) {
	browser := cookieID(r, BrowserCookieName)
	tab := tabID(r)
	if browser == "" || tab == "" {
		return session.Scope{}, ErrNoSessionCookies
	}
	return session.Scope{Browser: browser, Tab: tab}, nil
}

// Ensure returns the scope for r, issuing any missing ids (and the CSRF
// cookie) on w.
func (c SessionCookies) Ensure(w http.ResponseWriter, r *http.Request) session.Scope {
	browser := cookieID(r, BrowserCookieName)
	if browser == "" {
		browser = uuid.NewString()
		c.set(w, BrowserCookieName, browser, browserCookieMaxAge, true)
	}

	tab := tabID(r)
	if tab == "" {
		tab = uuid.NewString()
		c.set(w, TabCookieName, tab, 0, true)
	}

	if _, err := r.Cookie(CSRFCookieName); err != nil {
		// readable by the page script, which echoes it in X-CSRF-Token
		c.set(w, CSRFCookieName, uuid.NewString(), browserCookieMaxAge, false)
	}

	return session.Scope{Browser: browser, Tab: tab}
}

// PageTab is the tab id a page should adopt: the one it already sends, or a
// fresh id for a page load that has none yet
func (c SessionCookies) PageTab(r *http.Request) string {
	if header := r.Header.Get(TabHeaderName); validID(header) {
		return header
	}
	return uuid.NewString()
}

func (c SessionCookies) set(w http.ResponseWriter, name, value string, maxAge time.Duration, httpOnly bool) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: httpOnly,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		cookie.MaxAge = int(maxAge.Seconds())
		cookie.Expires = time.Now().Add(maxAge)
	}
	http.SetCookie(w, cookie)
}

func tabID(r *http.Request) string {
	if header := r.Header.Get(TabHeaderName); validID(header) {
		return header
	}
	return cookieID(r, TabCookieName)
}

// cookieID returns the cookie value when it is a well-formed id
func cookieID(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil || !validID(cookie.Value) {
		return ""
	}
	return cookie.Value
}

func validID(value string) bool {
	_, err := uuid.Parse(value)
	return value != "" && err == nil
}
