package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"

	"github.com/umputun/spendgate/app/server/metrics"
	"github.com/umputun/spendgate/app/session"
)

// IdentityResolver resolves session tokens to identities.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (Identity, bool)
}

// Middleware attaches identities to requests and guards protected routes.
type Middleware struct {
	resolver IdentityResolver
	bridge   *session.Bridge
	loginURL string
}

// NewMiddleware makes a Middleware. loginURL is where html navigations without identity are sent,
// empty loginURL means 401 for every request.
func NewMiddleware(resolver IdentityResolver, bridge *session.Bridge, loginURL string) *Middleware {
	return &Middleware{resolver: resolver, bridge: bridge, loginURL: loginURL}
}

// Identify resolves the client session cookie once per request and attaches the identity to the context.
// A cookie that doesn't resolve to an identity is deleted on the response. The request always
// reaches next, anonymous or not.
func (m *Middleware) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies, skipped := session.RequestCookies(r)
		if skipped > 0 {
			metrics.MalformedCookieSegments.Add(float64(skipped))
			log.Printf("[DEBUG] skipped %d malformed cookie segments", skipped)
		}

		if !m.bridge.HasClientCookie(cookies) {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := m.bridge.ClientSession(cookies)
		if ok {
			if id, found := m.resolver.Resolve(r.Context(), token); found {
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}
		}

		// stale or malformed session, scrub before the handler writes anything
		http.SetCookie(w, m.bridge.ClearClientCookie())
		metrics.CookieScrubs.Inc()
		next.ServeHTTP(w, r)
	})
}

// Require rejects requests without identity. Must run after Identify.
// For html navigations redirects to login page, for everything else returns 401.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}

		if m.loginURL != "" && isNavigation(r) {
			returnTo := r.URL.Path
			if r.URL.RawQuery != "" {
				returnTo += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, m.loginURL+"?return_to="+url.QueryEscape(returnTo), http.StatusSeeOther)
			return
		}
		rest.SendErrorJSON(w, r, log.Default(), http.StatusUnauthorized, nil, "unauthorized")
	})
}

// isNavigation detects browser page navigations, as opposed to api and htmx calls.
func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet || r.Header.Get("HX-Request") == "true" {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
