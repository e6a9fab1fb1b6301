// Package auth attaches an authenticated identity to every inbound request.
//
// The identity is resolved from the client session cookie by asking the backend "who am i"
// endpoint on each request. There is no local session store and no caching: the token is opaque
// to the gateway and is validated by the backend every time.
//
// Resolution fails open: any backend error, timeout, non-2xx status or malformed body means
// the request is anonymous, and a client cookie that failed to resolve is deleted on the same
// response.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/spendgate/app/backend"
	"github.com/umputun/spendgate/app/server/metrics"
	"github.com/umputun/spendgate/app/session"
)

// WhoAmIPath is the backend endpoint returning the identity of the session owner.
const WhoAmIPath = "/user/me"

// Identity is the public part of the authenticated user.
type Identity struct {
	ID       int64  `json:"id,omitempty"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

type identityKey struct{}

// IdentityFromContext returns the identity attached to the request context.
// The boolean is false for anonymous requests.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// Resolver turns a session token into an identity by calling the backend.
type Resolver struct {
	client *backend.Client
	bridge *session.Bridge
}

// NewResolver makes a Resolver using client for backend calls and bridge for cookie translation.
func NewResolver(client *backend.Client, bridge *session.Bridge) *Resolver {
	return &Resolver{client: client, bridge: bridge}
}

// Resolve returns the identity owning the token. Makes exactly one backend call and never retries.
// Returns false on any failure, the caller treats it as anonymous.
func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, bool) {
	st := time.Now()
	resp, err := r.client.Do(ctx, backend.Request{
		Method: http.MethodGet,
		Path:   WhoAmIPath,
		Cookie: r.bridge.BackendCookieHeader(token),
	})
	metrics.BackendDuration.WithLabelValues(WhoAmIPath).Observe(time.Since(st).Seconds())
	if err != nil {
		log.Printf("[DEBUG] identity check for %s failed: %v", session.MaskToken(token), err)
		metrics.IdentityResolutions.WithLabelValues(metrics.ResultFailed).Inc()
		return Identity{}, false
	}

	if !resp.OK() {
		log.Printf("[DEBUG] identity check for %s rejected, status %d", session.MaskToken(token), resp.StatusCode)
		metrics.IdentityResolutions.WithLabelValues(metrics.ResultAnonymous).Inc()
		return Identity{}, false
	}

	var id Identity
	if err := json.Unmarshal(resp.Body, &id); err != nil {
		log.Printf("[WARN] can't decode identity response: %v", err)
		metrics.IdentityResolutions.WithLabelValues(metrics.ResultFailed).Inc()
		return Identity{}, false
	}
	if id.Email == "" || id.Username == "" {
		log.Printf("[WARN] incomplete identity response, email or username missing")
		metrics.IdentityResolutions.WithLabelValues(metrics.ResultFailed).Inc()
		return Identity{}, false
	}

	metrics.IdentityResolutions.WithLabelValues(metrics.ResultAuthenticated).Inc()
	return id, true
}
