package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/spendgate/app/session"
)

// resolverFunc adapts a function to IdentityResolver.
type resolverFunc func(ctx context.Context, token string) (Identity, bool)

func (f resolverFunc) Resolve(ctx context.Context, token string) (Identity, bool) { return f(ctx, token) }

// captureHandler records identity seen by the downstream handler.
type captureHandler struct {
	called   bool
	identity *Identity
}

func (h *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	if id, ok := IdentityFromContext(r.Context()); ok {
		h.identity = &id
	}
	w.WriteHeader(http.StatusTeapot)
	_, _ = w.Write([]byte("downstream"))
}

// clientCookieDeletion finds the deletion Set-Cookie for the client cookie name.
func clientCookieDeletion(rec *httptest.ResponseRecorder) bool {
	for _, line := range rec.Header().Values("Set-Cookie") {
		if strings.HasPrefix(line, testNames.Client+"=;") && strings.Contains(line, "Max-Age=0") {
			return true
		}
	}
	return false
}

func TestMiddleware_Identify(t *testing.T) {
	bridge := session.NewBridge(testNames, session.BridgeOpts{})

	t.Run("no cookie, no backend call", func(t *testing.T) {
		var calls atomic.Int32
		m := NewMiddleware(resolverFunc(func(context.Context, string) (Identity, bool) {
			calls.Add(1)
			return Identity{}, false
		}), bridge, "")

		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		rec := httptest.NewRecorder()
		m.Identify(next).ServeHTTP(rec, req)

		assert.True(t, next.called)
		assert.Nil(t, next.identity)
		assert.Equal(t, int32(0), calls.Load())
		assert.Empty(t, rec.Header().Values("Set-Cookie"))
		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.Equal(t, "downstream", rec.Body.String())
	})

	t.Run("valid cookie attaches identity", func(t *testing.T) {
		m := NewMiddleware(resolverFunc(func(_ context.Context, token string) (Identity, bool) {
			assert.Equal(t, "S1", token)
			return Identity{Email: "a@b.com", Username: "ab"}, true
		}), bridge, "")

		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.AddCookie(&http.Cookie{Name: testNames.Client, Value: "S1"})
		rec := httptest.NewRecorder()
		m.Identify(next).ServeHTTP(rec, req)

		require.NotNil(t, next.identity)
		assert.Equal(t, Identity{Email: "a@b.com", Username: "ab"}, *next.identity)
		assert.Empty(t, rec.Header().Values("Set-Cookie"))
	})

	t.Run("dead session scrubbed", func(t *testing.T) {
		m := NewMiddleware(resolverFunc(func(context.Context, string) (Identity, bool) {
			return Identity{}, false
		}), bridge, "")

		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.AddCookie(&http.Cookie{Name: testNames.Client, Value: "S2"})
		rec := httptest.NewRecorder()
		m.Identify(next).ServeHTTP(rec, req)

		assert.True(t, next.called, "request always reaches the handler")
		assert.Nil(t, next.identity)
		assert.True(t, clientCookieDeletion(rec), "%v", rec.Header().Values("Set-Cookie"))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("empty cookie scrubbed without backend call", func(t *testing.T) {
		var calls atomic.Int32
		m := NewMiddleware(resolverFunc(func(context.Context, string) (Identity, bool) {
			calls.Add(1)
			return Identity{}, false
		}), bridge, "")

		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("Cookie", testNames.Client+"=")
		rec := httptest.NewRecorder()
		m.Identify(next).ServeHTTP(rec, req)

		assert.True(t, next.called)
		assert.Equal(t, int32(0), calls.Load())
		assert.True(t, clientCookieDeletion(rec))
	})

	t.Run("undecodable cookie scrubbed", func(t *testing.T) {
		var calls atomic.Int32
		encBridge := session.NewBridge(testNames, session.BridgeOpts{Codec: session.Base64Codec{}})
		m := NewMiddleware(resolverFunc(func(context.Context, string) (Identity, bool) {
			calls.Add(1)
			return Identity{Email: "a@b.com", Username: "ab"}, true
		}), encBridge, "")

		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("Cookie", testNames.Client+"=a+b")
		rec := httptest.NewRecorder()
		m.Identify(next).ServeHTTP(rec, req)

		assert.Nil(t, next.identity)
		assert.Equal(t, int32(0), calls.Load())
		assert.True(t, clientCookieDeletion(rec))
	})

	t.Run("backend cookie name is ignored on inbound", func(t *testing.T) {
		var calls atomic.Int32
		m := NewMiddleware(resolverFunc(func(context.Context, string) (Identity, bool) {
			calls.Add(1)
			return Identity{}, false
		}), bridge, "")

		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.AddCookie(&http.Cookie{Name: testNames.Backend, Value: "S1"})
		rec := httptest.NewRecorder()
		m.Identify(next).ServeHTTP(rec, req)

		assert.Nil(t, next.identity)
		assert.Equal(t, int32(0), calls.Load())
		assert.Empty(t, rec.Header().Values("Set-Cookie"))
	})

	t.Run("malformed segments skipped", func(t *testing.T) {
		m := NewMiddleware(resolverFunc(func(_ context.Context, token string) (Identity, bool) {
			return Identity{Email: "a@b.com", Username: token}, true
		}), bridge, "")

		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.Header.Set("Cookie", "garbage; "+testNames.Client+"=S9; x y=1")
		rec := httptest.NewRecorder()
		m.Identify(next).ServeHTTP(rec, req)

		require.NotNil(t, next.identity)
		assert.Equal(t, "S9", next.identity.Username)
	})

	t.Run("end to end with resolver", func(t *testing.T) {
		r, calls := newTestResolver(t, func(w http.ResponseWriter, r *http.Request) {
			c, err := r.Cookie(testNames.Backend)
			if err != nil || c.Value != "S1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(Identity{Email: "a@b.com", Username: "ab"})
		})
		m := NewMiddleware(r, bridge, "")

		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.AddCookie(&http.Cookie{Name: testNames.Client, Value: "S1"})
		rec := httptest.NewRecorder()
		m.Identify(next).ServeHTTP(rec, req)
		require.NotNil(t, next.identity)
		assert.Equal(t, "ab", next.identity.Username)

		next = &captureHandler{}
		req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		req.AddCookie(&http.Cookie{Name: testNames.Client, Value: "S2"})
		rec = httptest.NewRecorder()
		m.Identify(next).ServeHTTP(rec, req)
		assert.Nil(t, next.identity)
		assert.True(t, clientCookieDeletion(rec))

		assert.Equal(t, int32(2), calls.Load(), "one backend call per request")
	})
}

func TestMiddleware_Require(t *testing.T) {
	bridge := session.NewBridge(testNames, session.BridgeOpts{})
	noResolve := resolverFunc(func(context.Context, string) (Identity, bool) { return Identity{}, false })

	t.Run("identity passes", func(t *testing.T) {
		m := NewMiddleware(noResolve, bridge, "/login")
		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/api/currency", http.NoBody)
		req = req.WithContext(WithIdentity(req.Context(), Identity{Email: "a@b.com", Username: "ab"}))
		rec := httptest.NewRecorder()
		m.Require(next).ServeHTTP(rec, req)
		assert.True(t, next.called)
		assert.Equal(t, http.StatusTeapot, rec.Code)
	})

	t.Run("api call rejected with 401", func(t *testing.T) {
		m := NewMiddleware(noResolve, bridge, "/login")
		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/api/currency", http.NoBody)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		m.Require(next).ServeHTTP(rec, req)
		assert.False(t, next.called)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "unauthorized")
	})

	t.Run("navigation redirected to login", func(t *testing.T) {
		m := NewMiddleware(noResolve, bridge, "/login")
		next := &captureHandler{}
		req := httptest.NewRequest(http.MethodGet, "/dashboard?tab=2", http.NoBody)
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		rec := httptest.NewRecorder()
		m.Require(next).ServeHTTP(rec, req)
		assert.False(t, next.called)
		assert.Equal(t, http.StatusSeeOther, rec.Code)
		assert.Equal(t, "/login?return_to=%2Fdashboard%3Ftab%3D2", rec.Header().Get("Location"))
	})

	t.Run("htmx request not redirected", func(t *testing.T) {
		m := NewMiddleware(noResolve, bridge, "/login")
		req := httptest.NewRequest(http.MethodGet, "/dashboard", http.NoBody)
		req.Header.Set("Accept", "text/html")
		req.Header.Set("HX-Request", "true")
		rec := httptest.NewRecorder()
		m.Require(&captureHandler{}).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("no login url always 401", func(t *testing.T) {
		m := NewMiddleware(noResolve, bridge, "")
		req := httptest.NewRequest(http.MethodGet, "/dashboard", http.NoBody)
		req.Header.Set("Accept", "text/html")
		rec := httptest.NewRecorder()
		m.Require(&captureHandler{}).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
