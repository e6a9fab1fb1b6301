// Package proxy forwards allow-listed gateway API calls to the backend with the translated
// session cookie, and implements the account endpoints which create and destroy sessions.
// Every handler makes at most one backend call and never retries.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"
	"github.com/google/uuid"

	"github.com/umputun/spendgate/app/backend"
	"github.com/umputun/spendgate/app/server/metrics"
	"github.com/umputun/spendgate/app/session"
)

const (
	defaultPrefix      = "/api"
	defaultContentType = "application/json"
	msgUnavailable     = "backend unavailable"
)

// Route is an allow-listed backend resource.
type Route struct {
	Method  string
	Pattern string // gateway pattern under the api prefix, the backend path is the same
	Failure string // short message returned on non-2xx backend response
}

// String returns route as mux pattern, e.g. "GET /currency".
func (r Route) String() string { return r.Method + " " + r.Pattern }

// Routes lists backend resources reachable through the gateway.
var Routes = []Route{
	{Method: http.MethodGet, Pattern: "/currency", Failure: "failed to get currencies"},
	{Method: http.MethodPost, Pattern: "/currency", Failure: "failed to add currency"},
	{Method: http.MethodGet, Pattern: "/recurrence", Failure: "failed to get recurrences"},
	{Method: http.MethodPost, Pattern: "/expense", Failure: "failed to add expense"},
	{Method: http.MethodGet, Pattern: "/expense/{userId}", Failure: "failed to get expenses"},
	{Method: http.MethodGet, Pattern: "/expense/predefined", Failure: "failed to get predefined expenses"},
	{Method: http.MethodPost, Pattern: "/expense/predefined", Failure: "failed to add predefined expense"},
	{Method: http.MethodPost, Pattern: "/transaction", Failure: "failed to add transaction"},
	{Method: http.MethodDelete, Pattern: "/transaction/{id}", Failure: "failed to delete transaction"},
}

// Proxy forwards gateway requests to the backend.
type Proxy struct {
	client      *backend.Client
	bridge      *session.Bridge
	prefix      string
	contentType string
}

// Opts defines optional parameters of the Proxy.
type Opts struct {
	Prefix      string // gateway path prefix stripped before forwarding, default /api
	ContentType string // content type of forwarded success responses, default application/json
}

// New makes a Proxy.
func New(client *backend.Client, bridge *session.Bridge, opts Opts) *Proxy {
	res := &Proxy{client: client, bridge: bridge, prefix: opts.Prefix, contentType: opts.ContentType}
	if res.prefix == "" {
		res.prefix = defaultPrefix
	}
	if res.contentType == "" {
		res.contentType = defaultContentType
	}
	return res
}

// RegisterResources adds allow-listed routes to the group mounted at the api prefix.
func (p *Proxy) RegisterResources(g *routegroup.Bundle) {
	for _, route := range Routes {
		g.HandleFunc(route.String(), p.Forward(route))
	}
}

// Forward returns a handler passing the request to the same backend path with the session cookie
// translated for the backend. Success responses are returned verbatim, failures as short json errors.
func (p *Proxy) Forward(route Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}

		req := backend.Request{Method: r.Method, Path: p.backendPath(r), Body: body}
		cookies, _ := session.RequestCookies(r)
		if token, ok := p.bridge.ClientSession(cookies); ok {
			req.Cookie = p.bridge.BackendCookieHeader(token)
		}

		resp, err := p.call(w, r, route.String(), req)
		if err != nil {
			rest.SendErrorJSON(w, r, log.Default(), http.StatusBadGateway, err, msgUnavailable)
			return
		}
		if !resp.OK() {
			rest.SendErrorJSON(w, r, log.Default(), resp.StatusCode, nil, route.Failure)
			return
		}

		w.Header().Set("Content-Type", p.contentType)
		w.WriteHeader(resp.StatusCode)
		if _, err := w.Write(resp.Body); err != nil {
			log.Printf("[WARN] failed to write response for %s: %v", route, err)
		}
	}
}

// readBody reads the inbound request body, replying 413 when it is over the size limit.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}
	if maxErr := new(http.MaxBytesError); errors.As(err, &maxErr) {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusRequestEntityTooLarge, err, "request body too large")
		return nil, false
	}
	rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, err, "can't read request body")
	return nil, false
}

// call makes the backend call with request id attached and records metrics under label.
func (p *Proxy) call(w http.ResponseWriter, r *http.Request, label string, req backend.Request) (*backend.Response, error) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("X-Request-ID", requestID(w, r))

	st := time.Now()
	resp, err := p.client.Do(r.Context(), req)
	metrics.BackendDuration.WithLabelValues(label).Observe(time.Since(st).Seconds())
	if err != nil {
		metrics.ProxyRequests.WithLabelValues(label, strconv.Itoa(http.StatusBadGateway)).Inc()
		return nil, fmt.Errorf("backend call %s: %w", label, err)
	}
	metrics.ProxyRequests.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// backendPath strips the gateway prefix, keeping escaping and query as is.
func (p *Proxy) backendPath(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.EscapedPath(), p.prefix)
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	return path
}

// requestID returns inbound request id, the one set by trace middleware, or a new one.
func requestID(w http.ResponseWriter, r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	if id := w.Header().Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// writeJSON sends v with status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	rest.RenderJSON(w, v)
}
