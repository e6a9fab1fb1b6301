package proxy

import (
	"net/http"
	"net/url"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/spendgate/app/backend"
	"github.com/umputun/spendgate/app/server/auth"
	"github.com/umputun/spendgate/app/session"
)

// backend account endpoints
const (
	pathLogin    = "/user/auth"
	pathRegister = "/user/register"
	pathLogout   = "/user/logout"
	pathActivate = "/user/activate/"
)

// RegisterAccount adds account endpoints to the group mounted at the api prefix.
// sessionLimit wraps endpoints creating sessions, login and registration.
func (p *Proxy) RegisterAccount(g *routegroup.Bundle, sessionLimit func(http.Handler) http.Handler) {
	g.Group().Route(func(open *routegroup.Bundle) {
		open.Use(sessionLimit)
		open.HandleFunc("POST /user/login", p.HandleLogin)
		open.HandleFunc("POST /user/register", p.HandleRegister)
	})
	g.HandleFunc("POST /user/logout", p.HandleLogout)
	g.HandleFunc("POST /user/activate", p.HandleActivate)
	g.HandleFunc("GET "+auth.WhoAmIPath, p.HandleMe)
}

// HandleLogin handles POST /user/login, passes credentials to the backend and sets the client
// session cookie from the backend one.
func (p *Proxy) HandleLogin(w http.ResponseWriter, r *http.Request) {
	p.openSession(w, r, pathLogin, "login failed", "login successful")
}

// HandleRegister handles POST /user/register, same cookie contract as login.
func (p *Proxy) HandleRegister(w http.ResponseWriter, r *http.Request) {
	p.openSession(w, r, pathRegister, "registration failed", "registered")
}

// openSession forwards the body to a backend endpoint issuing a session.
// A 2xx response without the backend session cookie is a server error, not a credentials failure.
func (p *Proxy) openSession(w http.ResponseWriter, r *http.Request, path, failMsg, okMsg string) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}

	resp, err := p.call(w, r, "POST "+path, backend.Request{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadGateway, err, msgUnavailable)
		return
	}
	if !resp.OK() {
		rest.SendErrorJSON(w, r, log.Default(), resp.StatusCode, nil, failMsg)
		return
	}

	c, err := p.bridge.ClientSetCookie(resp.Header)
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, err, session.ErrNoSessionCookie.Error())
		return
	}
	http.SetCookie(w, c)
	writeJSON(w, resp.StatusCode, rest.JSON{"message": okMsg})
}

// HandleLogout handles POST /user/logout. The client cookie is replaced by the one the backend sets,
// or deleted if the backend didn't set any.
func (p *Proxy) HandleLogout(w http.ResponseWriter, r *http.Request) {
	cookies, _ := session.RequestCookies(r)
	token, ok := p.bridge.ClientSession(cookies)
	if !ok {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, nil, "session cookie not set")
		return
	}

	resp, err := p.call(w, r, "POST "+pathLogout, backend.Request{
		Method: http.MethodPost,
		Path:   pathLogout,
		Cookie: p.bridge.BackendCookieHeader(token),
	})
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadGateway, err, msgUnavailable)
		return
	}
	if !resp.OK() {
		rest.SendErrorJSON(w, r, log.Default(), resp.StatusCode, nil, "logout failed")
		return
	}

	if c, err := p.bridge.ClientSetCookie(resp.Header); err == nil {
		http.SetCookie(w, c)
	} else {
		http.SetCookie(w, p.bridge.ClearClientCookie())
	}
	writeJSON(w, resp.StatusCode, rest.JSON{"message": "logged out"})
}

// HandleActivate handles POST /user/activate?token=xxx, confirms registration with the backend.
func (p *Proxy) HandleActivate(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadRequest, nil, "missing activation token")
		return
	}

	path := pathActivate + url.PathEscape(token)
	resp, err := p.call(w, r, "POST "+pathActivate+"{token}", backend.Request{Method: http.MethodPost, Path: path})
	if err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusBadGateway, err, msgUnavailable)
		return
	}
	if !resp.OK() {
		rest.SendErrorJSON(w, r, log.Default(), resp.StatusCode, nil, "activation failed")
		return
	}
	writeJSON(w, resp.StatusCode, rest.JSON{"message": "activation successful"})
}

// HandleMe handles GET /user/me, returns identity attached to the request, no backend call.
func (p *Proxy) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusUnauthorized, nil, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, id)
}
