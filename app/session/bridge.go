package session

import (
	"errors"
	"net/http"
)

// ErrNoSessionCookie is returned when a backend response carries no usable session cookie.
var ErrNoSessionCookie = errors.New("no session cookie in backend response")

// Names holds the client-facing and backend-facing session cookie names.
// The two are independent and may differ.
type Names struct {
	Client  string
	Backend string
}

// Bridge moves session tokens between the client cookie and the backend cookie.
type Bridge struct {
	names  Names
	codec  Codec
	secure bool
}

// BridgeOpts defines optional parameters of the Bridge.
type BridgeOpts struct {
	Codec  Codec // defaults to PlainCodec
	Secure bool  // set Secure flag on client cookies
}

// NewBridge makes a Bridge for the given cookie names.
func NewBridge(names Names, opts BridgeOpts) *Bridge {
	codec := opts.Codec
	if codec == nil {
		codec = PlainCodec{}
	}
	return &Bridge{names: names, codec: codec, secure: opts.Secure}
}

// Names returns cookie names used by the bridge.
func (b *Bridge) Names() Names { return b.names }

// HasClientCookie reports whether the client session cookie is present, regardless of its value.
func (b *Bridge) HasClientCookie(cookies map[string]string) bool {
	_, ok := cookies[b.names.Client]
	return ok
}

// ClientSession extracts the session token from client cookies.
// Returns false if the cookie is absent, empty or can't be decoded.
func (b *Bridge) ClientSession(cookies map[string]string) (string, bool) {
	val, ok := cookies[b.names.Client]
	if !ok || val == "" {
		return "", false
	}
	raw, err := b.codec.Decode(val)
	if err != nil || len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

// BackendCookieHeader formats the Cookie header value for an outbound backend call.
func (b *Bridge) BackendCookieHeader(token string) string {
	return b.names.Backend + "=" + token
}

// ClientSetCookie translates the backend session cookie from response headers into the client cookie.
// Returns ErrNoSessionCookie if the backend didn't set its session cookie or set it with an empty value.
func (b *Bridge) ClientSetCookie(backendHeaders http.Header) (*http.Cookie, error) {
	for _, line := range backendHeaders.Values("Set-Cookie") {
		c, err := http.ParseSetCookie(line)
		if err != nil || c.Name != b.names.Backend {
			continue
		}
		if c.Value == "" {
			return nil, ErrNoSessionCookie
		}
		return &http.Cookie{
			Name:     b.names.Client,
			Value:    b.codec.Encode([]byte(c.Value)),
			Path:     "/",
			MaxAge:   c.MaxAge,
			Expires:  c.Expires,
			HttpOnly: true,
			Secure:   b.secure,
			SameSite: http.SameSiteLaxMode,
		}, nil
	}
	return nil, ErrNoSessionCookie
}

// ClearClientCookie returns a cookie deleting the client session cookie.
func (b *Bridge) ClearClientCookie() *http.Cookie {
	return &http.Cookie{
		Name:     b.names.Client,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
