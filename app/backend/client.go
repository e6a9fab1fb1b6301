// Package backend provides the outbound HTTP client used by the gateway to call the backend API.
// Every call is a single attempt: no retries, bounded by a timeout.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-pkgz/requester"
	"github.com/go-pkgz/requester/middleware"
)

// defaults for client configuration
const (
	defaultTimeout     = 10 * time.Second
	defaultMaxBodySize = 10 * 1024 * 1024
)

// Client calls the backend API.
type Client struct {
	baseURL     string
	timeout     time.Duration
	maxBodySize int64
	requester   *requester.Requester
}

// clientConfig holds configuration options during client construction.
type clientConfig struct {
	timeout     time.Duration
	maxBodySize int64
	headers     map[string]string
	httpClient  *http.Client
}

// Option is a functional option for configuring the client.
type Option func(*clientConfig)

// WithTimeout sets the timeout for a single backend call.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *clientConfig) {
		cfg.timeout = timeout
	}
}

// WithHeaders sets base headers added to every backend call.
func WithHeaders(headers map[string]string) Option {
	return func(cfg *clientConfig) {
		cfg.headers = headers
	}
}

// WithMaxBodySize limits the size of backend response bodies read into memory.
func WithMaxBodySize(size int64) Option {
	return func(cfg *clientConfig) {
		cfg.maxBodySize = size
	}
}

// WithHTTPClient sets a custom http.Client.
// Note: the client's own Timeout is kept, WithTimeout still bounds each call via context.
// Redirects are never followed, CheckRedirect of the given client is replaced.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *clientConfig) {
		cfg.httpClient = client
	}
}

// Request describes a single outbound backend call.
type Request struct {
	Method string
	Path   string      // backend-relative path, e.g. /user/me
	Cookie string      // backend session cookie header value, empty for anonymous calls
	Header http.Header // extra per-call headers
	Body   []byte
}

// Response is a fully read backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the backend responded with 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// New creates a new backend client with the given base URL and options.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}

	// normalize base URL
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := &clientConfig{
		timeout:     defaultTimeout,
		maxBodySize: defaultMaxBodySize,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// base headers are applied in a stable order
	keys := make([]string, 0, len(cfg.headers))
	for k := range cfg.headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	middlewares := make([]middleware.RoundTripperHandler, 0, len(keys))
	for _, k := range keys {
		middlewares = append(middlewares, middleware.Header(k, cfg.headers[k]))
	}

	httpClient := http.Client{Timeout: cfg.timeout}
	if cfg.httpClient != nil {
		httpClient = *cfg.httpClient
	}
	httpClient.CheckRedirect = noRedirect

	return &Client{
		baseURL:     baseURL,
		timeout:     cfg.timeout,
		maxBodySize: cfg.maxBodySize,
		requester:   requester.New(httpClient, middlewares...),
	}, nil
}

// BaseURL returns the normalized backend base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Do performs a single backend call and reads the whole response.
// Any response status is returned as a Response; error means the backend was not reached
// or the response could not be read.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	if !strings.HasPrefix(r.Path, "/") {
		return nil, fmt.Errorf("invalid backend path %q", r.Path)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.baseURL+r.Path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vv := range r.Header {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if r.Cookie != "" {
		req.Header.Set("Cookie", r.Cookie)
	}

	resp, err := c.requester.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > c.maxBodySize {
		return nil, fmt.Errorf("response body exceeds %d bytes", c.maxBodySize)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// noRedirect returns 3xx responses as is, each Do is exactly one backend call.
func noRedirect(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
