package config

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/umputun/spendgate/app/internal/cookie"
)

// Settings is the resolved gateway configuration passed to every component at construction.
type Settings struct {
	Listen        string
	BackendURL    string
	Timeout       time.Duration
	BaseHeaders   map[string]string
	ClientCookie  string
	BackendCookie string
	SecureCookie  bool
	EncodeSession bool

	WebDir   string
	LoginURL string

	BodySizeLimit    int64
	RequestsPerSec   float64
	MaxConcurrent    int64
	LoginConcurrency int64

	MetricsEnabled  bool
	MetricsUser     string
	MetricsPassword string

	Audit bool
}

// Defaults returns settings used when neither the config file nor options set a value.
func Defaults() Settings {
	return Settings{
		Listen:           ":8080",
		BackendURL:       "http://localhost:9090",
		Timeout:          10 * time.Second,
		BaseHeaders:      map[string]string{"Content-Type": "application/json"},
		ClientCookie:     cookie.ClientName,
		BackendCookie:    cookie.BackendName,
		BodySizeLimit:    1024 * 1024,
		RequestsPerSec:   100,
		MaxConcurrent:    1000,
		LoginConcurrency: 5,
	}
}

// Apply overlays non-empty values of f on top of s. Booleans can only be turned on.
// Headers are merged by canonical name, f wins on the same key.
func (s *Settings) Apply(f File) error {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setStr(&s.Listen, f.Listen)
	setStr(&s.BackendURL, f.Backend.URL)
	setStr(&s.ClientCookie, f.Cookie.Client)
	setStr(&s.BackendCookie, f.Cookie.Backend)
	setStr(&s.WebDir, f.Web.Dir)
	setStr(&s.LoginURL, f.Web.Login)
	setStr(&s.MetricsUser, f.Metrics.User)
	setStr(&s.MetricsPassword, f.Metrics.Password)

	if f.Backend.Timeout != "" {
		d, err := time.ParseDuration(f.Backend.Timeout)
		if err != nil {
			return fmt.Errorf("invalid backend timeout %q: %w", f.Backend.Timeout, err)
		}
		s.Timeout = d
	}

	if len(f.Backend.Headers) > 0 {
		merged := make(map[string]string, len(s.BaseHeaders)+len(f.Backend.Headers))
		for k, v := range s.BaseHeaders {
			merged[http.CanonicalHeaderKey(k)] = v
		}
		for _, k := range slices.Sorted(maps.Keys(f.Backend.Headers)) {
			merged[http.CanonicalHeaderKey(k)] = f.Backend.Headers[k]
		}
		s.BaseHeaders = merged
	}

	if f.Limits.BodySize > 0 {
		s.BodySizeLimit = f.Limits.BodySize
	}
	if f.Limits.RequestsPerSec > 0 {
		s.RequestsPerSec = f.Limits.RequestsPerSec
	}
	if f.Limits.MaxConcurrent > 0 {
		s.MaxConcurrent = f.Limits.MaxConcurrent
	}
	if f.Limits.LoginConcurrency > 0 {
		s.LoginConcurrency = f.Limits.LoginConcurrency
	}

	s.SecureCookie = s.SecureCookie || f.Cookie.Secure
	s.EncodeSession = s.EncodeSession || f.Cookie.Encode
	s.MetricsEnabled = s.MetricsEnabled || f.Metrics.Enabled
	s.Audit = s.Audit || f.Audit
	return nil
}

// Validate checks settings are usable.
func (s Settings) Validate() error {
	if s.Listen == "" {
		return errors.New("listen address is required")
	}

	u, err := url.Parse(s.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid backend url %q: %w", s.BackendURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend url %q must be absolute http(s) url", s.BackendURL)
	}

	if s.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive, got %v", s.Timeout)
	}
	if !cookie.ValidName(s.ClientCookie) {
		return fmt.Errorf("invalid client cookie name %q", s.ClientCookie)
	}
	if !cookie.ValidName(s.BackendCookie) {
		return fmt.Errorf("invalid backend cookie name %q", s.BackendCookie)
	}
	if s.RequestsPerSec < 0 || s.BodySizeLimit < 0 || s.MaxConcurrent < 0 || s.LoginConcurrency < 0 {
		return errors.New("limits can't be negative")
	}
	if (s.MetricsUser == "") != (s.MetricsPassword == "") {
		return errors.New("metrics user and password must be set together")
	}
	return nil
}
