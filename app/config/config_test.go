package config

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/go-pkgz/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		content := `
listen: ":9000"
backend:
  url: http://budget:8081
  timeout: 3s
  headers:
    X-Client: spendgate
cookie:
  client: sess
  backend: BSID
  encode: true
limits:
  rps: 20
audit: true
`
		f := testutils.WriteTestFile(t, content)
		cfg, err := Load(f, nil)
		require.NoError(t, err)
		assert.Equal(t, ":9000", cfg.Listen)
		assert.Equal(t, "http://budget:8081", cfg.Backend.URL)
		assert.Equal(t, "3s", cfg.Backend.Timeout)
		assert.Equal(t, map[string]string{"X-Client": "spendgate"}, cfg.Backend.Headers)
		assert.Equal(t, "sess", cfg.Cookie.Client)
		assert.Equal(t, "BSID", cfg.Cookie.Backend)
		assert.True(t, cfg.Cookie.Encode)
		assert.InDelta(t, 20.0, cfg.Limits.RequestsPerSec, 0.001)
		assert.True(t, cfg.Audit)
	})

	t.Run("toml", func(t *testing.T) {
		content := `
listen = ":9001"
[backend]
url = "https://budget.example.com"
timeout = "500ms"
[cookie]
secure = true
[metrics]
enabled = true
user = "prom"
password = "secret"
`
		f := testutils.WriteTestFile(t, content)
		tomlFile := f + ".toml"
		require.NoError(t, os.Rename(f, tomlFile))

		cfg, err := Load(tomlFile, nil)
		require.NoError(t, err)
		assert.Equal(t, ":9001", cfg.Listen)
		assert.Equal(t, "https://budget.example.com", cfg.Backend.URL)
		assert.Equal(t, "500ms", cfg.Backend.Timeout)
		assert.True(t, cfg.Cookie.Secure)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, "prom", cfg.Metrics.User)
	})

	t.Run("empty file", func(t *testing.T) {
		f := testutils.WriteTestFile(t, "")
		cfg, err := Load(f, nil)
		require.NoError(t, err)
		assert.Equal(t, File{}, *cfg)
	})

	t.Run("file not found", func(t *testing.T) {
		_, err := Load("/nonexistent/file.yml", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		f := testutils.WriteTestFile(t, "invalid: yaml: content:")
		_, err := Load(f, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})

	t.Run("validator gets json and error propagates", func(t *testing.T) {
		f := testutils.WriteTestFile(t, "listen: \":1\"\n")
		var seen []byte
		_, err := Load(f, func(data []byte) error {
			seen = data
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)
		assert.JSONEq(t, `{"listen":":1"}`, string(seen))
	})
}

func TestSchemaValidation(t *testing.T) {
	validator, err := NewValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{name: "full valid", content: "listen: \":8080\"\nbackend:\n  url: http://b:1\n  timeout: 1m30s\nlimits:\n  body_size: 1024\n"},
		{name: "empty", content: ""},
		{name: "unknown key", content: "lisen: \":8080\"\n", wantErr: true},
		{name: "unknown nested key", content: "cookie:\n  name: x\n", wantErr: true},
		{name: "wrong type", content: "audit: yes-please\n", wantErr: true},
		{name: "bad url scheme", content: "backend:\n  url: ftp://b\n", wantErr: true},
		{name: "bad timeout", content: "backend:\n  timeout: soon\n", wantErr: true},
		{name: "header not string", content: "backend:\n  headers:\n    X-A:\n      - 1\n", wantErr: true},
		{name: "negative body size", content: "limits:\n  body_size: -1\n", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := testutils.WriteTestFile(t, tc.content)
			_, err := Load(f, validator)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "config validation failed")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "object", schema["type"])
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, k := range []string{"listen", "backend", "cookie", "web", "limits", "metrics", "audit"} {
		assert.Contains(t, props, k)
	}
	assert.NotContains(t, schema, "required", "every field is optional")
}

func TestSettings_Apply(t *testing.T) {
	t.Run("empty file keeps defaults", func(t *testing.T) {
		s := Defaults()
		require.NoError(t, s.Apply(File{}))
		assert.Equal(t, Defaults(), s)
	})

	t.Run("values overlay", func(t *testing.T) {
		s := Defaults()
		err := s.Apply(File{
			Listen:  ":9000",
			Backend: BackendFile{URL: "http://b:1", Timeout: "2s", Headers: map[string]string{"X-A": "1"}},
			Cookie:  CookieFile{Client: "c", Backend: "b", Secure: true},
			Web:     WebFile{Dir: "/srv/www", Login: "/login"},
			Limits:  LimitsFile{BodySize: 10, RequestsPerSec: 5, MaxConcurrent: 7, LoginConcurrency: 2},
			Metrics: MetricsFile{Enabled: true, User: "u", Password: "p"},
			Audit:   true,
		})
		require.NoError(t, err)
		assert.Equal(t, ":9000", s.Listen)
		assert.Equal(t, "http://b:1", s.BackendURL)
		assert.Equal(t, 2*time.Second, s.Timeout)
		assert.Equal(t, map[string]string{"Content-Type": "application/json", "X-A": "1"}, s.BaseHeaders)
		assert.Equal(t, "c", s.ClientCookie)
		assert.Equal(t, "b", s.BackendCookie)
		assert.True(t, s.SecureCookie)
		assert.False(t, s.EncodeSession)
		assert.Equal(t, "/srv/www", s.WebDir)
		assert.Equal(t, "/login", s.LoginURL)
		assert.Equal(t, int64(10), s.BodySizeLimit)
		assert.InDelta(t, 5.0, s.RequestsPerSec, 0.001)
		assert.Equal(t, int64(7), s.MaxConcurrent)
		assert.Equal(t, int64(2), s.LoginConcurrency)
		assert.True(t, s.MetricsEnabled)
		assert.True(t, s.Audit)
	})

	t.Run("layers", func(t *testing.T) {
		s := Defaults()
		require.NoError(t, s.Apply(File{Backend: BackendFile{URL: "http://file:1"}, Cookie: CookieFile{Secure: true}}))
		require.NoError(t, s.Apply(File{Backend: BackendFile{URL: "http://cli:2"}}))
		assert.Equal(t, "http://cli:2", s.BackendURL, "later layer wins")
		assert.True(t, s.SecureCookie, "booleans can't be turned off by later layer")
	})

	t.Run("header override", func(t *testing.T) {
		s := Defaults()
		require.NoError(t, s.Apply(File{Backend: BackendFile{Headers: map[string]string{"Content-Type": "text/plain"}}}))
		assert.Equal(t, map[string]string{"Content-Type": "text/plain"}, s.BaseHeaders)
		assert.Equal(t, map[string]string{"Content-Type": "application/json"}, Defaults().BaseHeaders)
	})

	t.Run("header names canonical", func(t *testing.T) {
		s := Defaults()
		require.NoError(t, s.Apply(File{Backend: BackendFile{Headers: map[string]string{"content-type": "text/plain", "x-client": "gw"}}}))
		assert.Equal(t, map[string]string{"Content-Type": "text/plain", "X-Client": "gw"}, s.BaseHeaders)
	})

	t.Run("colliding header names resolved in sorted order", func(t *testing.T) {
		for range 10 {
			s := Defaults()
			require.NoError(t, s.Apply(File{Backend: BackendFile{Headers: map[string]string{"content-type": "a", "Content-Type": "b"}}}))
			assert.Equal(t, map[string]string{"Content-Type": "a"}, s.BaseHeaders)
		}
	})

	t.Run("bad timeout", func(t *testing.T) {
		s := Defaults()
		err := s.Apply(File{Backend: BackendFile{Timeout: "soon"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid backend timeout")
	})
}

func TestSettings_Validate(t *testing.T) {
	require.NoError(t, Defaults().Validate())

	tests := []struct {
		name   string
		modify func(s *Settings)
		errMsg string
	}{
		{"no listen", func(s *Settings) { s.Listen = "" }, "listen address is required"},
		{"relative url", func(s *Settings) { s.BackendURL = "/api" }, "must be absolute"},
		{"ftp url", func(s *Settings) { s.BackendURL = "ftp://host" }, "must be absolute"},
		{"broken url", func(s *Settings) { s.BackendURL = "http://[::1" }, "invalid backend url"},
		{"zero timeout", func(s *Settings) { s.Timeout = 0 }, "timeout must be positive"},
		{"bad client cookie", func(s *Settings) { s.ClientCookie = "a b" }, "invalid client cookie name"},
		{"empty backend cookie", func(s *Settings) { s.BackendCookie = "" }, "invalid backend cookie name"},
		{"negative limit", func(s *Settings) { s.MaxConcurrent = -1 }, "limits can't be negative"},
		{"metrics user only", func(s *Settings) { s.MetricsUser = "u" }, "must be set together"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := Defaults()
			tc.modify(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}

	t.Run("same names allowed", func(t *testing.T) {
		s := Defaults()
		s.ClientCookie = s.BackendCookie
		assert.NoError(t, s.Validate())
	})
}
