// Package config loads the optional gateway config file and merges it with command line options
// into Settings. The file is YAML or TOML, chosen by extension, and is validated against a json
// schema generated from File.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// File represents the gateway config file. Every field is optional, empty values keep the defaults.
type File struct {
	Listen  string      `json:"listen,omitempty" jsonschema:"description=listen address"`
	Backend BackendFile `json:"backend,omitempty"`
	Cookie  CookieFile  `json:"cookie,omitempty"`
	Web     WebFile     `json:"web,omitempty"`
	Limits  LimitsFile  `json:"limits,omitempty"`
	Metrics MetricsFile `json:"metrics,omitempty"`
	Audit   bool        `json:"audit,omitempty" jsonschema:"description=log one audit entry per api call"`
}

// BackendFile holds backend connection parameters.
type BackendFile struct {
	URL     string            `json:"url,omitempty" jsonschema:"description=backend base url,pattern=^https?://"`
	Timeout string            `json:"timeout,omitempty" jsonschema:"description=single backend call timeout,pattern=^([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))+$"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=base headers sent with every backend call"`
}

// CookieFile holds session cookie parameters.
type CookieFile struct {
	Client  string `json:"client,omitempty" jsonschema:"description=client session cookie name"`
	Backend string `json:"backend,omitempty" jsonschema:"description=backend session cookie name"`
	Secure  bool   `json:"secure,omitempty" jsonschema:"description=set Secure flag on the client cookie"`
	Encode  bool   `json:"encode,omitempty" jsonschema:"description=base64url encode session token in the client cookie"`
}

// WebFile holds front-end parameters.
type WebFile struct {
	Dir   string `json:"dir,omitempty" jsonschema:"description=static front-end directory"`
	Login string `json:"login,omitempty" jsonschema:"description=login page for unauthenticated navigations"`
}

// LimitsFile holds request limits.
type LimitsFile struct {
	BodySize         int64   `json:"body_size,omitempty" jsonschema:"description=max request body size in bytes,minimum=1"`
	RequestsPerSec   float64 `json:"rps,omitempty" jsonschema:"description=max requests per second per client"`
	MaxConcurrent    int64   `json:"max_concurrent,omitempty" jsonschema:"description=max concurrent requests,minimum=1"`
	LoginConcurrency int64   `json:"login_concurrency,omitempty" jsonschema:"description=max concurrent login and register requests,minimum=1"`
}

// MetricsFile holds metrics endpoint parameters.
type MetricsFile struct {
	Enabled  bool   `json:"enabled,omitempty" jsonschema:"description=expose prometheus metrics"`
	User     string `json:"user,omitempty" jsonschema:"description=basic auth user for metrics"`
	Password string `json:"password,omitempty" jsonschema:"description=basic auth password for metrics"`
}

// Validator validates config data, json-encoded, against a schema.
type Validator func(data []byte) error

// Load reads and parses the config file. The format is picked by extension: .toml for TOML,
// anything else is YAML. If validator is provided, the config is validated before decoding.
func Load(path string, validator Validator) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from CLI flag, controlled by admin
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	doc, err := decode(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// normalize to json, both formats are validated and decoded the same way
	jdata, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if validator != nil {
		if err := validator(jdata); err != nil {
			return nil, err
		}
	}

	var f File
	if err := json.Unmarshal(jdata, &f); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	return &f, nil
}

// decode parses data in the format given by ext into a generic document.
func decode(ext string, data []byte) (map[string]any, error) {
	doc := map[string]any{}
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("yaml: %w", err)
		}
	}
	if doc == nil { // empty yaml document
		doc = map[string]any{}
	}
	return doc, nil
}

// Schema returns json schema of the config file.
func Schema() ([]byte, error) {
	r := &invopop.Reflector{Anonymous: true, DoNotReference: true}
	data, err := json.MarshalIndent(r.Reflect(&File{}), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// NewValidator compiles the config schema and returns a Validator checking data against it.
func NewValidator() (Validator, error) {
	schema, err := Schema()
	if err != nil {
		return nil, err
	}
	compiled, err := jsonschema.CompileString("spendgate-config.json", string(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}

	return func(data []byte) error {
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("invalid config json: %w", err)
		}
		if err := compiled.Validate(doc); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
		return nil
	}, nil
}
