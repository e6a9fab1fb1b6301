package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/umputun/spendgate/app/backend"
	"github.com/umputun/spendgate/app/config"
	"github.com/umputun/spendgate/app/server"
	"github.com/umputun/spendgate/app/server/audit"
	"github.com/umputun/spendgate/app/server/auth"
	"github.com/umputun/spendgate/app/server/proxy"
	"github.com/umputun/spendgate/app/session"
)

type options struct {
	Listen string `short:"l" long:"listen" env:"LISTEN" description:"listen address (default :8080)"`
	Config string `short:"c" long:"config" env:"CONFIG" description:"config file, yaml or toml"`
	Schema bool   `long:"schema" description:"print json schema of the config file and exit"`

	Backend struct {
		URL     string            `long:"url" env:"URL" description:"backend base url (default http://localhost:9090)"`
		Timeout time.Duration     `long:"timeout" env:"TIMEOUT" description:"single backend call timeout (default 10s)"`
		Headers map[string]string `long:"header" env:"HEADER" env-delim:"," description:"base header for backend calls, key:value"`
	} `group:"backend" namespace:"backend" env-namespace:"BACKEND"`

	Cookie struct {
		Client  string `long:"client" env:"CLIENT" description:"client session cookie name (default spendgate-session)"`
		Backend string `long:"backend" env:"BACKEND" description:"backend session cookie name (default JSESSIONID)"`
		Secure  bool   `long:"secure" env:"SECURE" description:"set Secure flag on the client cookie"`
		Encode  bool   `long:"encode" env:"ENCODE" description:"base64url encode session token in the client cookie"`
	} `group:"cookie" namespace:"cookie" env-namespace:"COOKIE"`

	Web struct {
		Dir   string `long:"dir" env:"DIR" description:"static front-end directory served at /"`
		Login string `long:"login" env:"LOGIN" description:"login page for unauthenticated html navigations"`
	} `group:"web" namespace:"web" env-namespace:"WEB"`

	Limits struct {
		BodySize         int64   `long:"body-size" env:"BODY_SIZE" description:"max request body size in bytes (default 1MB)"`
		RequestsPerSec   float64 `long:"rps" env:"RPS" description:"max requests per second per client (default 100)"`
		MaxConcurrent    int64   `long:"max-concurrent" env:"MAX_CONCURRENT" description:"max concurrent requests (default 1000)"`
		LoginConcurrency int64   `long:"login-concurrency" env:"LOGIN_CONCURRENCY" description:"max concurrent login and register requests (default 5)"`
	} `group:"limits" namespace:"limits" env-namespace:"LIMITS"`

	Metrics struct {
		Enabled  bool   `long:"enabled" env:"ENABLED" description:"expose prometheus metrics on /metrics"`
		User     string `long:"user" env:"USER" description:"basic auth user for metrics"`
		Password string `long:"password" env:"PASSWORD" description:"basic auth password for metrics"`
	} `group:"metrics" namespace:"metrics" env-namespace:"METRICS"`

	Audit bool `long:"audit" env:"AUDIT" description:"log one audit entry per api call"`
	Dbg   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	_ = godotenv.Load() // .env is optional

	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	setupLog(opts.Dbg, opts.Metrics.Password)
	log.Printf("[INFO] spendgate %s", revision)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	if opts.Schema {
		schema, err := config.Schema()
		if err != nil {
			return err
		}
		fmt.Println(string(schema))
		return nil
	}

	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}
	log.Printf("[INFO] backend %s, timeout %v, cookies %s -> %s", settings.BackendURL, settings.Timeout,
		settings.ClientCookie, settings.BackendCookie)

	srv, err := makeServer(settings)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// loadSettings merges defaults, the config file and command line options, in this order.
func loadSettings(opts options) (config.Settings, error) {
	settings := config.Defaults()

	if opts.Config != "" {
		validator, err := config.NewValidator()
		if err != nil {
			return config.Settings{}, err
		}
		f, err := config.Load(opts.Config, validator)
		if err != nil {
			return config.Settings{}, err
		}
		if err := settings.Apply(*f); err != nil {
			return config.Settings{}, fmt.Errorf("config file %s: %w", opts.Config, err)
		}
		log.Printf("[DEBUG] loaded config from %s", opts.Config)
	}

	if err := settings.Apply(opts.file()); err != nil {
		return config.Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return config.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

// makeServer builds the gateway components from settings.
func makeServer(settings config.Settings) (*server.Server, error) {
	client, err := backend.New(settings.BackendURL,
		backend.WithTimeout(settings.Timeout),
		backend.WithHeaders(settings.BaseHeaders),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to make backend client: %w", err)
	}

	var codec session.Codec = session.PlainCodec{}
	if settings.EncodeSession {
		codec = session.Base64Codec{}
	}
	bridge := session.NewBridge(
		session.Names{Client: settings.ClientCookie, Backend: settings.BackendCookie},
		session.BridgeOpts{Codec: codec, Secure: settings.SecureCookie},
	)

	deps := server.Deps{
		Auth:  auth.NewMiddleware(auth.NewResolver(client, bridge), bridge, settings.LoginURL),
		Proxy: proxy.New(client, bridge, proxy.Opts{ContentType: settings.BaseHeaders["Content-Type"]}),
	}
	if settings.Audit {
		deps.AuditSink = audit.NewLogSink(log.Default())
	}

	srv, err := server.New(deps, server.Config{
		Address:          settings.Listen,
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     settings.Timeout + 10*time.Second, // proxied call must fit
		IdleTimeout:      30 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		Version:          revision,
		WebDir:           settings.WebDir,
		BodySizeLimit:    settings.BodySizeLimit,
		RequestsPerSec:   settings.RequestsPerSec,
		MaxConcurrent:    settings.MaxConcurrent,
		LoginConcurrency: settings.LoginConcurrency,
		MetricsEnabled:   settings.MetricsEnabled,
		MetricsUser:      settings.MetricsUser,
		MetricsPassword:  settings.MetricsPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to make server: %w", err)
	}
	return srv, nil
}

// file converts command line options to the config file layer.
func (o options) file() config.File {
	res := config.File{
		Listen: o.Listen,
		Backend: config.BackendFile{
			URL:     o.Backend.URL,
			Headers: o.Backend.Headers,
		},
		Cookie: config.CookieFile{
			Client:  o.Cookie.Client,
			Backend: o.Cookie.Backend,
			Secure:  o.Cookie.Secure,
			Encode:  o.Cookie.Encode,
		},
		Web: config.WebFile{Dir: o.Web.Dir, Login: o.Web.Login},
		Limits: config.LimitsFile{
			BodySize:         o.Limits.BodySize,
			RequestsPerSec:   o.Limits.RequestsPerSec,
			MaxConcurrent:    o.Limits.MaxConcurrent,
			LoginConcurrency: o.Limits.LoginConcurrency,
		},
		Metrics: config.MetricsFile{Enabled: o.Metrics.Enabled, User: o.Metrics.User, Password: o.Metrics.Password},
		Audit:   o.Audit,
	}
	if o.Backend.Timeout != 0 {
		res.Backend.Timeout = o.Backend.Timeout.String()
	}
	return res
}

func setupLog(dbg bool, secrets ...string) {
	logOpts := []log.Option{log.Msec, log.LevelBraces}
	if dbg {
		logOpts = []log.Option{log.Debug, log.CallerFile, log.CallerFunc, log.Msec, log.LevelBraces}
	}

	nonEmpty := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if s != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) > 0 {
		logOpts = append(logOpts, log.Secret(nonEmpty...))
	}
	log.SetupStdLogger(logOpts...)
	log.Setup(logOpts...)
}
