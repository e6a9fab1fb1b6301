// Package server provides the HTTP server of the gateway: global middleware, identity resolution,
// account endpoints, the authenticated proxy and static front-end.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/umputun/spendgate/app/server/audit"
	"github.com/umputun/spendgate/app/server/auth"
	"github.com/umputun/spendgate/app/server/proxy"
)

// Server represents the HTTP server.
type Server struct {
	Deps
	Config
}

// Config holds server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Version         string

	WebDir string // static front-end directory served at /, empty to disable

	BodySizeLimit    int64   // max request body size in bytes
	RequestsPerSec   float64 // max requests per second (rate limit)
	MaxConcurrent    int64   // max concurrent in-flight requests
	LoginConcurrency int64   // max concurrent login and register requests

	MetricsEnabled  bool
	MetricsUser     string // basic auth for /metrics, empty to leave it open
	MetricsPassword string
}

// Deps holds server dependencies.
type Deps struct {
	Auth      *auth.Middleware
	Proxy     *proxy.Proxy
	AuditSink audit.Sink // optional, nil to disable audit logging
}

// New creates a new Server instance.
func New(deps Deps, cfg Config) (*Server, error) {
	if deps.Auth == nil || deps.Proxy == nil {
		return nil, errors.New("auth middleware and proxy are required")
	}
	if cfg.WebDir != "" {
		st, err := os.Stat(cfg.WebDir)
		if err != nil {
			return nil, fmt.Errorf("failed to access web dir: %w", err)
		}
		if !st.IsDir() {
			return nil, fmt.Errorf("web dir %s is not a directory", cfg.WebDir)
		}
	}
	return &Server{Deps: deps, Config: cfg}, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.Address,
		Handler:           s.routes(),
		ReadHeaderTimeout: s.ReadTimeout,
		WriteTimeout:      s.WriteTimeout,
		IdleTimeout:       s.IdleTimeout,
	}

	// graceful shutdown
	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] shutdown error: %v", err)
		}
	}()

	log.Printf("[INFO] started server on %s", s.Address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// routes configures and returns the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	// global middleware (applies to all routes), identity is resolved once per request
	router.Use(
		rest.Recoverer(log.Default()),
		rest.RealIP, // must be before rate limiting to limit by real client IP
		s.rateLimiter(),
		rest.Throttle(s.maxConcurrent()),
		rest.Trace,
		rest.SizeLimit(s.bodySizeLimit()),
		rest.AppInfo("spendgate", "umputun", s.Version),
		rest.Ping,
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
		s.Auth.Identify,
	)

	if s.MetricsEnabled {
		router.Handle("GET /metrics", s.metricsAuth()(promhttp.Handler()))
	}

	// api routes, audit wraps identity checks to capture denied requests
	router.Mount("/api").Route(func(api *routegroup.Bundle) {
		api.Use(s.auditMiddleware())
		// stricter throttle on session-creating endpoints to slow down brute-force
		s.Proxy.RegisterAccount(api, rest.Throttle(s.loginConcurrency()))

		api.Group().Route(func(protected *routegroup.Bundle) {
			protected.Use(s.Auth.Require)
			s.Proxy.RegisterResources(protected)
		})
	})

	if s.WebDir != "" {
		router.Handle("/", http.FileServer(http.Dir(s.WebDir)))
	}

	return router
}

// bodySizeLimit returns the configured body size limit, or default 1MB if not set.
func (s *Server) bodySizeLimit() int64 {
	if s.BodySizeLimit > 0 {
		return s.BodySizeLimit
	}
	return 1024 * 1024
}

// requestsPerSec returns the configured rate limit (requests per second), or default 100 if not set.
func (s *Server) requestsPerSec() float64 {
	if s.RequestsPerSec > 0 {
		return s.RequestsPerSec
	}
	return 100
}

// maxConcurrent returns the configured max concurrent in-flight requests, or default 1000 if not set.
func (s *Server) maxConcurrent() int64 {
	if s.MaxConcurrent > 0 {
		return s.MaxConcurrent
	}
	return 1000
}

// loginConcurrency returns the configured login concurrency limit, or default 5 if not set.
func (s *Server) loginConcurrency() int64 {
	if s.LoginConcurrency > 0 {
		return s.LoginConcurrency
	}
	return 5
}

// rateLimiter returns middleware that limits requests per second using tollbooth.
func (s *Server) rateLimiter() func(http.Handler) http.Handler {
	lmt := tollbooth.NewLimiter(s.requestsPerSec(), &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr", IndexFromRight: 0}) // use RemoteAddr (RealIP middleware sets it)
	lmt.SetBurst(int(s.requestsPerSec()))                                    // burst equals rate limit
	return func(next http.Handler) http.Handler {
		return tollbooth.LimitHandler(lmt, next)
	}
}

// metricsAuth returns basic auth middleware for the metrics endpoint, or noop if credentials are not set.
func (s *Server) metricsAuth() func(http.Handler) http.Handler {
	if s.MetricsUser == "" && s.MetricsPassword == "" {
		return noopMiddleware
	}
	return rest.BasicAuthWithUserPasswd(s.MetricsUser, s.MetricsPassword)
}

// auditMiddleware returns the audit middleware or noop if audit is disabled.
func (s *Server) auditMiddleware() func(http.Handler) http.Handler {
	if s.AuditSink == nil {
		return audit.NoopMiddleware
	}
	return audit.Middleware(s.AuditSink)
}

// noopMiddleware is a pass-through middleware.
func noopMiddleware(next http.Handler) http.Handler {
	return next
}
