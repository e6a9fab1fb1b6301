// Package metrics defines prometheus metrics of the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spendgate"

// identity resolution results
const (
	ResultAuthenticated = "authenticated"
	ResultAnonymous     = "anonymous"
	ResultFailed        = "failed"
)

// session metrics
var (
	IdentityResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "identity_resolutions_total",
			Help:      "Identity resolutions by result",
		},
		[]string{"result"},
	)

	CookieScrubs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cookie_scrubs_total",
			Help:      "Client session cookies deleted because they resolved to no identity",
		},
	)

	MalformedCookieSegments = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_cookie_segments_total",
			Help:      "Cookie header segments skipped as malformed",
		},
	)
)

// backend metrics
var (
	ProxyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Proxied backend calls by route and status code",
		},
		[]string{"route", "status_code"},
	)

	BackendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_seconds",
			Help:      "Backend call latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"route"},
	)
)
