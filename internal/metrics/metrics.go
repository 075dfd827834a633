// Package metrics exposes process-wide Prometheus collectors for the soundings
// binary and helpers to serve or export them.
package metrics

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	artifactsWrittenTotal      *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus collectors on the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "soundings_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the outbound rate limiter, labeled by host.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		artifactsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soundings_artifacts_written_total",
				Help: "Files written by the persister, labeled by kind.",
			},
			[]string{"kind"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from rawURL, returning "unknown"
// when none can be parsed.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one served API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the time a request waited for a token.
func ObserveRateLimitDelay(rawURL string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(duration.Seconds())
}

// ObserveArtifact counts one written file of the given kind ("ascii" or "archive").
func ObserveArtifact(kind string) {
	Init()
	artifactsWrittenTotal.WithLabelValues(kind).Inc()
}

// WriteTextfile dumps g in the node_exporter textfile format to path. A nil
// gatherer selects the default registry.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
