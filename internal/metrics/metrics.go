// Package metrics exposes Prometheus collectors for the sitemap crawler.
package metrics

import (
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
	crawlsTotal                *prometheus.CounterVec
	crawlDurationSeconds       *prometheus.HistogramVec
	urlsDiscoveredTotal        prometheus.Counter
	sitemapsTotal              *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	tlsFallbackTotal           prometheus.Counter
	persistenceErrorsTotal     *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once, and every Observe helper calls it.
func Init() {
	once.Do(func() {
		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_crawls_total",
				Help: "Total number of domain crawls, labeled by status.",
			},
			[]string{"status"},
		)

		crawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitemap_crawl_duration_seconds",
				Help:    "Histogram of domain crawl durations, labeled by status.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		)

		urlsDiscoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitemap_urls_discovered_total",
				Help: "Total number of distinct URLs reported by domain crawls.",
			},
		)

		sitemapsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_documents_total",
				Help: "Total number of sitemap documents processed, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_fetch_attempts_total",
				Help: "Total number of HTTP fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		tlsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitemap_fetch_tls_fallback_total",
				Help: "Total fetches retried without certificate verification.",
			},
		)

		persistenceErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitemap_persistence_errors_total",
				Help: "Total failures writing crawl output, labeled by sink.",
			},
			[]string{"sink"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitemap_active_workers",
				Help: "Number of workers currently crawling a domain.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitemap_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL or bare host.
// It returns "unknown" if the input is invalid.
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCrawl records a finished domain crawl.
func ObserveCrawl(status string, totalURLs int, duration time.Duration) {
	Init()
	crawlsTotal.WithLabelValues(status).Inc()
	crawlDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
	if totalURLs > 0 {
		urlsDiscoveredTotal.Add(float64(totalURLs))
	}
}

// ObserveSitemap records one processed sitemap document. kind is empty when
// the document could not be parsed.
func ObserveSitemap(kind, status string) {
	Init()
	if kind == "" {
		kind = "unknown"
	}
	sitemapsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveFetchAttempt records the outcome of one HTTP attempt.
func ObserveFetchAttempt(outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveTLSFallback counts an insecure retry after a certificate failure.
func ObserveTLSFallback() {
	Init()
	tlsFallbackTotal.Inc()
}

// ObservePersistenceError counts a failed write to the named sink.
func ObservePersistenceError(sink string) {
	Init()
	persistenceErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}
