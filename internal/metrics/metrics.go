// Package metrics exposes Prometheus collectors for the cause-list service.
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
	jobsTotal                      *prometheus.CounterVec
	jobAttemptsTotal               *prometheus.CounterVec
	queueDepth                     prometheus.Gauge
	workerBusy                     prometheus.Gauge
	documentsTotal                 *prometheus.CounterVec
	hitsTotal                      prometheus.Counter
	upstreamRequestsTotal          *prometheus.CounterVec
	upstreamRequestDurationSeconds *prometheus.HistogramVec
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	rateLimitDelaysSeconds         *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "causelist_jobs_total",
				Help: "Total number of search jobs finished, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		jobAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "causelist_job_attempts_total",
				Help: "Total number of job attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "causelist_queue_depth",
				Help: "Number of jobs waiting in the task queue.",
			},
		)

		workerBusy = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "causelist_worker_busy",
				Help: "1 while the worker is running a job.",
			},
		)

		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "causelist_documents_total",
				Help: "Total number of cause-list documents searched, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		hitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "causelist_hits_total",
				Help: "Total number of documents that matched at least one term.",
			},
		)

		upstreamRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "causelist_upstream_requests_total",
				Help: "Total number of requests to the court site, labeled by host and code.",
			},
			[]string{"site", "code"},
		)

		upstreamRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "causelist_upstream_request_duration_seconds",
				Help:    "Histogram of court site request latencies, labeled by host.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "causelist_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
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

// ObserveJob increments the finished-job counter for the given outcome.
func ObserveJob(outcome string) {
	Init()
	jobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAttempt increments the attempt counter for the given outcome.
func ObserveAttempt(outcome string) {
	Init()
	jobAttemptsTotal.WithLabelValues(outcome).Inc()
}

// SetQueueDepth records the number of waiting jobs.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// SetWorkerBusy flips the busy gauge.
func SetWorkerBusy(busy bool) {
	Init()
	if busy {
		workerBusy.Set(1)
		return
	}
	workerBusy.Set(0)
}

// ObserveDocument counts one searched document by outcome.
func ObserveDocument(outcome string) {
	Init()
	documentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHit counts one matching document.
func ObserveHit() {
	Init()
	hitsTotal.Inc()
}

// ObserveUpstream records a request made to the court site.
func ObserveUpstream(rawURL string, code int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	upstreamRequestsTotal.WithLabelValues(site, strconv.Itoa(code)).Inc()
	upstreamRequestDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
