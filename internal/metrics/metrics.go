// Package metrics exposes Prometheus collectors for the ingestion engine.
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
	envelopesTotal             *prometheus.CounterVec
	queueDepth                 *prometheus.GaugeVec
	checkpointOpsTotal         *prometheus.CounterVec
	pageErrorsTotal            *prometheus.CounterVec
	breakpointsTotal           *prometheus.CounterVec
	sinkResultsTotal           *prometheus.CounterVec
	providerItemsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	activeWorkers              *prometheus.GaugeVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		envelopesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icrawler_envelopes_total",
				Help: "Envelopes dequeued, labeled by stage.",
			},
			[]string{"stage"},
		)

		queueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "icrawler_queue_depth",
				Help: "Items waiting in each queue.",
			},
			[]string{"queue"},
		)

		checkpointOpsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icrawler_checkpoint_ops_total",
				Help: "Checkpoint operations, labeled by op (write, delete, corrupt).",
			},
			[]string{"op"},
		)

		pageErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icrawler_page_errors_total",
				Help: "Failed list or detail pages, labeled by processor class.",
			},
			[]string{"class"},
		)

		breakpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icrawler_breakpoints_total",
				Help: "Pagination loops ended early by a processor, labeled by class.",
			},
			[]string{"class"},
		)

		sinkResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icrawler_sink_results_total",
				Help: "Results handed to sink pipelines, labeled by pipeline and status.",
			},
			[]string{"pipeline", "status"},
		)

		providerItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "icrawler_provider_items_total",
				Help: "Work items pushed by source providers, labeled by source kind.",
			},
			[]string{"source"},
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
				Name:    "icrawler_rate_limit_delays_seconds",
				Help:    "Histogram of outbound rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "icrawler_active_workers",
				Help: "Workers currently handling an envelope, labeled by stage.",
			},
			[]string{"stage"},
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
	Init()
	return promhttp.Handler()
}

// ObserveEnvelope counts an envelope dequeued by stage ("dispatch" or "sink").
func ObserveEnvelope(stage string) {
	Init()
	envelopesTotal.WithLabelValues(stage).Inc()
}

// SetQueueDepth records the current length of a queue.
func SetQueueDepth(queue string, depth int) {
	Init()
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// ObserveCheckpoint counts a checkpoint operation.
func ObserveCheckpoint(op string) {
	Init()
	checkpointOpsTotal.WithLabelValues(op).Inc()
}

// ObservePageError counts a failed page for a processor class.
func ObservePageError(class string) {
	Init()
	pageErrorsTotal.WithLabelValues(class).Inc()
}

// ObserveBreakpoint counts a pagination loop stopped by its processor.
func ObserveBreakpoint(class string) {
	Init()
	breakpointsTotal.WithLabelValues(class).Inc()
}

// ObserveSinkResult counts a result handled by a sink pipeline.
func ObserveSinkResult(pipeline, status string) {
	Init()
	sinkResultsTotal.WithLabelValues(pipeline, status).Inc()
}

// ObserveProviderItems counts work items pushed by a provider.
func ObserveProviderItems(source string, n int) {
	Init()
	providerItemsTotal.WithLabelValues(source).Add(float64(n))
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

// IncActiveWorkers increments the active workers gauge of a stage.
func IncActiveWorkers(stage string) {
	Init()
	activeWorkers.WithLabelValues(stage).Inc()
}

// DecActiveWorkers decrements the active workers gauge of a stage.
func DecActiveWorkers(stage string) {
	Init()
	activeWorkers.WithLabelValues(stage).Dec()
}
