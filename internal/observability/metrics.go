package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (many open dashboards).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95 growth on /api/view (cache misses hitting Grist).
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Grist API call rate by status label. Watch for: error vs success ratio.
	GristAPICallsTotal *prometheus.CounterVec

	// Grist API latency per call.
	GristAPIDuration *prometheus.HistogramVec

	// Retry attempts against Grist. Watch for: high retries = unstable upstream.
	GristAPIRetriesTotal prometheus.Counter

	// Failed Grist fetches by error category (see grist.CategorizeError).
	GristAPIErrorsTotal *prometheus.CounterVec

	// Rows dropped while projecting Grist records, by reason.
	RecordsDroppedTotal *prometheus.CounterVec

	// Grist payloads that were not a JSON object with a records list.
	MalformedPayloadsTotal prometheus.Counter

	// Records in the most recently loaded dataset.
	DatasetRecords prometheus.Gauge

	// Dataset cache lookups.
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend failures by operation (get, set, delete) and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache operation latency; important for memcached.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Stale datasets served after an upstream failure.
	StaleCacheServesTotal prometheus.Counter

	// Fetches that joined an in-flight fetch instead of calling Grist.
	FetchCoalescedTotal prometheus.Counter

	// Scheduled dataset refreshes by outcome (success, error).
	DatasetRefreshTotal    *prometheus.CounterVec
	DatasetRefreshDuration prometheus.Histogram

	// Rendered views by mode and outcome (data, empty, error).
	ViewsRenderedTotal *prometheus.CounterVec

	// Pathogen filter usage (allow-list from the current dataset; others go to "other").
	PathogenFilterTotal *prometheus.CounterVec

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state (0 closed, 1 open, 2 half-open) and transitions.
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec

	// Degraded recovery probe outcomes (success, failure, exhausted).
	RecoveryAttemptsTotal *prometheus.CounterVec

	trackedPathogensMu sync.RWMutex
	trackedPathogens   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	GristAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gristApiCallsTotal",
			Help: "Total number of Grist records API calls",
		},
		[]string{"status"},
	)
	GristAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gristApiDurationSeconds",
			Help:    "Grist records API latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	GristAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gristApiRetriesTotal",
			Help: "Total number of retry attempts for Grist API calls",
		},
	)
	GristAPIErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gristApiErrorsTotal",
			Help: "Failed Grist fetches by error category",
		},
		[]string{"category"},
	)
	RecordsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordsDroppedTotal",
			Help: "Grist rows dropped during projection, by reason",
		},
		[]string{"reason"},
	)
	MalformedPayloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "malformedPayloadsTotal",
			Help: "Grist responses treated as zero records because the payload was malformed",
		},
	)
	DatasetRecords = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datasetRecords",
			Help: "Number of records in the most recently loaded dataset",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of dataset cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of dataset cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	StaleCacheServesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "staleCacheServesTotal",
			Help: "Stale datasets served after a Grist failure",
		},
	)
	FetchCoalescedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fetchCoalescedTotal",
			Help: "Dataset fetches that shared an in-flight Grist call",
		},
	)
	DatasetRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasetRefreshTotal",
			Help: "Scheduled dataset refreshes by outcome",
		},
		[]string{"outcome"},
	)
	DatasetRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datasetRefreshDurationSeconds",
			Help:    "Duration of a scheduled dataset refresh",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)
	ViewsRenderedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewsRenderedTotal",
			Help: "Map views rendered by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
	PathogenFilterTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pathogenFilterTotal",
			Help: "Pathogen filter selections (known pathogens; others use pathogen=other)",
		},
		[]string{"pathogen"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	RecoveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoveryAttemptsTotal",
			Help: "Degraded-state recovery probes by outcome",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		GristAPICallsTotal, GristAPIDuration, GristAPIRetriesTotal, GristAPIErrorsTotal,
		RecordsDroppedTotal, MalformedPayloadsTotal, DatasetRecords,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		StaleCacheServesTotal, FetchCoalescedTotal,
		DatasetRefreshTotal, DatasetRefreshDuration,
		ViewsRenderedTotal, PathogenFilterTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitions,
		RecoveryAttemptsTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// SetTrackedPathogens replaces the pathogen label allow-list. Called after each
// dataset load so label cardinality follows the data, not user input.
func SetTrackedPathogens(pathogens []string) {
	trackedPathogensMu.Lock()
	defer trackedPathogensMu.Unlock()
	trackedPathogens = make(map[string]struct{}, len(pathogens))
	for _, p := range pathogens {
		trackedPathogens[normalizePathogenForMetrics(p)] = struct{}{}
	}
}

// RecordPathogenSelection counts each selected pathogen once.
func RecordPathogenSelection(selection []string) {
	trackedPathogensMu.RLock()
	defer trackedPathogensMu.RUnlock()
	for _, p := range selection {
		label := normalizePathogenForMetrics(p)
		if _, ok := trackedPathogens[label]; !ok {
			label = "other"
		}
		PathogenFilterTotal.WithLabelValues(label).Inc()
	}
}

func normalizePathogenForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RecordCircuitBreakerTransition counts a breaker transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitions.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
