package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	sourceQueryDuration *prometheus.HistogramVec
	sourceFailures      *prometheus.CounterVec
	staleResponses      prometheus.Counter
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
}

// New creates a fresh Metrics registry with HTTP, source and cache metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "civicmap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	sourceQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "civicmap",
		Name:      "source_query_duration_seconds",
		Help:      "Duration of upstream source queries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"source"})

	sourceFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "civicmap",
		Name:      "source_failures_total",
		Help:      "Count of upstream source query failures",
	}, []string{"source"})

	staleResponses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "civicmap",
		Name:      "stale_responses_total",
		Help:      "Count of viewport responses discarded for carrying a stale generation tag",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "civicmap",
		Name:      "viewport_cache_hits_total",
		Help:      "Count of viewport aggregation responses served from cache",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "civicmap",
		Name:      "viewport_cache_misses_total",
		Help:      "Count of viewport aggregation cache misses",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		sourceQueryDuration,
		sourceFailures,
		staleResponses,
		cacheHits,
		cacheMisses,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		sourceQueryDuration: sourceQueryDuration,
		sourceFailures:      sourceFailures,
		staleResponses:      staleResponses,
		cacheHits:           cacheHits,
		cacheMisses:         cacheMisses,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveSourceQuery records one upstream query, failed or not.
func (m *Metrics) ObserveSourceQuery(source string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.sourceQueryDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err != nil {
		m.sourceFailures.WithLabelValues(source).Inc()
	}
}

// IncStaleResponse counts a discarded stale-generation response.
func (m *Metrics) IncStaleResponse() {
	if m == nil {
		return
	}
	m.staleResponses.Inc()
}

// IncCacheHit counts a viewport cache hit.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// IncCacheMiss counts a viewport cache miss.
func (m *Metrics) IncCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
