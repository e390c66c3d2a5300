package laju

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the coordinator's request
// lifecycle and reliability layers. All record methods are safe on a nil
// receiver so metrics stay strictly optional.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	rateLimiterTokens *prometheus.GaugeVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   prometheus.Gauge

	deduplicationHits *prometheus.CounterVec

	backoffActivations prometheus.Counter
	backoffSuspended   prometheus.Gauge

	queueDepth  prometheus.Gauge
	queueActive prometheus.Gauge

	errorsTotal *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "laju_requests_total",
				Help: "Total number of coordinated requests",
			},
			[]string{"source", "endpoint", "outcome"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "laju_request_duration_seconds",
				Help:    "Duration of coordinated requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "laju_requests_in_flight",
				Help: "Number of requests currently in flight",
			},
			[]string{"source"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "laju_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"endpoint", "attempt"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "laju_circuit_breaker_state",
				Help: "Current state of a circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"endpoint"},
		),
		rateLimiterTokens: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "laju_rate_limiter_tokens",
				Help: "Available rate limiter tokens per endpoint",
			},
			[]string{"endpoint"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "laju_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"source"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "laju_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"source"},
		),
		cacheSize: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "laju_cache_size",
				Help: "Current number of entries in the response cache",
			},
		),
		deduplicationHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "laju_deduplication_hits_total",
				Help: "Total number of requests resolved by another caller's in-flight request",
			},
			[]string{"source"},
		),
		backoffActivations: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "laju_backoff_activations_total",
				Help: "Total number of global backoff activations",
			},
		),
		backoffSuspended: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "laju_backoff_suspended",
				Help: "Whether the global backoff window is active (0/1)",
			},
		),
		queueDepth: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "laju_admission_queue_depth",
				Help: "Number of requests waiting for an admission slot",
			},
		),
		queueActive: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "laju_admission_active",
				Help: "Number of admission slots currently held",
			},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "laju_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type", "source", "endpoint"},
		),
		registerer: registry,
	}
}

// RecordRequest records a completed request with its outcome label.
func (mc *MetricsCollector) RecordRequest(source, endpoint, outcome string, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(source, endpoint, outcome).Inc()
	mc.requestDuration.WithLabelValues(source, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(source string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(source).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(source string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(source).Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(endpoint string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCircuitBreakerState sets the breaker state gauge for an endpoint.
func (mc *MetricsCollector) RecordCircuitBreakerState(endpoint string, state CircuitState) {
	if mc == nil {
		return
	}
	mc.circuitBreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordRateLimiterTokens sets the available-token gauge for an endpoint.
func (mc *MetricsCollector) RecordRateLimiterTokens(endpoint string, tokens float64) {
	if mc == nil {
		return
	}
	mc.rateLimiterTokens.WithLabelValues(endpoint).Set(tokens)
}

// RecordCacheHit increments the cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(source string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(source).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(source string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(source).Inc()
}

// RecordCacheSize sets the cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(size int) {
	if mc == nil {
		return
	}
	mc.cacheSize.Set(float64(size))
}

// RecordDeduplicationHit increments the dedup hit counter.
func (mc *MetricsCollector) RecordDeduplicationHit(source string) {
	if mc == nil {
		return
	}
	mc.deduplicationHits.WithLabelValues(source).Inc()
}

// RecordBackoffActivated increments activations and raises the suspension gauge.
func (mc *MetricsCollector) RecordBackoffActivated() {
	if mc == nil {
		return
	}
	mc.backoffActivations.Inc()
	mc.backoffSuspended.Set(1)
}

// RecordBackoffReset lowers the suspension gauge.
func (mc *MetricsCollector) RecordBackoffReset() {
	if mc == nil {
		return
	}
	mc.backoffSuspended.Set(0)
}

// RecordQueueState sets the admission queue gauges.
func (mc *MetricsCollector) RecordQueueState(depth, active int) {
	if mc == nil {
		return
	}
	mc.queueDepth.Set(float64(depth))
	mc.queueActive.Set(float64(active))
}

// RecordError increments the error counter by type.
func (mc *MetricsCollector) RecordError(errorType ErrorType, source, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(string(errorType), source, endpoint).Inc()
}
