package laju

import (
	"fmt"
	"time"

	internalbackoff "github.com/ambiyansyah-risyal/laju/internal/backoff"
)

// Option represents a configuration option for the Coordinator.
type Option func(*Coordinator)

// WithEndpoints declares the upstream endpoints at construction time.
func WithEndpoints(configs ...EndpointConfig) Option {
	return func(c *Coordinator) {
		c.pendingEndpoints = append(c.pendingEndpoints, configs...)
	}
}

// WithMaxConcurrent bounds the number of in-flight transport calls.
func WithMaxConcurrent(n int) Option {
	return func(c *Coordinator) {
		c.admission = NewAdmissionQueue(n)
	}
}

// WithCache enables response caching with the default bounded in-memory
// cache. maxEntries of zero means unbounded.
func WithCache(ttl time.Duration, maxEntries int) Option {
	return func(c *Coordinator) {
		c.cache = NewInMemoryCache(maxEntries)
		c.cacheTTL = ttl
	}
}

// WithCustomCache installs a caller-supplied cache implementation.
func WithCustomCache(cache Cache, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithBackoff configures the global suspension window: the Nth consecutive
// failure suspends dispatch for min(base * 2^(N-1), ceiling).
func WithBackoff(base, ceiling time.Duration) Option {
	return func(c *Coordinator) {
		c.backoff = NewBackoffController(base, ceiling)
	}
}

// WithGlobalRateLimit arms a shared gate in front of every endpoint.
func WithGlobalRateLimit(requests int, interval time.Duration, burst int) Option {
	return func(c *Coordinator) {
		c.globalGate = NewRateGate("global", requests, interval, burst)
	}
}

// WithMaxRetries sets the default per-request retry budget for rate-limited
// and timed-out attempts.
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) {
		c.defaultMaxRetries = n
	}
}

// WithRetryDelay tunes the per-attempt retry delay computation.
func WithRetryDelay(initial, max time.Duration, multiplier, jitter float64) Option {
	return func(c *Coordinator) {
		c.retryInitial = initial
		c.retryMax = max
		c.retryMultiplier = multiplier
		c.retryJitter = jitter
	}
}

// WithRetryStrategy swaps the retry-delay algorithm.
func WithRetryStrategy(strategy internalbackoff.Strategy) Option {
	return func(c *Coordinator) {
		if strategy != nil {
			c.retryStrategy = strategy
		}
	}
}

// WithDecorrelatedJitter selects the decorrelated-jitter retry-delay
// strategy, which spreads retry bursts more evenly than exponential jitter.
func WithDecorrelatedJitter() Option {
	return func(c *Coordinator) {
		c.retryStrategy = internalbackoff.GetDecorrelatedJitterCalculator()
	}
}

// WithClassifier installs a custom failure classifier, e.g. to recognize a
// provider-specific throttling signal.
func WithClassifier(fn Classifier) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.classifier = fn
		}
	}
}

// WithDefaultSelector sets the strategy used when a request names none.
func WithDefaultSelector(selector string) Option {
	return func(c *Coordinator) {
		c.defaultSelector = selector
	}
}

// WithHealthChecks starts the health monitor probing every endpoint at the
// given interval with the given per-probe timeout.
func WithHealthChecks(interval, timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.healthInterval = interval
		c.healthTimeout = timeout
	}
}

// WithProbe installs a custom liveness probe for the health monitor.
func WithProbe(probe ProbeFunc) Option {
	return func(c *Coordinator) {
		c.probe = probe
	}
}

// WithStatsResetInterval zeroes the statistics counters on a fixed cadence.
func WithStatsResetInterval(interval time.Duration) Option {
	return func(c *Coordinator) {
		c.statsResetInterval = interval
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Coordinator) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector installs a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Coordinator) {
		c.metrics = collector
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithDebug enables debug logging with the default per-concern flags.
func WithDebug() Option {
	return func(c *Coordinator) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Coordinator) {
		c.debug = config
	}
}

// WithSimpleLogger enables debug logging to stderr; intended for examples
// and local debugging.
func WithSimpleLogger() Option {
	return func(c *Coordinator) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator overrides the request ID source (UUIDs by default).
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Coordinator) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// WithEventListener registers a lifecycle event listener at construction.
func WithEventListener(listener EventListener) Option {
	return func(c *Coordinator) {
		if listener != nil {
			c.listeners = append(c.listeners, listener)
		}
	}
}

// ValidateConfiguration validates the coordinator configuration and returns
// an aggregated error if anything is off.
func (c *Coordinator) ValidateConfiguration() error {
	var problems []string

	problems = append(problems, c.validateRetryConfig()...)
	problems = append(problems, c.validateCacheConfig()...)
	problems = append(problems, c.validateBackoffConfig()...)
	problems = append(problems, c.validateSelectorConfig()...)
	problems = append(problems, c.validateExtremeValues()...)

	if len(problems) > 0 {
		return &RequestError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}

func (c *Coordinator) validateRetryConfig() []string {
	var problems []string
	if c.defaultMaxRetries < 0 {
		problems = append(problems, "default max retries must be non-negative")
	}
	if c.retryInitial <= 0 {
		problems = append(problems, "retry initial delay must be positive")
	}
	if c.retryMax < c.retryInitial {
		problems = append(problems, "retry max delay must be >= initial delay")
	}
	if c.retryMultiplier <= 0 {
		problems = append(problems, "retry multiplier must be positive")
	}
	if c.retryJitter < 0 || c.retryJitter > 1 {
		problems = append(problems, "retry jitter must be between 0 and 1")
	}
	return problems
}

func (c *Coordinator) validateCacheConfig() []string {
	var problems []string
	if c.cache != nil && c.cacheTTL <= 0 {
		problems = append(problems, "cache TTL must be positive when cache is enabled")
	}
	return problems
}

func (c *Coordinator) validateBackoffConfig() []string {
	var problems []string
	if c.backoff.base <= 0 {
		problems = append(problems, "backoff base must be positive")
	}
	if c.backoff.ceiling < c.backoff.base {
		problems = append(problems, "backoff ceiling must be >= base")
	}
	return problems
}

func (c *Coordinator) validateSelectorConfig() []string {
	switch c.defaultSelector {
	case SelectRoundRobin, SelectRandom, SelectHealthBased:
		return nil
	default:
		return []string{fmt.Sprintf("default selector %q is not a strategy", c.defaultSelector)}
	}
}

func (c *Coordinator) validateExtremeValues() []string {
	var problems []string
	if c.defaultMaxRetries > 100 {
		problems = append(problems, "default max retries > 100 may cause excessive resource usage")
	}
	if c.retryMax > time.Hour {
		problems = append(problems, "retry max delay > 1h may cause extremely long delays")
	}
	if c.cache != nil && c.cacheTTL > 24*time.Hour {
		problems = append(problems, "cache TTL > 24h may cause stale data issues")
	}
	if c.backoff.ceiling > time.Hour {
		problems = append(problems, "backoff ceiling > 1h may cause extremely long suspensions")
	}
	return problems
}
