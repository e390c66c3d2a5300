package laju

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	internalbackoff "github.com/ambiyansyah-risyal/laju/internal/backoff"
)

// Coordinator dispatches caller requests to upstream endpoints through the
// full reliability chain: cache, deduplication, global backoff, admission
// control, per-endpoint rate limiting and circuit breaking. Construct one per
// process with New and share it by handle; it is safe for concurrent use.
type Coordinator struct {
	registry  *Registry
	cache     Cache
	cacheTTL  time.Duration
	dedup     *Deduplicator
	backoff   *BackoffController
	admission *AdmissionQueue

	globalGate *RateGate

	classifier        Classifier
	retryStrategy     internalbackoff.Strategy
	retryInitial      time.Duration
	retryMax          time.Duration
	retryMultiplier   float64
	retryJitter       float64
	defaultMaxRetries int
	defaultSelector   string

	stats              *Statistics
	statsResetInterval time.Duration

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig

	listenerMu sync.RWMutex
	listeners  []EventListener

	monitor        *HealthMonitor
	healthInterval time.Duration
	healthTimeout  time.Duration
	probe          ProbeFunc

	pendingEndpoints []EndpointConfig

	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	validationError error
}

// New constructs a Coordinator from the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Coordinator {
	c := &Coordinator{
		registry:          NewRegistry(),
		cache:             nil, // no caching by default
		cacheTTL:          30 * time.Second,
		dedup:             NewDeduplicator(),
		backoff:           NewBackoffController(5*time.Second, 60*time.Second),
		admission:         NewAdmissionQueue(10),
		globalGate:        NewUnlimitedRateGate("global"),
		classifier:        DefaultClassifier,
		retryStrategy:     internalbackoff.GetExponentialJitterCalculator(),
		retryInitial:      500 * time.Millisecond,
		retryMax:          10 * time.Second,
		retryMultiplier:   2.0,
		retryJitter:       0.1,
		defaultMaxRetries: 2,
		defaultSelector:   SelectHealthBased,
		stats:             NewStatistics(),
		debug:             DefaultDebugConfig(),
		stopCh:            make(chan struct{}),
	}

	for _, option := range options {
		option(c)
	}

	c.wireBackoffEvents()
	for _, cfg := range c.pendingEndpoints {
		if _, err := c.RegisterEndpoint(cfg); err != nil && c.validationError == nil {
			c.validationError = err
		}
	}
	c.pendingEndpoints = nil

	if err := c.ValidateConfiguration(); err != nil && c.validationError == nil {
		c.validationError = err
	}

	if c.healthInterval > 0 {
		c.monitor = NewHealthMonitor(c.registry, c.healthInterval, c.healthTimeout, c.probe)
		c.monitor.logger = c.logger
		c.monitor.debug = c.debug
		c.monitor.Start()
	}

	if c.statsResetInterval > 0 {
		c.wg.Add(1)
		go c.statsResetLoop()
	}

	return c
}

// RegisterEndpoint adds an endpoint at runtime and wires its circuit breaker
// transitions into events and metrics.
func (c *Coordinator) RegisterEndpoint(cfg EndpointConfig) (*Endpoint, error) {
	ep, err := c.registry.Register(cfg)
	if err != nil {
		return nil, err
	}
	name := ep.Name()
	ep.Breaker().onStateChange = func(from, to CircuitState, failures int) {
		c.metrics.RecordCircuitBreakerState(name, to)
		switch to {
		case StateOpen:
			c.emit(Event{
				Type:      EventCircuitOpened,
				Endpoint:  name,
				Failures:  failures,
				Cooldown:  ep.Config().CircuitCooldown,
				Timestamp: time.Now(),
			})
			if c.debugCircuit() {
				c.logger.Warn("Circuit opened", "endpoint", name, "failures", failures)
			}
		case StateClosed:
			c.emit(Event{Type: EventCircuitClosed, Endpoint: name, Timestamp: time.Now()})
			if c.debugCircuit() {
				c.logger.Info("Circuit closed", "endpoint", name)
			}
		}
	}
	return ep, nil
}

func (c *Coordinator) wireBackoffEvents() {
	c.backoff.onActivate = func(failures int, window time.Duration) {
		c.metrics.RecordBackoffActivated()
		c.emit(Event{
			Type:      EventBackoffActivated,
			Failures:  failures,
			Cooldown:  window,
			Timestamp: time.Now(),
		})
		if c.debugBackoff() {
			c.logger.Warn("Global backoff activated", "failures", failures, "window", window)
		}
	}
	c.backoff.onReset = func() {
		c.metrics.RecordBackoffReset()
		c.emit(Event{Type: EventBackoffReset, Timestamp: time.Now()})
		if c.debugBackoff() {
			c.logger.Info("Global backoff reset")
		}
	}
}

// Execute runs one request through the coordination chain and returns its
// structured outcome. Failure means "data unavailable now", never a process
// fault.
func (c *Coordinator) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if c.validationError != nil {
		return nil, c.validationError
	}
	if req.Fetch == nil {
		return nil, &RequestError{
			Type:      ErrorTypeValidation,
			Message:   "request has no fetch function",
			Timestamp: time.Now(),
		}
	}
	if c.stopped.Load() {
		return nil, c.newError(ErrorTypeStopped, "coordinator stopped", nil, "", req, 0, start)
	}

	requestID := c.nextRequestID()
	source := req.Source
	if source == "" {
		source = "unknown"
	}
	selector := req.Selector
	if selector == "" {
		selector = c.defaultSelector
	}
	maxRetries := req.MaxRetries
	if maxRetries < 0 {
		maxRetries = c.defaultMaxRetries
	}
	key := req.DedupKey
	if key == "" {
		key = DefaultDedupKey(selector, source)
	}

	cacheEnabled, ttl := c.cachePolicy(ctx, req)

	// A derived selector+source key cannot distinguish two different fetch
	// closures, so a cached result demands an explicit identity.
	if cacheEnabled && req.DedupKey == "" {
		return nil, &RequestError{
			Type:      ErrorTypeValidation,
			Message:   "cached requests need an explicit dedup key",
			RequestID: requestID,
			Source:    source,
			Timestamp: time.Now(),
		}
	}

	if c.debugRequests() {
		c.logger.Debug("Starting request", "requestID", requestID, "source", source, "selector", selector, "dedupKey", key)
	}

	c.stats.recordTotal()
	c.metrics.RecordRequestStart(source)
	defer c.metrics.RecordRequestEnd(source)

	if cacheEnabled {
		if value, ok := c.cache.Get(key); ok {
			c.stats.recordCached()
			c.metrics.RecordCacheHit(source)
			if c.debugCache() {
				c.logger.Debug("Cache hit", "requestID", requestID, "dedupKey", key)
			}
			return &Result{
				Data:      value,
				Cached:    true,
				RequestID: requestID,
				Timestamp: time.Now(),
				Duration:  time.Since(start),
			}, nil
		}
		c.metrics.RecordCacheMiss(source)
	}

	res, err, shared := c.dedup.Coalesce(ctx, key, func() (*Result, error) {
		return c.dispatch(ctx, req, requestID, selector, source, maxRetries, start)
	})

	if shared {
		c.stats.recordDeduplicated()
		c.metrics.RecordDeduplicationHit(source)
		if c.debugRequests() {
			c.logger.Debug("Deduplication hit", "requestID", requestID, "dedupKey", key)
		}
		if res == nil {
			// A waiter cancelled before the owner finished gets a bare
			// context error from the coalescing layer; wrap it so every
			// failure leaving Execute is a *RequestError.
			var reqErr *RequestError
			if err != nil && !errors.As(err, &reqErr) {
				err = c.newError(c.classifier(err), "coalesced wait aborted", err, "", req, 0, start)
			}
			return nil, err
		}
		out := *res
		out.Shared = true
		out.RequestID = requestID
		out.Duration = time.Since(start)
		return &out, err
	}

	if err == nil && cacheEnabled && res != nil {
		c.cache.Set(key, res.Data, ttl)
		c.metrics.RecordCacheSize(c.cache.Len())
		if c.debugCache() {
			c.logger.Debug("Response cached", "requestID", requestID, "dedupKey", key, "ttl", ttl)
		}
	}

	return res, err
}

// cachePolicy resolves whether this request caches and with what TTL,
// honoring per-context overrides.
func (c *Coordinator) cachePolicy(ctx context.Context, req Request) (bool, time.Duration) {
	if c.cache == nil {
		return false, 0
	}
	ttl := c.cacheTTL
	if req.CacheTTL > 0 {
		ttl = req.CacheTTL
	}
	if req.CacheTTL < 0 {
		return false, 0
	}
	if cc, ok := cacheControlFromContext(ctx); ok {
		if !cc.Enabled {
			return false, 0
		}
		if cc.TTL > 0 {
			ttl = cc.TTL
		}
	}
	return true, ttl
}

// dispatch is the bounded retry loop behind one deduplicated request. Each
// iteration re-enters admission, selection and rate limiting from scratch.
func (c *Coordinator) dispatch(ctx context.Context, req Request, requestID, selector, source string, maxRetries int, start time.Time) (*Result, error) {
	for attempt := 0; ; attempt++ {
		if c.stopped.Load() {
			return nil, c.newError(ErrorTypeStopped, "coordinator stopped", nil, "", req, attempt, start)
		}

		// Fail fast while the global backoff window is active: the caller
		// decides whether to come back later. Retries of this same request
		// instead wait the window out below.
		if attempt == 0 && c.backoff.IsSuspended() {
			c.stats.recordRejected()
			c.metrics.RecordError(ErrorTypeSuspended, source, "")
			return nil, c.newError(ErrorTypeSuspended, "temporarily unavailable: global backoff active", nil, "", req, attempt, start)
		}

		res, reqErr := c.attempt(ctx, req, requestID, selector, source, attempt, maxRetries, start)
		if reqErr == nil {
			return res, nil
		}

		if !reqErr.Type.Retryable() || attempt >= maxRetries {
			return nil, reqErr
		}

		c.stats.recordRetry()
		c.metrics.RecordRetry(reqErr.Endpoint, attempt+1)

		if c.debugRetries() {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt+1, "maxRetries", maxRetries, "type", string(reqErr.Type))
		}

		if err := c.waitBeforeRetry(ctx, attempt); err != nil {
			return nil, reqErr
		}
	}
}

// waitBeforeRetry sleeps out the longer of the global suspension window and
// the jittered per-attempt delay.
func (c *Coordinator) waitBeforeRetry(ctx context.Context, attempt int) error {
	delay := c.retryStrategy.Calculate(attempt, c.retryInitial, c.retryMax, c.retryMultiplier, c.retryJitter)
	if remaining := c.backoff.Remaining(); remaining > delay {
		delay = remaining
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopCh:
		return ErrStopped
	}
}

// attempt performs one pass through admission, selection, rate limiting and
// the transport call, updating breaker, backoff and statistics.
func (c *Coordinator) attempt(ctx context.Context, req Request, requestID, selector, source string, attempt, maxRetries int, start time.Time) (*Result, *RequestError) {
	if err := c.admission.Acquire(ctx, req.Priority); err != nil {
		etype := ErrorTypeStopped
		msg := "coordinator stopped"
		if !errors.Is(err, ErrStopped) {
			etype = c.classifier(err)
			msg = "admission wait aborted"
		}
		c.metrics.RecordError(etype, source, "")
		return nil, c.newError(etype, msg, err, "", req, attempt, start)
	}
	// The slot is released on every path out of this attempt, including
	// transport panics unwinding through the deferred call.
	defer func() {
		c.admission.Release()
		c.metrics.RecordQueueState(c.admission.Len(), c.admission.Active())
	}()
	c.metrics.RecordQueueState(c.admission.Len(), c.admission.Active())

	ep, serr := c.registry.Select(selector)
	if serr != nil {
		etype := ErrorTypeNoAvailableEndpoint
		msg := "no available endpoint"
		if errors.Is(serr, ErrCircuitOpen) {
			etype = ErrorTypeCircuitOpen
			msg = "endpoint circuit is open"
		}
		c.stats.recordRejected()
		c.metrics.RecordError(etype, source, selector)
		return nil, c.newError(etype, msg, serr, "", req, attempt, start)
	}

	if !ep.Breaker().Allow() {
		c.stats.recordRejected()
		c.metrics.RecordError(ErrorTypeCircuitOpen, source, ep.Name())
		if c.debugCircuit() {
			c.logger.Warn("Circuit breaker rejected call", "requestID", requestID, "endpoint", ep.Name())
		}
		return nil, c.newError(ErrorTypeCircuitOpen, "endpoint circuit is open", nil, ep.Name(), req, attempt, start)
	}

	// Allow may have claimed the half-open trial; every abort between here
	// and the transport call must hand the slot back or the endpoint stays
	// unselectable forever.
	if err := c.globalGate.Acquire(ctx); err != nil {
		ep.Breaker().CancelTrial()
		return nil, c.newError(c.classifier(err), "global rate gate wait aborted", err, ep.Name(), req, attempt, start)
	}
	if err := ep.Gate().Acquire(ctx); err != nil {
		ep.Breaker().CancelTrial()
		return nil, c.newError(c.classifier(err), "endpoint rate gate wait aborted", err, ep.Name(), req, attempt, start)
	}
	c.metrics.RecordRateLimiterTokens(ep.Name(), ep.Gate().Tokens())

	if c.debugRateLimit() {
		c.logger.Debug("Rate gate acquired", "requestID", requestID, "endpoint", ep.Name())
	}

	attemptStart := time.Now()
	fctx, cancel := context.WithTimeout(ctx, ep.Timeout())
	data, ferr := req.Fetch(fctx, ep)
	cancel()
	latency := time.Since(attemptStart)

	if ferr == nil {
		ep.Breaker().RecordSuccess()
		c.metrics.RecordCircuitBreakerState(ep.Name(), ep.Breaker().State())
		c.backoff.RecordSuccess()
		c.stats.recordSuccess(latency)
		c.metrics.RecordRequest(source, ep.Name(), "success", latency)
		return &Result{
			Data:      data,
			Endpoint:  ep.Name(),
			RequestID: requestID,
			Timestamp: time.Now(),
			Duration:  time.Since(start),
		}, nil
	}

	etype := c.classifier(ferr)
	ep.Breaker().RecordFailure()
	c.metrics.RecordCircuitBreakerState(ep.Name(), ep.Breaker().State())
	if etype == ErrorTypeRateLimited {
		c.backoff.RecordFailure()
		c.stats.recordRateLimited()
	}
	c.stats.recordFailure(latency)
	c.metrics.RecordRequest(source, ep.Name(), "failure", latency)
	c.metrics.RecordError(etype, source, ep.Name())

	if c.debugRequests() {
		c.logger.Warn("Attempt failed", "requestID", requestID, "endpoint", ep.Name(), "type", string(etype), "error", ferr.Error())
	}

	return nil, c.newError(etype, "upstream call failed", ferr, ep.Name(), req, attempt, start)
}

func (c *Coordinator) newError(etype ErrorType, message string, cause error, endpoint string, req Request, attempt int, start time.Time) *RequestError {
	maxRetries := req.MaxRetries
	if maxRetries < 0 {
		maxRetries = c.defaultMaxRetries
	}
	e := &RequestError{
		Type:       etype,
		Message:    message,
		Cause:      cause,
		Endpoint:   endpoint,
		Source:     req.Source,
		Attempt:    attempt,
		MaxRetries: maxRetries,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
	}
	var se *StatusError
	if errors.As(cause, &se) {
		e.StatusCode = se.Code
	}
	return e
}

// Stats returns a point-in-time snapshot for monitoring collaborators.
func (c *Coordinator) Stats() Snapshot {
	var snap Snapshot
	snap.Totals = Totals{
		Total:        c.stats.total.Load(),
		Successful:   c.stats.successful.Load(),
		Failed:       c.stats.failed.Load(),
		Cached:       c.stats.cached.Load(),
		Deduplicated: c.stats.deduplicated.Load(),
		RateLimited:  c.stats.rateLimited.Load(),
		Retries:      c.stats.retries.Load(),
	}
	snap.AvgLatency = c.stats.AverageLatency()
	snap.LastReset = c.stats.LastReset()

	if c.cache != nil {
		snap.Cache.Size = c.cache.Len()
	}
	snap.Cache.HitRate = c.stats.HitRate()

	snap.Backoff.Active = c.backoff.IsSuspended()
	snap.Backoff.Failures = c.backoff.Failures()
	snap.Backoff.Remaining = c.backoff.Remaining()

	snap.Queue.Length = c.admission.Len()
	snap.Queue.Active = c.admission.Active()
	snap.Queue.Capacity = c.admission.Capacity()

	snap.Endpoints = c.registry.Statuses()
	return snap
}

// ClearCache drops every cached response.
func (c *Coordinator) ClearCache() {
	if c.cache == nil {
		return
	}
	c.cache.Clear()
	c.metrics.RecordCacheSize(0)
	c.emit(Event{Type: EventCacheCleared, Timestamp: time.Now()})
	if c.debugCache() {
		c.logger.Info("Cache cleared")
	}
}

// EmergencyStop drains the admission queue and halts dispatch immediately.
// Queued waiters fail with ErrStopped; in-flight transport calls finish and
// release their slots. The coordinator cannot be restarted.
func (c *Coordinator) EmergencyStop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.admission.Close()
	if c.monitor != nil {
		c.monitor.Stop()
	}
	c.wg.Wait()
	if c.logger != nil {
		c.logger.Warn("Emergency stop: dispatch halted")
	}
}

// UpdateRateLimiting retunes the global limits at runtime: maxConcurrent
// resizes the admission queue, delay arms a global minimum inter-request
// interval. Zero values leave the corresponding limit unchanged.
func (c *Coordinator) UpdateRateLimiting(maxConcurrent int, delay time.Duration) {
	if maxConcurrent > 0 {
		c.admission.SetCapacity(maxConcurrent)
	}
	if delay > 0 {
		c.globalGate.SetRate(1, delay, 1)
	}
}

// Subscribe registers a lifecycle event listener.
func (c *Coordinator) Subscribe(listener EventListener) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, listener)
	c.listenerMu.Unlock()
}

// Registry exposes the endpoint registry, e.g. for disabling an endpoint.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Backoff exposes the global backoff controller.
func (c *Coordinator) Backoff() *BackoffController {
	return c.backoff
}

// IsValid reports whether configuration validation passed at construction.
func (c *Coordinator) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Coordinator) ValidationError() error {
	return c.validationError
}

func (c *Coordinator) emit(event Event) {
	c.listenerMu.RLock()
	listeners := c.listeners
	c.listenerMu.RUnlock()
	for _, l := range listeners {
		l(event)
	}
}

func (c *Coordinator) statsResetLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.statsResetInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.stats.Reset()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) nextRequestID() string {
	if c.debug != nil && c.debug.RequestIDGen != nil {
		return c.debug.RequestIDGen()
	}
	return uuid.NewString()
}

func (c *Coordinator) debugRequests() bool {
	return c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil
}

func (c *Coordinator) debugRetries() bool {
	return c.debug != nil && c.debug.Enabled && c.debug.LogRetries && c.logger != nil
}

func (c *Coordinator) debugCache() bool {
	return c.debug != nil && c.debug.Enabled && c.debug.LogCache && c.logger != nil
}

func (c *Coordinator) debugRateLimit() bool {
	return c.debug != nil && c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil
}

func (c *Coordinator) debugCircuit() bool {
	return c.debug != nil && c.debug.Enabled && c.debug.LogCircuit && c.logger != nil
}

func (c *Coordinator) debugBackoff() bool {
	return c.debug != nil && c.debug.Enabled && c.debug.LogBackoff && c.logger != nil
}
