package laju

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// EndpointConfig declares one upstream data provider. Loaded at startup and
// immutable afterwards; runtime state lives on Endpoint.
type EndpointConfig struct {
	Name             string            `mapstructure:"name"`
	BaseURL          string            `mapstructure:"base_url"`
	RateLimit        int               `mapstructure:"rate_limit"` // requests per RateInterval
	RateInterval     time.Duration     `mapstructure:"rate_interval"`
	Burst            int               `mapstructure:"burst"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	RetryCount       int               `mapstructure:"retry_count"`
	Priority         int               `mapstructure:"priority"` // selection weight, higher preferred
	Headers          map[string]string `mapstructure:"headers"`
	HealthCheckPath  string            `mapstructure:"health_check_path"`
	FailureThreshold int               `mapstructure:"failure_threshold"`
	CircuitCooldown  time.Duration     `mapstructure:"circuit_cooldown"`
}

func (c *EndpointConfig) applyDefaults() {
	if c.RateInterval <= 0 {
		c.RateInterval = time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
}

// Endpoint is one configured upstream provider plus its mutable runtime
// state. Endpoints are created at registration and never deleted during the
// process lifetime, only disabled.
type Endpoint struct {
	config  EndpointConfig
	breaker *CircuitBreaker
	gate    *RateGate

	mu           sync.RWMutex
	enabled      bool
	probeLatency time.Duration
	lastProbeAt  time.Time
}

func newEndpoint(cfg EndpointConfig) *Endpoint {
	cfg.applyDefaults()
	return &Endpoint{
		config: cfg,
		breaker: NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: cfg.FailureThreshold,
			Cooldown:         cfg.CircuitCooldown,
		}),
		gate:    NewRateGate(cfg.Name, cfg.RateLimit, cfg.RateInterval, cfg.Burst),
		enabled: true,
	}
}

// Name returns the endpoint's unique name.
func (e *Endpoint) Name() string { return e.config.Name }

// BaseURL returns the endpoint's base address.
func (e *Endpoint) BaseURL() string { return e.config.BaseURL }

// Config returns a copy of the immutable configuration.
func (e *Endpoint) Config() EndpointConfig { return e.config }

// Breaker returns the endpoint's circuit breaker, shared by the dispatch
// path and the health monitor.
func (e *Endpoint) Breaker() *CircuitBreaker { return e.breaker }

// Gate returns the endpoint's rate gate.
func (e *Endpoint) Gate() *RateGate { return e.gate }

// Timeout returns the per-call transport timeout.
func (e *Endpoint) Timeout() time.Duration { return e.config.Timeout }

// Enabled reports whether the endpoint may be selected.
func (e *Endpoint) Enabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.enabled
}

// SetEnabled flips the endpoint's availability flag.
func (e *Endpoint) SetEnabled(enabled bool) {
	e.mu.Lock()
	e.enabled = enabled
	e.mu.Unlock()
}

// Available reports whether the endpoint can be selected for dispatch right
// now: enabled and its circuit not open (or past cooldown with a free trial).
func (e *Endpoint) Available() bool {
	return e.Enabled() && e.breaker.Ready()
}

// ProbeLatency returns the latency of the most recent health probe.
func (e *Endpoint) ProbeLatency() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.probeLatency
}

func (e *Endpoint) recordProbe(latency time.Duration) {
	e.mu.Lock()
	e.probeLatency = latency
	e.lastProbeAt = time.Now()
	e.mu.Unlock()
}

// EndpointStatus is a point-in-time view of one endpoint, exposed in Snapshot.
type EndpointStatus struct {
	Name         string
	Enabled      bool
	CircuitState CircuitState
	Failures     int
	ProbeLatency time.Duration
}

// Registry holds every configured endpoint and implements selection.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	order     []string
	rrIndex   int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{endpoints: make(map[string]*Endpoint)}
}

// Register adds an endpoint. Re-registering a name replaces its
// configuration but is intended only for startup wiring.
func (r *Registry) Register(cfg EndpointConfig) (*Endpoint, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("laju: endpoint name is required")
	}
	ep := newEndpoint(cfg)

	r.mu.Lock()
	if _, exists := r.endpoints[cfg.Name]; !exists {
		r.order = append(r.order, cfg.Name)
	}
	r.endpoints[cfg.Name] = ep
	r.mu.Unlock()
	return ep, nil
}

// Get returns the endpoint with the given name.
func (r *Registry) Get(name string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

// All returns every registered endpoint in registration order.
func (r *Registry) All() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Endpoint, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.endpoints[name])
	}
	return out
}

// Available returns the endpoints currently eligible for selection.
func (r *Registry) Available() []*Endpoint {
	var out []*Endpoint
	for _, ep := range r.All() {
		if ep.Available() {
			out = append(out, ep)
		}
	}
	return out
}

// Select resolves a Request.Selector to an endpoint. Selection fails
// explicitly: a named endpoint with an open circuit yields ErrCircuitOpen,
// and a strategy over zero available endpoints yields ErrNoAvailableEndpoint.
// There is no silent fallback.
func (r *Registry) Select(selector string) (*Endpoint, error) {
	switch selector {
	case SelectRoundRobin:
		return r.selectRoundRobin()
	case SelectRandom:
		return r.selectRandom()
	case SelectHealthBased, "":
		return r.selectHealthBased()
	default:
		return r.selectNamed(selector)
	}
}

func (r *Registry) selectNamed(name string) (*Endpoint, error) {
	ep, ok := r.Get(name)
	if !ok {
		return nil, ErrNoAvailableEndpoint
	}
	if !ep.Enabled() {
		return nil, ErrNoAvailableEndpoint
	}
	if !ep.breaker.Ready() {
		return nil, ErrCircuitOpen
	}
	return ep, nil
}

func (r *Registry) selectRoundRobin() (*Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.order)
	if n == 0 {
		return nil, ErrNoAvailableEndpoint
	}
	for i := 0; i < n; i++ {
		name := r.order[r.rrIndex%n]
		r.rrIndex++
		ep := r.endpoints[name]
		if ep.Available() {
			return ep, nil
		}
	}
	return nil, ErrNoAvailableEndpoint
}

func (r *Registry) selectRandom() (*Endpoint, error) {
	available := r.Available()
	if len(available) == 0 {
		return nil, ErrNoAvailableEndpoint
	}
	return available[rand.Intn(len(available))], nil
}

// selectHealthBased sorts available endpoints by ascending recent-failure
// count, then by descending configured priority, then by ascending probe
// latency.
func (r *Registry) selectHealthBased() (*Endpoint, error) {
	available := r.Available()
	if len(available) == 0 {
		return nil, ErrNoAvailableEndpoint
	}

	sort.SliceStable(available, func(i, j int) bool {
		fi, fj := available[i].breaker.Failures(), available[j].breaker.Failures()
		if fi != fj {
			return fi < fj
		}
		pi, pj := available[i].config.Priority, available[j].config.Priority
		if pi != pj {
			return pi > pj
		}
		return available[i].ProbeLatency() < available[j].ProbeLatency()
	})
	return available[0], nil
}

// Statuses returns a point-in-time view of every endpoint.
func (r *Registry) Statuses() []EndpointStatus {
	all := r.All()
	out := make([]EndpointStatus, 0, len(all))
	for _, ep := range all {
		out = append(out, EndpointStatus{
			Name:         ep.Name(),
			Enabled:      ep.Enabled(),
			CircuitState: ep.breaker.State(),
			Failures:     ep.breaker.Failures(),
			ProbeLatency: ep.ProbeLatency(),
		})
	}
	return out
}
