package laju

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds per-endpoint breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before permitting one trial.
	Cooldown time.Duration
}

// CircuitBreaker is a per-endpoint failure-isolation state machine. A success
// while CLOSED decrements (rather than zeroes) the failure counter so
// intermittent failures do not permanently bias the breaker. In HALF_OPEN
// exactly one trial call is admitted; its outcome decides the next state.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         CircuitState
	failures      int
	openUntil     time.Time
	lastFailure   time.Time
	trialInFlight bool

	onStateChange func(from, to CircuitState, failures int)
}

// NewCircuitBreaker creates a breaker, applying defaults for zero fields.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown == 0 {
		config.Cooldown = 60 * time.Second
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Allow reports whether a call may proceed, consuming the half-open trial
// slot when applicable.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Now().Before(cb.openUntil) {
			return false
		}
		cb.state = StateHalfOpen
		cb.trialInFlight = true
		return true
	case StateHalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	default:
		return false
	}
}

// Ready reports whether a call could proceed right now without consuming the
// half-open trial slot. Used by endpoint selection, which must not claim the
// trial before the dispatch path commits to the endpoint.
func (cb *CircuitBreaker) Ready() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return !time.Now().Before(cb.openUntil)
	case StateHalfOpen:
		return !cb.trialInFlight
	default:
		return false
	}
}

// CancelTrial releases the half-open trial slot without recording an outcome.
// Called when a claimed trial is aborted before the transport is reached,
// e.g. a rate-gate wait cancelled by the caller's context. The abort says
// nothing about endpoint health, so the breaker stays HALF_OPEN and the next
// call may claim the trial. No-op in any other state.
func (cb *CircuitBreaker) CancelTrial() {
	cb.mu.Lock()
	if cb.state == StateHalfOpen && cb.trialInFlight {
		cb.trialInFlight = false
	}
	cb.mu.Unlock()
}

// RecordFailure notes a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	now := time.Now()
	cb.lastFailure = now
	cb.failures++

	var transition func()
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.openUntil = now.Add(cb.config.Cooldown)
			transition = cb.notify(StateClosed, StateOpen, cb.failures)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openUntil = now.Add(cb.config.Cooldown)
		cb.trialInFlight = false
		transition = cb.notify(StateHalfOpen, StateOpen, cb.failures)
	case StateOpen:
		// Already open; extend nothing, the cooldown stands.
	}
	cb.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var transition func()
	switch cb.state {
	case StateClosed:
		if cb.failures > 0 {
			cb.failures--
		}
	case StateHalfOpen:
		cb.state = StateClosed
		cb.failures = 0
		cb.trialInFlight = false
		transition = cb.notify(StateHalfOpen, StateClosed, 0)
	case StateOpen:
		// A success cannot be observed while open; ignore.
	}
	cb.mu.Unlock()

	if transition != nil {
		transition()
	}
}

// notify captures the callback outside the lock. Caller invokes the returned
// func after unlocking.
func (cb *CircuitBreaker) notify(from, to CircuitState, failures int) func() {
	if cb.onStateChange == nil {
		return nil
	}
	fn := cb.onStateChange
	return func() { fn(from, to, failures) }
}

// State returns the current state without side effects; the OPEN to
// HALF_OPEN promotion only happens in Allow.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
