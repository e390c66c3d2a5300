package laju

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateGate is a blocking token-bucket gate in front of one endpoint (or the
// shared transport, for the global gate). Acquire suspends the caller until a
// slot is available; waiters are served fairly in arrival order. It never
// fails except on context cancellation.
type RateGate struct {
	name string

	mu      sync.RWMutex
	limiter *rate.Limiter
}

// NewRateGate builds a gate admitting requests per interval with the given
// burst ceiling. A burst of zero defaults to 1.
func NewRateGate(name string, requests int, interval time.Duration, burst int) *RateGate {
	if requests <= 0 {
		requests = 1
	}
	if interval <= 0 {
		interval = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(float64(requests) / interval.Seconds())
	return &RateGate{
		name:    name,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// NewUnlimitedRateGate builds a gate that admits everything immediately.
// Used as the global gate until UpdateRateLimiting arms a real limit.
func NewUnlimitedRateGate(name string) *RateGate {
	return &RateGate{
		name:    name,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
}

// Acquire blocks until a token is available or ctx is done.
func (g *RateGate) Acquire(ctx context.Context) error {
	g.mu.RLock()
	limiter := g.limiter
	g.mu.RUnlock()
	return limiter.Wait(ctx)
}

// Allow reports whether a token is immediately available, consuming it if so.
func (g *RateGate) Allow() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limiter.Allow()
}

// SetRate retunes the gate at runtime.
func (g *RateGate) SetRate(requests int, interval time.Duration, burst int) {
	if requests <= 0 || interval <= 0 {
		return
	}
	if burst <= 0 {
		burst = 1
	}
	g.mu.Lock()
	g.limiter.SetLimit(rate.Limit(float64(requests) / interval.Seconds()))
	g.limiter.SetBurst(burst)
	g.mu.Unlock()
}

// Tokens returns the number of tokens currently available.
func (g *RateGate) Tokens() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limiter.Tokens()
}

// Name returns the gate's identifier, used as a metrics label.
func (g *RateGate) Name() string {
	return g.name
}
