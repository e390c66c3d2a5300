package laju

import (
	"context"
	"time"
)

// FetchFunc performs the actual upstream call against the selected endpoint.
// It is injected per request; the coordinator owns no wire format. The
// context carries the endpoint's configured timeout. Return a *StatusError
// (possibly wrapped) for non-2xx responses so the classifier can see the
// status code.
type FetchFunc func(ctx context.Context, endpoint *Endpoint) (any, error)

// Request describes one caller-initiated unit of work.
type Request struct {
	// Selector picks the endpoint: an endpoint name for a pinned request, or
	// one of the Select* strategy constants.
	Selector string

	// Fetch is the injected transport call. Required.
	Fetch FetchFunc

	// Source identifies the calling subsystem for logging and metrics.
	Source string

	// Priority orders waiters in the admission queue. Higher is served first;
	// ties break by arrival order. Zero is a valid (lowest) priority.
	Priority int

	// MaxRetries bounds local retries of rate-limited and timed-out attempts.
	// Negative means "use the coordinator default".
	MaxRetries int

	// CacheTTL overrides the coordinator's default TTL for this request's
	// cached result. Zero means default; negative disables caching.
	CacheTTL time.Duration

	// DedupKey folds concurrent identical requests and doubles as the cache
	// key. Empty derives a key from Selector and Source via DefaultDedupKey,
	// which cannot tell two different fetch closures apart; for that reason
	// an explicit key is required whenever the result will be cached, and
	// recommended whenever the fetch closure captures parameters.
	DedupKey string
}

// Result is the structured outcome of a successful Execute call.
type Result struct {
	Data      any
	Cached    bool
	Shared    bool // resolved by another caller's in-flight request
	Endpoint  string
	RequestID string
	Timestamp time.Time
	Duration  time.Duration
}

// SelectionStrategy constants accepted as Request.Selector.
const (
	// SelectRoundRobin rotates through available endpoints.
	SelectRoundRobin = "strategy:round_robin"
	// SelectRandom picks a random available endpoint.
	SelectRandom = "strategy:random"
	// SelectHealthBased picks the available endpoint with the fewest recent
	// failures, breaking ties by probe latency.
	SelectHealthBased = "strategy:health"
)

// EventType identifies a lifecycle event emitted for observability collaborators.
type EventType string

const (
	EventCircuitOpened    EventType = "circuit_opened"
	EventCircuitClosed    EventType = "circuit_closed"
	EventBackoffActivated EventType = "backoff_activated"
	EventBackoffReset     EventType = "backoff_reset"
	EventCacheCleared     EventType = "cache_cleared"
)

// Event is delivered to registered listeners. Endpoint is empty for global
// events (backoff, cache).
type Event struct {
	Type      EventType
	Endpoint  string
	Failures  int
	Cooldown  time.Duration
	Timestamp time.Time
}

// EventListener receives lifecycle events. Listeners must not block; they are
// invoked inline on the mutating path.
type EventListener func(Event)
