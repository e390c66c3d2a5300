// Package laju coordinates outbound requests to unreliable, rate-limited
// upstream data providers. It sits between application logic and a set of
// HTTP(S) endpoints and keeps aggregate request volume, concurrency and
// failure behavior within safe bounds while maximizing useful throughput:
//
//   - Per-endpoint token-bucket rate limiting with fair blocking acquisition
//   - Response caching with TTL and a bounded, age-evicted store
//   - Request de-duplication (at most one in-flight call per key)
//   - Per-endpoint circuit breaking (closed / open / half-open)
//   - Global exponential backoff with a hard ceiling
//   - Bounded in-flight concurrency with priority-ordered admission
//   - Endpoint registry with periodic health probing and pluggable selection
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - One Coordinator per process, constructed explicitly and shared by handle
//   - Safe concurrent use of a single *Coordinator instance
//   - Transport is injected; the library owns no wire format
//
// Typical usage:
//
//	coord := laju.New(
//	    laju.WithEndpoints(endpoints...),
//	    laju.WithMaxConcurrent(8),
//	    laju.WithCache(30*time.Second, 10000),
//	    laju.WithBackoff(5*time.Second, time.Minute),
//	)
//	res, err := coord.Execute(ctx, laju.Request{
//	    Selector: laju.SelectHealthBased,
//	    Fetch:    fetchTickerPrice,
//	    Source:   "detector",
//	    DedupKey: "ticker:SOL",
//	})
//
// Failures are structured, never fatal: callers receive a *RequestError and
// are expected to treat failure as "data unavailable now". The coordinator
// never terminates the process on upstream failure.
package laju
