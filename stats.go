package laju

import (
	"sync/atomic"
	"time"
)

// Statistics tracks monotonic request counters and a rolling average latency.
// Counters are reset on a fixed cadence when the coordinator is configured
// with WithStatsResetInterval; external monitors read them via Snapshot.
type Statistics struct {
	total        atomic.Int64
	successful   atomic.Int64
	failed       atomic.Int64
	cached       atomic.Int64
	deduplicated atomic.Int64
	rateLimited  atomic.Int64
	retries      atomic.Int64

	latencyTotal atomic.Int64 // nanoseconds
	latencyCount atomic.Int64

	lastReset atomic.Int64 // unix nanos
}

// NewStatistics returns zeroed statistics.
func NewStatistics() *Statistics {
	s := &Statistics{}
	s.lastReset.Store(time.Now().UnixNano())
	return s
}

func (s *Statistics) recordTotal()        { s.total.Add(1) }
func (s *Statistics) recordCached()       { s.cached.Add(1) }
func (s *Statistics) recordDeduplicated() { s.deduplicated.Add(1) }
func (s *Statistics) recordRateLimited()  { s.rateLimited.Add(1) }
func (s *Statistics) recordRetry()        { s.retries.Add(1) }

func (s *Statistics) recordSuccess(latency time.Duration) {
	s.successful.Add(1)
	s.latencyTotal.Add(int64(latency))
	s.latencyCount.Add(1)
}

func (s *Statistics) recordFailure(latency time.Duration) {
	s.failed.Add(1)
	s.latencyTotal.Add(int64(latency))
	s.latencyCount.Add(1)
}

// recordRejected counts failures that never reached the transport (circuit
// open, suspension, no endpoint) without polluting the latency average.
func (s *Statistics) recordRejected() {
	s.failed.Add(1)
}

// AverageLatency returns the mean latency of completed attempts since the
// last reset.
func (s *Statistics) AverageLatency() time.Duration {
	count := s.latencyCount.Load()
	if count == 0 {
		return 0
	}
	return time.Duration(s.latencyTotal.Load() / count)
}

// HitRate returns the fraction of requests served from cache since the last
// reset.
func (s *Statistics) HitRate() float64 {
	total := s.total.Load()
	if total == 0 {
		return 0
	}
	return float64(s.cached.Load()) / float64(total)
}

// Reset zeroes all counters.
func (s *Statistics) Reset() {
	s.total.Store(0)
	s.successful.Store(0)
	s.failed.Store(0)
	s.cached.Store(0)
	s.deduplicated.Store(0)
	s.rateLimited.Store(0)
	s.retries.Store(0)
	s.latencyTotal.Store(0)
	s.latencyCount.Store(0)
	s.lastReset.Store(time.Now().UnixNano())
}

// LastReset returns when the counters were last zeroed.
func (s *Statistics) LastReset() time.Time {
	return time.Unix(0, s.lastReset.Load())
}

// Totals is the counter section of a Snapshot.
type Totals struct {
	Total        int64
	Successful   int64
	Failed       int64
	Cached       int64
	Deduplicated int64
	RateLimited  int64
	Retries      int64
}

// Snapshot is a point-in-time view of coordinator state for monitoring
// collaborators.
type Snapshot struct {
	Totals     Totals
	AvgLatency time.Duration
	LastReset  time.Time

	Cache struct {
		Size    int
		HitRate float64
	}

	Backoff struct {
		Active    bool
		Failures  int
		Remaining time.Duration
	}

	Queue struct {
		Length   int
		Active   int
		Capacity int
	}

	Endpoints []EndpointStatus
}
