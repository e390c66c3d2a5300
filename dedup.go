package laju

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/ambiyansyah-risyal/laju/internal/singleflight"
)

// Deduplicator coalesces concurrent requests sharing a deduplication key so
// at most one upstream call per key is in flight at any instant. The owner's
// call runs to completion regardless of waiter cancellation.
type Deduplicator struct {
	group *singleflight.Group
}

// NewDeduplicator returns an in-memory deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{group: singleflight.New()}
}

// Coalesce runs factory for the first caller of key and shares its outcome
// with every caller that arrives before completion. shared is true for
// callers that received another request's outcome.
func (d *Deduplicator) Coalesce(ctx context.Context, key string, factory func() (*Result, error)) (res *Result, err error, shared bool) {
	v, err, shared := d.group.Do(ctx, key, func() (any, error) {
		return factory()
	})
	if v == nil {
		return nil, err, shared
	}
	return v.(*Result), err, shared
}

// InFlight reports the number of keys currently executing.
func (d *Deduplicator) InFlight() int {
	return d.group.InFlight()
}

// DefaultDedupKey builds a deterministic fingerprint from the endpoint
// selector, source and any request parameters. Two requests with identical
// inputs always produce the same key.
func DefaultDedupKey(selector, source string, params ...string) string {
	h := fnv.New64a()
	h.Write([]byte(selector))
	h.Write([]byte{0})
	h.Write([]byte(source))
	for _, p := range params {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%x", h.Sum64())
}
