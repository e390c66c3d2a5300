// Package singleflight coalesces concurrent calls that share a key so at
// most one execution is in flight per key at any instant. Waiters are
// context-aware; the owner always runs to completion so one caller's
// cancellation never aborts work other callers are waiting on.
package singleflight

import (
	"context"
	"sync"
)

// Group manages a set of in-flight calls keyed by string.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

// call represents an active or completed function call.
type call struct {
	done chan struct{}
	val  any
	err  error
}

// New creates a new Group.
func New() *Group {
	return &Group{m: make(map[string]*call)}
}

// Do executes fn exactly once per key among concurrent callers. The first
// caller for an unseen key becomes the owner and runs fn; every caller that
// arrives before the owner completes waits for the owner's result. shared is
// true for waiters. The key is removed on completion so a later call
// re-triggers work.
func (g *Group) Do(ctx context.Context, key string, fn func() (any, error)) (v any, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, c.err, true
		case <-ctx.Done():
			return nil, ctx.Err(), true
		}
	}

	c := &call{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
	close(c.done)

	return c.val, c.err, false
}

// TryDo executes fn only if no call with the same key is in progress. When
// another call is in flight it returns immediately with ErrInProgress and
// executed=false. Useful for non-blocking work such as health probes.
func (g *Group) TryDo(key string, fn func() (any, error)) (v any, err error, executed bool) {
	g.mu.Lock()
	if _, ok := g.m[key]; ok {
		g.mu.Unlock()
		return nil, ErrInProgress, false
	}

	c := &call{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
	close(c.done)

	return c.val, c.err, true
}

// Forget removes key so future calls execute even if a previous call is
// still in progress. Use with care; it breaks the one-in-flight invariant.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// InFlight reports the number of keys currently executing.
func (g *Group) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
