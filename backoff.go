package laju

import (
	"context"
	"sync"
	"time"
)

// BackoffController tracks consecutive-failure state and enforces a global
// suspension window that grows exponentially with each failure up to a hard
// ceiling: min(base * 2^(N-1), ceiling). A single success resets everything.
// It protects shared transport capacity even when individual endpoints have
// separate breakers.
type BackoffController struct {
	base    time.Duration
	ceiling time.Duration

	mu          sync.Mutex
	failures    int
	until       time.Time
	lastFailure time.Time

	onActivate func(failures int, window time.Duration)
	onReset    func()
}

// NewBackoffController creates a controller, applying defaults for zero fields.
func NewBackoffController(base, ceiling time.Duration) *BackoffController {
	if base <= 0 {
		base = 5 * time.Second
	}
	if ceiling <= 0 {
		ceiling = 60 * time.Second
	}
	return &BackoffController{base: base, ceiling: ceiling}
}

// Window returns the suspension duration for the nth consecutive failure.
func (b *BackoffController) Window(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	// Shift overflows past 62 bits; anything near that is beyond any
	// realistic ceiling already.
	if n > 32 {
		return b.ceiling
	}
	d := b.base << (n - 1)
	if d <= 0 || d > b.ceiling {
		return b.ceiling
	}
	return d
}

// RecordFailure increments the consecutive-failure count and arms the
// suspension window.
func (b *BackoffController) RecordFailure() {
	b.mu.Lock()
	now := time.Now()
	b.failures++
	b.lastFailure = now
	window := b.Window(b.failures)
	b.until = now.Add(window)
	notify := b.onActivate
	failures := b.failures
	b.mu.Unlock()

	if notify != nil {
		notify(failures, window)
	}
}

// RecordSuccess resets the failure count to zero and clears any suspension
// immediately.
func (b *BackoffController) RecordSuccess() {
	b.mu.Lock()
	wasActive := b.failures > 0 || time.Now().Before(b.until)
	b.failures = 0
	b.until = time.Time{}
	notify := b.onReset
	b.mu.Unlock()

	if wasActive && notify != nil {
		notify()
	}
}

// IsSuspended reports whether the suspension window is active.
func (b *BackoffController) IsSuspended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Now().Before(b.until)
}

// Remaining returns how long the current suspension has left, or zero.
func (b *BackoffController) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := time.Until(b.until)
	if r < 0 {
		return 0
	}
	return r
}

// Failures returns the consecutive-failure count.
func (b *BackoffController) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// WaitIfSuspended blocks until the suspension window elapses or ctx is done.
func (b *BackoffController) WaitIfSuspended(ctx context.Context) error {
	remaining := b.Remaining()
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
