package laju

import (
	"container/heap"
	"context"
	"sync"
)

// AdmissionQueue bounds the number of concurrently in-flight transport calls.
// Waiters are served strictly by descending priority, FIFO within a priority
// band. Every Acquire must be paired with exactly one Release on a guaranteed
// cleanup path; the slot transfer on Release keeps the in-flight count at the
// cap under contention.
type AdmissionQueue struct {
	mu       sync.Mutex
	capacity int
	active   int
	waiters  waiterHeap
	seq      uint64
	closed   bool
}

type admissionWaiter struct {
	priority int
	seq      uint64
	ready    chan struct{}
	granted  bool
	err      error
	index    int
}

// NewAdmissionQueue creates a queue with the given concurrency cap.
func NewAdmissionQueue(capacity int) *AdmissionQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &AdmissionQueue{capacity: capacity}
}

// Acquire blocks until a slot is free, the queue is closed, or ctx is done.
func (q *AdmissionQueue) Acquire(ctx context.Context, priority int) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrStopped
	}
	if q.active < q.capacity {
		q.active++
		q.mu.Unlock()
		return nil
	}

	w := &admissionWaiter{
		priority: priority,
		seq:      q.seq,
		ready:    make(chan struct{}),
	}
	q.seq++
	heap.Push(&q.waiters, w)
	q.mu.Unlock()

	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
		q.mu.Lock()
		if w.granted {
			// Lost the race: the grant landed while we were cancelling. If it
			// carried a slot (not a Close error), give the slot back so it is
			// not leaked.
			if w.err == nil {
				q.releaseLocked()
			}
			q.mu.Unlock()
			return ctx.Err()
		}
		heap.Remove(&q.waiters, w.index)
		q.mu.Unlock()
		return ctx.Err()
	}
}

// Release frees a slot, handing it to the highest-priority waiter if any.
func (q *AdmissionQueue) Release() {
	q.mu.Lock()
	q.releaseLocked()
	q.mu.Unlock()
}

func (q *AdmissionQueue) releaseLocked() {
	if q.waiters.Len() > 0 && !q.closed && q.active <= q.capacity {
		w := heap.Pop(&q.waiters).(*admissionWaiter)
		w.granted = true
		close(w.ready)
		return
	}
	if q.active > 0 {
		q.active--
	}
}

// SetCapacity retunes the concurrency cap, granting freed headroom to waiters.
func (q *AdmissionQueue) SetCapacity(capacity int) {
	if capacity <= 0 {
		return
	}
	q.mu.Lock()
	q.capacity = capacity
	for q.active < q.capacity && q.waiters.Len() > 0 {
		w := heap.Pop(&q.waiters).(*admissionWaiter)
		w.granted = true
		q.active++
		close(w.ready)
	}
	q.mu.Unlock()
}

// Close drains the queue: every waiter is released with ErrStopped and all
// future Acquires fail immediately. In-flight slots drain via Release.
func (q *AdmissionQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for q.waiters.Len() > 0 {
		w := heap.Pop(&q.waiters).(*admissionWaiter)
		w.granted = true
		w.err = ErrStopped
		close(w.ready)
	}
	q.mu.Unlock()
}

// Len returns the number of queued waiters.
func (q *AdmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters.Len()
}

// Active returns the number of slots currently held.
func (q *AdmissionQueue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Capacity returns the current concurrency cap.
func (q *AdmissionQueue) Capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// waiterHeap orders by descending priority, then ascending arrival sequence.
type waiterHeap []*admissionWaiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x any) {
	w := x.(*admissionWaiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return w
}
