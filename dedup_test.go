package laju

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeduplicatorCoalescesConcurrentCallers(t *testing.T) {
	d := NewDeduplicator()

	var invocations int64
	factory := func() (*Result, error) {
		atomic.AddInt64(&invocations, 1)
		time.Sleep(200 * time.Millisecond)
		return &Result{Data: "payload", Endpoint: "primary"}, nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	shared := make([]bool, callers)
	errs := make([]error, callers)

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			results[n], errs[n], shared[n] = d.Coalesce(context.Background(), "key", factory)
		}(i)
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt64(&invocations); got != 1 {
		t.Fatalf("expected exactly 1 upstream invocation, got %d", got)
	}

	owners := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i].Data != "payload" {
			t.Errorf("caller %d got %v", i, results[i].Data)
		}
		if !shared[i] {
			owners++
		}
	}
	if owners != 1 {
		t.Errorf("expected exactly one owner, got %d", owners)
	}
}

func TestDeduplicatorSharesErrors(t *testing.T) {
	d := NewDeduplicator()
	boom := errors.New("upstream exploded")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n], _ = d.Coalesce(context.Background(), "key", func() (*Result, error) {
				time.Sleep(50 * time.Millisecond)
				return nil, boom
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Errorf("caller %d: expected the shared error, got %v", i, err)
		}
	}
}

func TestDeduplicatorKeyExpiresOnCompletion(t *testing.T) {
	d := NewDeduplicator()

	var invocations int64
	factory := func() (*Result, error) {
		atomic.AddInt64(&invocations, 1)
		return &Result{Data: "v"}, nil
	}

	if _, err, _ := d.Coalesce(context.Background(), "key", factory); err != nil {
		t.Fatal(err)
	}
	if _, err, _ := d.Coalesce(context.Background(), "key", factory); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt64(&invocations); got != 2 {
		t.Errorf("sequential calls should each execute, got %d invocations", got)
	}
	if d.InFlight() != 0 {
		t.Errorf("no keys should remain in flight, got %d", d.InFlight())
	}
}

func TestDeduplicatorWaiterCancellation(t *testing.T) {
	d := NewDeduplicator()

	release := make(chan struct{})
	ownerDone := make(chan struct{})
	go func() {
		defer close(ownerDone)
		d.Coalesce(context.Background(), "key", func() (*Result, error) {
			<-release
			return &Result{Data: "late"}, nil
		})
	}()

	deadline := time.Now().Add(time.Second)
	for d.InFlight() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err, shared := d.Coalesce(ctx, "key", func() (*Result, error) {
		t.Error("waiter must not execute the factory")
		return nil, nil
	})
	if err != context.DeadlineExceeded {
		t.Errorf("expected deadline error for the cancelled waiter, got %v", err)
	}
	if !shared {
		t.Error("cancelled waiter was attached to the owner's call")
	}

	// The owner is unaffected by the waiter's cancellation.
	close(release)
	select {
	case <-ownerDone:
	case <-time.After(time.Second):
		t.Fatal("owner did not complete")
	}
}

func TestDefaultDedupKeyDeterministic(t *testing.T) {
	a := DefaultDedupKey("strategy:health", "price-feed", "SOL", "USDC")
	b := DefaultDedupKey("strategy:health", "price-feed", "SOL", "USDC")
	if a != b {
		t.Errorf("identical inputs must produce identical keys: %q vs %q", a, b)
	}

	c := DefaultDedupKey("strategy:health", "price-feed", "SOL", "USDT")
	if a == c {
		t.Error("different params should not collide")
	}
	// Parameter boundaries matter: ("ab","c") != ("a","bc").
	if DefaultDedupKey("s", "src", "ab", "c") == DefaultDedupKey("s", "src", "a", "bc") {
		t.Error("parameter boundaries must be part of the key")
	}
}
