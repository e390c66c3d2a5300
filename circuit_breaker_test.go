package laju

import (
	"sync"
	"testing"
	"time"
)

func TestCircuitBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 5, Cooldown: time.Minute})

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		if cb.State() != StateClosed {
			t.Fatalf("breaker opened after %d failures, threshold is 5", i+1)
		}
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected OPEN after 5th failure, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker should reject calls")
	}
}

func TestCircuitBreakerSuccessDecrementsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 5, Cooldown: time.Minute})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	if got := cb.Failures(); got != 2 {
		t.Errorf("expected failures decremented to 2, got %d", got)
	}

	// Alternating failures and successes never reach the threshold.
	for i := 0; i < 20; i++ {
		cb.RecordFailure()
		cb.RecordSuccess()
	}
	if cb.State() != StateClosed {
		t.Errorf("breaker should stay CLOSED under alternating outcomes, got %v", cb.State())
	}
}

func TestCircuitBreakerHalfOpenAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 30 * time.Millisecond})

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(40 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected the half-open trial to be admitted after cooldown")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %v", cb.State())
	}
	// Only one trial is admitted while the first is outstanding.
	if cb.Allow() {
		t.Error("second call during half-open trial should be rejected")
	}
}

func TestCircuitBreakerTrialSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("trial should be admitted")
	}

	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected CLOSED after trial success, got %v", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("failure count should reset on close, got %d", cb.Failures())
	}
	if !cb.Allow() {
		t.Error("closed breaker should admit calls")
	}
}

func TestCircuitBreakerTrialFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 50 * time.Millisecond})

	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("trial should be admitted")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("expected OPEN after trial failure, got %v", cb.State())
	}
	if cb.Allow() {
		t.Error("reopened breaker should reject calls during the fresh cooldown")
	}
}

func TestCircuitBreakerCancelTrialReleasesSlot(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("trial should be admitted")
	}

	// The claimed trial is aborted before any outcome is observed.
	cb.CancelTrial()

	if cb.State() != StateHalfOpen {
		t.Fatalf("cancel must not change the state, got %v", cb.State())
	}
	if !cb.Ready() {
		t.Fatal("cancelled trial should free the slot")
	}
	if !cb.Allow() {
		t.Fatal("next call should be able to claim the trial")
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Fatalf("expected CLOSED after the retried trial, got %v", cb.State())
	}

	// No effect outside an in-flight trial.
	cb.CancelTrial()
	if cb.State() != StateClosed {
		t.Errorf("cancel in CLOSED should be a no-op, got %v", cb.State())
	}
}

func TestCircuitBreakerReadyDoesNotConsumeTrial(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.Ready() {
		t.Fatal("breaker should report ready after cooldown")
	}
	if cb.State() != StateOpen {
		t.Errorf("Ready must not promote the state, got %v", cb.State())
	}
	// The trial is still available for Allow.
	if !cb.Allow() {
		t.Error("Allow should still claim the trial after Ready")
	}
	if cb.Ready() {
		t.Error("Ready should report false while the trial is in flight")
	}
}

func TestCircuitBreakerStateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Cooldown: 10 * time.Millisecond})

	type change struct{ from, to CircuitState }
	var mu sync.Mutex
	var changes []change
	cb.onStateChange = func(from, to CircuitState, failures int) {
		mu.Lock()
		changes = append(changes, change{from, to})
		mu.Unlock()
	}

	cb.RecordFailure()
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow()
	cb.RecordSuccess()

	mu.Lock()
	defer mu.Unlock()
	want := []change{
		{StateClosed, StateOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %v", len(want), len(changes), changes)
	}
	for i, w := range want {
		if changes[i] != w {
			t.Errorf("transition %d: expected %v->%v, got %v->%v",
				i, w.from, w.to, changes[i].from, changes[i].to)
		}
	}
}

func TestCircuitBreakerConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 100, Cooldown: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if n%2 == 0 {
					cb.RecordFailure()
				} else {
					cb.RecordSuccess()
				}
				cb.Allow()
				cb.State()
			}
		}(i)
	}
	wg.Wait()
}
