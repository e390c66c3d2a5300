package laju

import (
	"context"
	"testing"
	"time"
)

func TestBackoffWindowDoubles(t *testing.T) {
	b := NewBackoffController(5*time.Second, 60*time.Second)

	tests := []struct {
		failures int
		want     time.Duration
	}{
		{0, 0},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 60 * time.Second}, // 80s capped at the ceiling
		{6, 60 * time.Second},
		{40, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Window(tt.failures); got != tt.want {
			t.Errorf("Window(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

func TestBackoffSuspendsOnFailure(t *testing.T) {
	b := NewBackoffController(50*time.Millisecond, time.Second)

	if b.IsSuspended() {
		t.Fatal("fresh controller should not be suspended")
	}

	b.RecordFailure()
	if !b.IsSuspended() {
		t.Fatal("controller should be suspended after failure")
	}
	if got := b.Failures(); got != 1 {
		t.Errorf("expected 1 failure, got %d", got)
	}
	if rem := b.Remaining(); rem <= 0 || rem > 50*time.Millisecond {
		t.Errorf("remaining out of range: %v", rem)
	}

	time.Sleep(60 * time.Millisecond)
	if b.IsSuspended() {
		t.Error("suspension should lapse after the window")
	}
	// The failure count persists until a success resets it.
	if got := b.Failures(); got != 1 {
		t.Errorf("failure count should survive the window, got %d", got)
	}
}

func TestBackoffSuccessResets(t *testing.T) {
	b := NewBackoffController(time.Second, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	if b.IsSuspended() {
		t.Error("success should clear the suspension immediately")
	}
	if got := b.Failures(); got != 0 {
		t.Errorf("success should zero the failure count, got %d", got)
	}
	if rem := b.Remaining(); rem != 0 {
		t.Errorf("expected zero remaining, got %v", rem)
	}
}

func TestBackoffCallbacks(t *testing.T) {
	b := NewBackoffController(10*time.Second, time.Minute)

	var activations []time.Duration
	resets := 0
	b.onActivate = func(failures int, window time.Duration) {
		activations = append(activations, window)
	}
	b.onReset = func() { resets++ }

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordSuccess() // already reset, no second callback

	if len(activations) != 2 || activations[0] != 10*time.Second || activations[1] != 20*time.Second {
		t.Errorf("unexpected activations: %v", activations)
	}
	if resets != 1 {
		t.Errorf("expected 1 reset callback, got %d", resets)
	}
}

func TestBackoffWaitIfSuspended(t *testing.T) {
	b := NewBackoffController(50*time.Millisecond, time.Second)
	b.RecordFailure()

	start := time.Now()
	if err := b.WaitIfSuspended(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("wait returned too early: %v", elapsed)
	}
}

func TestBackoffWaitHonorsContext(t *testing.T) {
	b := NewBackoffController(10*time.Second, time.Minute)
	b.RecordFailure()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := b.WaitIfSuspended(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline error, got %v", err)
	}
}
