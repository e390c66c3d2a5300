package laju

import (
	"errors"
	"testing"
	"time"
)

func testRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	r := NewRegistry()
	for i, name := range names {
		_, err := r.Register(EndpointConfig{
			Name:      name,
			BaseURL:   "https://" + name + ".example.com",
			RateLimit: 100,
			Priority:  i,
		})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return r
}

func TestRegistryRegisterRequiresName(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(EndpointConfig{BaseURL: "https://x"}); err == nil {
		t.Error("expected error for nameless endpoint")
	}
}

func TestRegistryNamedSelection(t *testing.T) {
	r := testRegistry(t, "alpha", "beta")

	ep, err := r.Select("beta")
	if err != nil {
		t.Fatal(err)
	}
	if ep.Name() != "beta" {
		t.Errorf("expected beta, got %s", ep.Name())
	}

	if _, err := r.Select("gamma"); !errors.Is(err, ErrNoAvailableEndpoint) {
		t.Errorf("unknown name should fail explicitly, got %v", err)
	}
}

func TestRegistryNamedSelectionOpenCircuit(t *testing.T) {
	r := testRegistry(t, "alpha")
	ep, _ := r.Get("alpha")
	ep.Breaker().RecordFailure()
	ep.Breaker().RecordFailure()
	ep.Breaker().RecordFailure()
	ep.Breaker().RecordFailure()
	ep.Breaker().RecordFailure()

	if _, err := r.Select("alpha"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("named endpoint with open circuit should yield ErrCircuitOpen, got %v", err)
	}
}

func TestRegistryDisabledEndpoint(t *testing.T) {
	r := testRegistry(t, "alpha")
	ep, _ := r.Get("alpha")
	ep.SetEnabled(false)

	if _, err := r.Select("alpha"); !errors.Is(err, ErrNoAvailableEndpoint) {
		t.Errorf("disabled endpoint should be unavailable, got %v", err)
	}
	if len(r.Available()) != 0 {
		t.Error("disabled endpoint should not appear in Available")
	}

	ep.SetEnabled(true)
	if _, err := r.Select("alpha"); err != nil {
		t.Errorf("re-enabled endpoint should select, got %v", err)
	}
}

func TestRegistryRoundRobinRotates(t *testing.T) {
	r := testRegistry(t, "a", "b", "c")

	var got []string
	for i := 0; i < 6; i++ {
		ep, err := r.Select(SelectRoundRobin)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, ep.Name())
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation %v, want %v", got, want)
		}
	}
}

func TestRegistryRoundRobinSkipsUnavailable(t *testing.T) {
	r := testRegistry(t, "a", "b", "c")
	ep, _ := r.Get("b")
	ep.SetEnabled(false)

	for i := 0; i < 4; i++ {
		selected, err := r.Select(SelectRoundRobin)
		if err != nil {
			t.Fatal(err)
		}
		if selected.Name() == "b" {
			t.Fatal("disabled endpoint must never be selected")
		}
	}
}

func TestRegistrySelectionFailsWithZeroAvailable(t *testing.T) {
	for _, selector := range []string{SelectRoundRobin, SelectRandom, SelectHealthBased} {
		r := testRegistry(t, "a")
		ep, _ := r.Get("a")
		ep.SetEnabled(false)

		if _, err := r.Select(selector); !errors.Is(err, ErrNoAvailableEndpoint) {
			t.Errorf("%s over zero available endpoints: got %v", selector, err)
		}
	}

	empty := NewRegistry()
	if _, err := empty.Select(SelectRoundRobin); !errors.Is(err, ErrNoAvailableEndpoint) {
		t.Errorf("empty registry: got %v", err)
	}
}

func TestRegistryRandomSelectsAvailable(t *testing.T) {
	r := testRegistry(t, "a", "b")
	for i := 0; i < 10; i++ {
		ep, err := r.Select(SelectRandom)
		if err != nil {
			t.Fatal(err)
		}
		if ep.Name() != "a" && ep.Name() != "b" {
			t.Fatalf("unexpected endpoint %s", ep.Name())
		}
	}
}

func TestRegistryHealthBasedPrefersFewerFailures(t *testing.T) {
	r := testRegistry(t, "flaky", "steady")
	flaky, _ := r.Get("flaky")
	flaky.Breaker().RecordFailure()
	flaky.Breaker().RecordFailure()

	ep, err := r.Select(SelectHealthBased)
	if err != nil {
		t.Fatal(err)
	}
	if ep.Name() != "steady" {
		t.Errorf("expected the endpoint with fewer failures, got %s", ep.Name())
	}
}

func TestRegistryHealthBasedBreaksTiesByPriority(t *testing.T) {
	r := NewRegistry()
	r.Register(EndpointConfig{Name: "low", BaseURL: "https://low", Priority: 1})
	r.Register(EndpointConfig{Name: "high", BaseURL: "https://high", Priority: 9})

	ep, err := r.Select(SelectHealthBased)
	if err != nil {
		t.Fatal(err)
	}
	if ep.Name() != "high" {
		t.Errorf("expected the higher-priority endpoint, got %s", ep.Name())
	}
}

func TestRegistryHealthBasedBreaksTiesByLatency(t *testing.T) {
	r := NewRegistry()
	r.Register(EndpointConfig{Name: "slow", BaseURL: "https://slow", Priority: 1})
	r.Register(EndpointConfig{Name: "fast", BaseURL: "https://fast", Priority: 1})

	slow, _ := r.Get("slow")
	fast, _ := r.Get("fast")
	slow.recordProbe(300 * time.Millisecond)
	fast.recordProbe(20 * time.Millisecond)

	ep, err := r.Select(SelectHealthBased)
	if err != nil {
		t.Fatal(err)
	}
	if ep.Name() != "fast" {
		t.Errorf("expected the lower-latency endpoint, got %s", ep.Name())
	}
}

func TestRegistryEmptySelectorUsesHealthBased(t *testing.T) {
	r := testRegistry(t, "a")
	ep, err := r.Select("")
	if err != nil {
		t.Fatal(err)
	}
	if ep.Name() != "a" {
		t.Errorf("unexpected endpoint %s", ep.Name())
	}
}

func TestEndpointConfigDefaults(t *testing.T) {
	cfg := EndpointConfig{Name: "x", BaseURL: "https://x"}
	cfg.applyDefaults()

	if cfg.RateLimit != 1 || cfg.RateInterval != time.Second {
		t.Errorf("unexpected rate defaults: %d per %v", cfg.RateLimit, cfg.RateInterval)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("unexpected timeout default: %v", cfg.Timeout)
	}
}

func TestRegistryStatuses(t *testing.T) {
	r := testRegistry(t, "a", "b")
	ep, _ := r.Get("b")
	ep.Breaker().RecordFailure()

	statuses := r.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "a" || statuses[1].Name != "b" {
		t.Errorf("statuses out of registration order: %+v", statuses)
	}
	if statuses[1].Failures != 1 {
		t.Errorf("expected 1 recorded failure for b, got %d", statuses[1].Failures)
	}
}
