package laju

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ambiyansyah-risyal/laju/internal/singleflight"
)

// ProbeFunc checks the liveness of one endpoint. A nil error is a healthy
// probe.
type ProbeFunc func(ctx context.Context, endpoint *Endpoint) error

// HealthMonitor periodically probes every enabled endpoint and feeds the
// outcome into the endpoint's circuit breaker, so probe results and dispatch
// results share one per-endpoint failure state. It runs on its own schedule
// and never blocks the dispatch path.
type HealthMonitor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	probe    ProbeFunc
	logger   Logger
	debug    *DebugConfig

	// inflight skips endpoints whose previous probe is still running.
	inflight *singleflight.Group

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHealthMonitor creates a monitor. A nil probe defaults to an HTTP GET of
// the endpoint's health-check path.
func NewHealthMonitor(registry *Registry, interval, timeout time.Duration, probe ProbeFunc) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if probe == nil {
		probe = DefaultHTTPProbe(&http.Client{Timeout: timeout})
	}
	return &HealthMonitor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		probe:    probe,
		inflight: singleflight.New(),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the probe loop. Idempotent stop via Stop.
func (m *HealthMonitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.probeAll()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the probe loop and waits for in-progress probes to finish.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *HealthMonitor) probeAll() {
	for _, ep := range m.registry.All() {
		if !ep.Enabled() {
			continue
		}
		ep := ep
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			// TryDo keeps one probe per endpoint outstanding even when an
			// upstream hangs past the probe interval.
			m.inflight.TryDo(ep.Name(), func() (any, error) {
				m.probeOne(ep)
				return nil, nil
			})
		}()
	}
}

func (m *HealthMonitor) probeOne(ep *Endpoint) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	start := time.Now()
	err := m.probe(ctx, ep)
	latency := time.Since(start)

	ep.recordProbe(latency)
	if err != nil {
		ep.Breaker().RecordFailure()
		if m.debugHealth() {
			m.logger.Warn("Health probe failed", "endpoint", ep.Name(), "latency", latency, "error", err.Error())
		}
		return
	}
	ep.Breaker().RecordSuccess()
	if m.debugHealth() {
		m.logger.Debug("Health probe ok", "endpoint", ep.Name(), "latency", latency)
	}
}

func (m *HealthMonitor) debugHealth() bool {
	return m.debug != nil && m.debug.Enabled && m.debug.LogHealth && m.logger != nil
}

// DefaultHTTPProbe returns a ProbeFunc issuing a GET against the endpoint's
// base URL plus its configured health-check path, with the endpoint's
// headers. Status codes >= 400 are failures.
func DefaultHTTPProbe(client *http.Client) ProbeFunc {
	return func(ctx context.Context, ep *Endpoint) error {
		cfg := ep.Config()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL+cfg.HealthCheckPath, nil)
		if err != nil {
			return err
		}
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 400 {
			return &StatusError{Code: resp.StatusCode}
		}
		return nil
	}
}
