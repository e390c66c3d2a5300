package laju

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerAdapts(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Debug("debug msg", "k", "v")
	logger.Info("info msg", "count", 3)
	logger.Warn("warn msg")
	logger.Error("error msg", "err", "boom")

	entries := logs.All()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[0].Message != "debug msg" {
		t.Errorf("unexpected message %q", entries[0].Message)
	}
	fields := logs.FilterMessage("info msg").All()[0].ContextMap()
	if fields["count"] != int64(3) {
		t.Errorf("structured field lost: %v", fields)
	}
}

func TestSimpleLoggerDoesNotPanic(t *testing.T) {
	l := NewSimpleLogger()
	l.Debug("msg", "k", "v")
	l.Info("msg", "k")
	l.Warn("msg")
	l.Error("msg", "a", 1, "b", 2)
}

func TestDefaultDebugConfig(t *testing.T) {
	cfg := DefaultDebugConfig()
	if cfg.Enabled {
		t.Error("debug should be off by default")
	}
	if !cfg.LogRequests || !cfg.LogRetries || !cfg.LogCache ||
		!cfg.LogRateLimit || !cfg.LogCircuit || !cfg.LogBackoff || !cfg.LogHealth {
		t.Error("all concerns should be enabled by default")
	}
}
