package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/signal"
	"github.com/agent-sre/control-plane/internal/utils"
)

func TestScenarioCircuitBreakerRecovery(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New("agent-1", Config{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second}, fc)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != Open {
		t.Fatalf("expected OPEN after 3 consecutive failures, got %v", b.State())
	}

	// Next call while still within the recovery window must reject.
	err := b.Call(func() error { return nil }, nil)
	if utils.KindOf(err) != utils.KindCircuitOpen {
		t.Fatalf("expected CircuitOpen error, got %v", err)
	}

	fc.Advance(31 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("expected HALF_OPEN after recovery timeout, got %v", b.State())
	}

	// success on trial -> CLOSED
	if err := b.Call(func() error { return nil }, nil); err != nil {
		t.Fatalf("trial call should have been admitted: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected CLOSED after successful trial, got %v", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New("agent-2", Config{FailureThreshold: 2, RecoveryTimeout: 10 * time.Second}, fc)

	b.RecordFailure()
	b.RecordFailure()
	fc.Advance(11 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("expected HALF_OPEN, got %v", b.State())
	}

	err := b.Call(func() error { return errors.New("still broken") }, nil)
	if err == nil {
		t.Fatalf("expected trial failure to propagate")
	}
	if b.State() != Open {
		t.Fatalf("expected OPEN after failed trial, got %v", b.State())
	}
}

func TestFallbackHonoredWhenOpen(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	b := New("agent-3", Config{FailureThreshold: 1}, fc)
	b.RecordFailure()

	called := false
	err := b.Call(func() error { return nil }, func() error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fallback to be invoked when open")
	}
}

func TestCascadeDetector(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sink := &captureSink{}
	cd := NewCascadeDetector(2, fc, signal.NewBus(sink))

	b1 := New("a1", Config{FailureThreshold: 1}, fc)
	b2 := New("a2", Config{FailureThreshold: 1}, fc)
	b3 := New("a3", Config{FailureThreshold: 1}, fc)
	cd.Watch(b1)
	cd.Watch(b2)
	cd.Watch(b3)

	b1.RecordFailure()
	if cd.CascadeDetected() {
		t.Fatalf("cascade should not fire with only 1 breaker open")
	}

	b2.RecordFailure()
	if !cd.CascadeDetected() {
		t.Fatalf("expected cascade detected with 2 breakers open")
	}
	if len(sink.signals) != 1 {
		t.Fatalf("expected exactly one cascade signal, got %d", len(sink.signals))
	}
}

type captureSink struct{ signals []signal.Signal }

func (c *captureSink) Ingest(s signal.Signal) { c.signals = append(c.signals, s) }
