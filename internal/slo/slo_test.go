package slo

import (
	"testing"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/signal"
)

type captureSink struct {
	signals []signal.Signal
}

func (c *captureSink) Ingest(s signal.Signal) { c.signals = append(c.signals, s) }

func TestBurnRateIdentity(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	budget := NewErrorBudget(0.01, 86400, fc)

	// Uniform stream at exactly the target error rate: burn_rate ~= 1.0.
	for i := 0; i < 10000; i++ {
		budget.RecordEvent(i%100 != 0) // 1% failures
	}

	rate := budget.BurnRate(86400 * time.Second)
	if rate < 0.9 || rate > 1.1 {
		t.Fatalf("burn rate = %v, want ~1.0", rate)
	}
}

func TestScenarioBurnRateAlerting(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	sink := &captureSink{}
	bus := signal.NewBus(sink)

	budget := NewErrorBudget(0.01, 86400, fc)
	obj, err := New("availability", "agent-1", nil, budget, fc, bus)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 1000 events at 5% failure rate -> burn rate ~5x.
	for i := 0; i < 1000; i++ {
		budget.RecordEvent(i%20 != 0) // 5% failures
	}

	status := obj.Evaluate()
	if status != Critical {
		t.Fatalf("status = %v, want CRITICAL", status)
	}
	if len(sink.signals) != 1 {
		t.Fatalf("expected exactly one signal emitted, got %d", len(sink.signals))
	}

	// Re-evaluating without a state change must not duplicate the signal.
	obj.Evaluate()
	if len(sink.signals) != 1 {
		t.Fatalf("expected no duplicate signal on re-evaluation, got %d", len(sink.signals))
	}
}

func TestEmptyBudgetBoundary(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	budget := NewErrorBudget(0.01, 3600, fc)
	if budget.IsExhausted() {
		t.Fatalf("empty budget must not be exhausted")
	}
	if rate := budget.BurnRate(time.Hour); rate != 0 {
		t.Fatalf("empty-window burn rate = %v, want 0", rate)
	}
}

func TestRemainingNeverNegative(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	budget := NewErrorBudget(0.01, 3600, fc)
	for i := 0; i < 100; i++ {
		budget.RecordEvent(false)
	}
	if budget.Remaining() < 0 {
		t.Fatalf("remaining went negative")
	}
	if !budget.IsExhausted() {
		t.Fatalf("expected exhausted after 100%% failures")
	}
}

func TestStatusOrdering(t *testing.T) {
	if !(Healthy < Warning && Warning < Critical && Critical < Exhausted && Exhausted < Unknown) {
		t.Fatalf("status ordering invariant violated")
	}
}
