package sli

import (
	"testing"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
)

func TestEmptyWindowIsUnknown(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	ind := NewTaskSuccessRate(time.Minute, 0.99, fc)

	if _, ok := ind.CurrentAggregate(); ok {
		t.Fatalf("expected unknown aggregate on empty window")
	}
	if _, ok := ind.ComplianceFraction(); ok {
		t.Fatalf("expected unknown compliance on empty window")
	}
}

func TestSingleSampleWindow(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	ind := NewResponseLatency(time.Minute, 500, 95, fc)
	ind.Record(120, nil)

	agg, ok := ind.CurrentAggregate()
	if !ok || agg != 120 {
		t.Fatalf("percentile of single sample = %v, %v, want 120,true", agg, ok)
	}
}

func TestWindowExpiry(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	ind := NewTaskSuccessRate(10*time.Second, 0.9, fc)

	ind.Record(1, nil)
	fc.Advance(5 * time.Second)
	ind.Record(1, nil)
	fc.Advance(6 * time.Second) // first sample now 11s old, expires

	samples := ind.SamplesInWindow()
	if len(samples) != 1 {
		t.Fatalf("expected 1 live sample after expiry, got %d", len(samples))
	}
}

func TestWindowBoundaryRetained(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	ind := NewTaskSuccessRate(10*time.Second, 0.9, fc)
	ind.Record(1, nil)
	fc.Advance(10 * time.Second) // sample timestamp == now - window, retained

	samples := ind.SamplesInWindow()
	if len(samples) != 1 {
		t.Fatalf("expected boundary sample retained, got %d", len(samples))
	}
}

func TestComplianceFractionBooleanDomain(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	ind := NewTaskSuccessRate(time.Minute, 0.99, fc)
	for _, v := range []float64{1, 1, 1, 0} {
		ind.Record(v, nil)
	}
	compliance, ok := ind.ComplianceFraction()
	if !ok {
		t.Fatalf("expected compliance defined")
	}
	if compliance != 0.75 {
		t.Fatalf("compliance = %v, want 0.75", compliance)
	}
}

func TestPercentileNearestRank(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	ind := NewResponseLatency(time.Minute, 100, 90, fc)
	for _, v := range []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		ind.Record(v, nil)
	}
	p90, ok := ind.CurrentAggregate()
	if !ok {
		t.Fatalf("expected aggregate defined")
	}
	if p90 != 90 {
		t.Fatalf("p90 = %v, want 90", p90)
	}
}

func TestDelegationChainDepthMax(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	ind := NewDelegationChainDepth(time.Minute, 5, fc)
	for _, v := range []float64{1, 3, 2, 4} {
		ind.Record(v, nil)
	}
	agg, ok := ind.CurrentAggregate()
	if !ok || agg != 4 {
		t.Fatalf("max = %v, %v, want 4,true", agg, ok)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	fc := clock.NewFake(time.Unix(0, 0))
	ind := NewCostPerTask(time.Hour, 1.0, fc)
	reg.Register(ind)

	got, ok := reg.Get("cost_per_task")
	if !ok || got != ind {
		t.Fatalf("registry did not return registered indicator")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Fatalf("expected missing indicator to be absent")
	}
}
