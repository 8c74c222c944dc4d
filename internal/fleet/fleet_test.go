package fleet

import (
	"context"
	"testing"
	"time"

	"github.com/agent-sre/control-plane/internal/breaker"
	"github.com/agent-sre/control-plane/internal/clock"
)

func TestRegisterHeartbeatAndHealthy(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc)
	reg.Register("checkout-agent", []string{"tier1"}, "checkout-latency")

	if err := reg.RecordEvent("checkout-agent", true, 50*time.Millisecond, 0.01); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if err := reg.Heartbeat(context.Background(), "checkout-agent"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	h, err := reg.AgentHealth("checkout-agent")
	if err != nil {
		t.Fatalf("AgentHealth: %v", err)
	}
	if h != Healthy {
		t.Fatalf("expected HEALTHY, got %v", h)
	}
}

func TestUnresponsiveOnStaleHeartbeat(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc, WithThresholds(Thresholds{HeartbeatStaleAfter: 30 * time.Second, MinSuccessRate: 0.9}))
	reg.Register("a1", nil, "")
	reg.Heartbeat(context.Background(), "a1")

	fc.Advance(60 * time.Second)
	h, _ := reg.AgentHealth("a1")
	if h != Unresponsive {
		t.Fatalf("expected UNRESPONSIVE after stale heartbeat, got %v", h)
	}
}

func TestDegradedOnLowSuccessRate(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc, WithThresholds(Thresholds{HeartbeatStaleAfter: time.Hour, MinSuccessRate: 0.9}))
	reg.Register("a1", nil, "")
	for i := 0; i < 5; i++ {
		reg.RecordEvent("a1", false, 0, 0)
	}
	reg.RecordEvent("a1", true, 0, 0)

	h, _ := reg.AgentHealth("a1")
	if h != Degraded {
		t.Fatalf("expected DEGRADED on low success rate, got %v", h)
	}
}

func TestStatusRollupByTag(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	reg := NewRegistry(fc, WithThresholds(Thresholds{HeartbeatStaleAfter: time.Hour, MinSuccessRate: 0.9}))
	reg.Register("a1", []string{"tier1"}, "")
	reg.Register("a2", []string{"tier1"}, "")
	reg.Register("a3", []string{"tier2"}, "")
	for i := 0; i < 10; i++ {
		reg.RecordEvent("a2", false, 0, 0)
	}

	st := reg.Status()
	if st.Total != 3 {
		t.Fatalf("expected 3 total agents, got %d", st.Total)
	}
	if st.ByTag["tier1"].Total != 2 {
		t.Fatalf("expected 2 agents tagged tier1, got %d", st.ByTag["tier1"].Total)
	}
	if st.ByTag["tier1"].Degraded != 1 {
		t.Fatalf("expected 1 degraded agent under tier1, got %d", st.ByTag["tier1"].Degraded)
	}
}

func TestBreakerRegistryCascadeDetection(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	cascade := breaker.NewCascadeDetector(2, fc, nil)
	br := NewBreakerRegistry(cascade)

	b1 := breaker.New("a1", breaker.Config{FailureThreshold: 1}, fc)
	b2 := breaker.New("a2", breaker.Config{FailureThreshold: 1}, fc)
	br.Watch("a1", b1)
	br.Watch("a2", b2)

	b1.RecordFailure()
	if br.CascadeDetected() {
		t.Fatalf("expected no cascade with only 1 breaker open")
	}
	b2.RecordFailure()
	if !br.CascadeDetected() {
		t.Fatalf("expected cascade with 2 breakers open")
	}
}
