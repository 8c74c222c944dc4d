package chaos

import (
	"testing"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
)

func TestScenarioChaosAbort(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	exp, err := New("degrade-success", "agent-1", nil,
		[]AbortCondition{{Metric: "success_rate", Threshold: 0.50, Comparator: LessEqual}},
		0.1, 5*time.Minute, fc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := exp.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if aborted := exp.CheckAbort(map[string]float64{"success_rate": 0.45}); !aborted {
		t.Fatalf("expected abort to fire")
	}
	if exp.State() != Aborted {
		t.Fatalf("expected state ABORTED, got %v", exp.State())
	}

	exp.InjectFault(Fault{Kind: ErrorInjection, Rate: 0.5}, true, "should be no-op")
	if len(exp.Events()) != 0 {
		t.Fatalf("expected InjectFault to be a no-op after abort")
	}

	score := CalculateResilience(100, 40, 2000, nil)
	if score.Overall <= 0 {
		t.Fatalf("resilience score should still compute after abort: %+v", score)
	}
}

func TestResilienceFormula(t *testing.T) {
	score := CalculateResilience(100, 100, 0, nil)
	if score.FaultTolerance != 100 {
		t.Fatalf("fault tolerance = %v, want 100", score.FaultTolerance)
	}
	if score.Recovery != 100 {
		t.Fatalf("recovery at 0ms = %v, want 100", score.Recovery)
	}
	if score.Overall != 100 {
		t.Fatalf("overall = %v, want 100", score.Overall)
	}
}

func TestResilienceClampsToZero(t *testing.T) {
	score := CalculateResilience(100, -50, 1_000_000, nil)
	if score.FaultTolerance != 0 {
		t.Fatalf("fault tolerance should clamp to 0, got %v", score.FaultTolerance)
	}
	if score.Recovery < 0 || score.Recovery > 1 {
		t.Fatalf("recovery at very high latency should approach 0, got %v", score.Recovery)
	}
}

func TestZeroRateFaultNoImpact(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	exp, _ := New("noop", "agent-1", []Fault{{Kind: LatencyInjection, Rate: 0}}, nil, 0, time.Minute, fc)
	exp.Start()
	exp.InjectFault(exp.Faults[0], false, "rate=0, never applied")

	events := exp.Events()
	if len(events) != 1 || events[0].Applied {
		t.Fatalf("expected one unapplied fault event, got %+v", events)
	}
}

func TestTemplatesInstantiate(t *testing.T) {
	fc := clock.New()
	for _, tmpl := range []Template{
		ToolSchemaDriftTemplate, DelegationRejectTemplate, CredentialExpireTemplate,
		CostSpikeTemplate, LLMDegradationTemplate,
	} {
		exp, err := tmpl.Instantiate("agent-x", fc)
		if err != nil {
			t.Fatalf("Instantiate(%s): %v", tmpl.Name, err)
		}
		if exp.State() != Pending {
			t.Fatalf("template %s should instantiate PENDING", tmpl.Name)
		}
	}
}
