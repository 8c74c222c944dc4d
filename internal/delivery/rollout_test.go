package delivery

import (
	"testing"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/utils"
)

func steps() []Step {
	return []Step{
		{Name: "canary", Weight: 0.05, Duration: 60 * time.Second},
		{Name: "quarter", Weight: 0.25, Duration: 60 * time.Second},
		{Name: "full", Weight: 1.0, Duration: 0},
	}
}

func TestScenarioRolloutRollback(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	r, err := New("checkout-agent", "v2", "v1", steps(),
		[]Criterion{{Metric: "error_rate", Comparator: GreaterEqual, Threshold: 0.10}}, false, fc)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if r.CheckRollbackConditions(map[string]float64{"error_rate": 0.12}) != true {
		t.Fatalf("expected rollback condition to trigger")
	}
	if r.State() != RolledBack {
		t.Fatalf("expected ROLLED_BACK, got %v", r.State())
	}
	if r.RollbackReason() == "" {
		t.Fatalf("expected rollback reason recorded")
	}

	if err := r.Advance(); utils.KindOf(err) != utils.KindInvalidState {
		t.Fatalf("expected InvalidState on advance after terminal, got %v", err)
	}
}

func TestRejectsNonMonotonicWeights(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	bad := []Step{{Weight: 0.5}, {Weight: 0.2}, {Weight: 1.0}}
	if _, err := New("r", "v2", "v1", bad, nil, false, fc); utils.KindOf(err) != utils.KindInvalidConfig {
		t.Fatalf("expected InvalidConfig for non-monotonic weights, got %v", err)
	}
}

func TestRejectsMissingFinalFullWeight(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	bad := []Step{{Weight: 0.5}, {Weight: 0.8}}
	if _, err := New("r", "v2", "v1", bad, nil, false, fc); utils.KindOf(err) != utils.KindInvalidConfig {
		t.Fatalf("expected InvalidConfig for non-1.0 final weight, got %v", err)
	}
}

func TestAdvanceThroughAllStepsPromotes(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	r, _ := New("r", "v2", "v1", steps(), nil, false, fc)
	r.Start()

	fc.Advance(61 * time.Second)
	if !r.Ready(nil) {
		t.Fatalf("expected step 0 ready after duration elapsed with no criteria")
	}
	r.Advance()
	fc.Advance(61 * time.Second)
	r.Advance()
	r.Advance()
	if r.State() != Promoted {
		t.Fatalf("expected PROMOTED after advancing past final step, got %v", r.State())
	}

	if err := r.Rollback("too late"); utils.KindOf(err) != utils.KindInvalidState {
		t.Fatalf("expected terminal rollout to reject rollback, got %v", err)
	}
}

func TestManualGateBlocksAdvance(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	gated := []Step{{Weight: 1.0, Duration: 0, ManualGate: true}}
	r, _ := New("r", "v2", "v1", gated, nil, false, fc)
	r.Start()

	if r.Ready(nil) {
		t.Fatalf("expected manual gate to block readiness before approval")
	}
	r.Approve()
	if !r.Ready(nil) {
		t.Fatalf("expected ready after approval")
	}
}

func TestPauseResume(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	r, _ := New("r", "v2", "v1", steps(), nil, false, fc)
	r.Start()
	if err := r.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if r.State() != Paused {
		t.Fatalf("expected PAUSED")
	}
	stepBefore := r.CurrentStepIndex()
	if err := r.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if r.CurrentStepIndex() != stepBefore {
		t.Fatalf("pause/resume must not change step index")
	}
}

func TestShadowModeAllowsZeroWeight(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	shadowSteps := []Step{{Weight: 0, Duration: time.Minute}}
	if _, err := New("shadow-r", "v2", "v1", shadowSteps, nil, true, fc); err != nil {
		t.Fatalf("shadow rollout should not require final weight 1.0: %v", err)
	}
}

func TestShadowComparisonFeedsMetrics(t *testing.T) {
	var sc ShadowComparison
	sc.Record(ShadowResult{RequestID: "1", CandidateMatch: true})
	sc.Record(ShadowResult{RequestID: "2", CandidateMatch: false, CandidateError: true})

	metrics := sc.Metrics()
	if metrics["match_rate"] != 0.5 {
		t.Fatalf("match_rate = %v, want 0.5", metrics["match_rate"])
	}
}
