package incident

import (
	"strings"
	"testing"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/signal"
)

func TestScenarioSignalCorrelation(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	det := NewDetector(60*time.Second, fc)

	var rolledBack bool
	det.RegisterResponse("auto_rollback", func(inc *Incident) { rolledBack = true })
	det.BindResponse(signal.SLOBreach, "auto_rollback")

	det.Ingest(signal.Signal{
		Kind: signal.SLOBreach, SourceAgent: "checkout-agent", Severity: signal.Critical,
		Message: "latency SLO critical", DedupKey: "checkout-agent:latency:critical",
	})
	fc.Advance(5 * time.Second)
	det.Ingest(signal.Signal{
		Kind: signal.CostAnomaly, SourceAgent: "checkout-agent", Severity: signal.Warn,
		Message: "cost spike", DedupKey: "checkout-agent:cost:warn", CostAnomalyMagnitude: 0.5,
	})

	open := det.OpenIncidents()
	if len(open) != 1 {
		t.Fatalf("expected both signals correlated into one incident, got %d", len(open))
	}
	if len(open[0].Signals) != 2 {
		t.Fatalf("expected 2 correlated signals, got %d", len(open[0].Signals))
	}
	if open[0].Severity != P2 {
		t.Fatalf("expected incident severity P2 from SLOBreach, got %v", open[0].Severity)
	}
	if !rolledBack {
		t.Fatalf("expected auto_rollback response to fire for SLOBreach")
	}
}

func TestDedupWithinWindowDropped(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	det := NewDetector(60*time.Second, fc)

	sig := signal.Signal{Kind: signal.SLOBreach, SourceAgent: "a1", DedupKey: "a1:lat:critical"}
	det.Ingest(sig)
	det.Ingest(sig)

	open := det.OpenIncidents()
	if len(open) != 1 || len(open[0].Signals) != 1 {
		t.Fatalf("expected duplicate signal within window to be dropped, got %+v", open)
	}
}

func TestSeparateAgentsOpenSeparateIncidents(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	det := NewDetector(60*time.Second, fc)

	det.Ingest(signal.Signal{Kind: signal.SLOBreach, SourceAgent: "a1", DedupKey: "a1:lat:critical"})
	det.Ingest(signal.Signal{Kind: signal.SLOBreach, SourceAgent: "a2", DedupKey: "a2:lat:critical"})

	if len(det.OpenIncidents()) != 2 {
		t.Fatalf("expected 2 separate incidents for 2 agents")
	}
}

func TestLifecycleIllegalTransitionRejected(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	det := NewDetector(60*time.Second, fc)
	det.Ingest(signal.Signal{Kind: signal.TrustRevocation, SourceAgent: "a1"})
	inc := det.open[0]

	if err := inc.Investigate(); err == nil {
		t.Fatalf("expected error skipping ACKNOWLEDGED")
	}
	if err := inc.Acknowledge(); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if err := inc.Investigate(); err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if err := inc.Mitigate(); err != nil {
		t.Fatalf("Mitigate: %v", err)
	}
	if err := inc.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if inc.State != Resolved {
		t.Fatalf("expected RESOLVED, got %v", inc.State)
	}
}

func TestResolvedIncidentsExcludedFromCorrelation(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	det := NewDetector(60*time.Second, fc)
	det.Ingest(signal.Signal{Kind: signal.SLOBreach, SourceAgent: "a1", DedupKey: "a1:lat:critical"})
	inc := det.open[0]
	inc.Acknowledge()
	inc.Investigate()
	inc.Mitigate()
	inc.Resolve()

	det.Ingest(signal.Signal{Kind: signal.SLOBreach, SourceAgent: "a1", DedupKey: "a1:lat:critical2"})
	if len(det.OpenIncidents()) != 1 {
		t.Fatalf("expected a fresh incident since prior one resolved, got %d", len(det.OpenIncidents()))
	}
}

func TestPostmortemGenerate(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	det := NewDetector(60*time.Second, fc)
	det.Ingest(signal.Signal{Kind: signal.ErrorBudgetExhausted, SourceAgent: "a1", Message: "budget gone"})
	inc := det.open[0]
	fc.Advance(10 * time.Minute)
	inc.Acknowledge()
	inc.Investigate()
	inc.Mitigate()
	inc.Resolve()

	pm := Generate(inc.Snapshot())
	if pm.TimeToResolveSec != 600 {
		t.Fatalf("time to resolve = %v, want 600", pm.TimeToResolveSec)
	}
	if !strings.Contains(pm.Markdown, "# Postmortem") {
		t.Fatalf("expected markdown header, got %q", pm.Markdown)
	}
	if !strings.Contains(pm.Markdown, "a1") {
		t.Fatalf("expected agent id in markdown")
	}
}
