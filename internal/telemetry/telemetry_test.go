package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/cost"
	"github.com/agent-sre/control-plane/internal/fleet"
	"github.com/agent-sre/control-plane/internal/sli"
	"github.com/agent-sre/control-plane/internal/slo"
)

func TestOnTaskStartHonorsCostGuard(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	guard := cost.NewGuard(cost.Config{DefaultPerTaskLimit: 1, DefaultDailyLimit: 10}, fc, nil)
	adapter := NewAdapter(nil, nil, guard, nil)

	proceed, reason := adapter.OnTaskStart(context.Background(), TaskStartEvent{AgentID: "a1", EstimatedCost: 5})
	if proceed {
		t.Fatalf("expected task rejected over per-task limit")
	}
	if reason != cost.ReasonPerTaskLimit {
		t.Fatalf("reason = %v, want PER_TASK_LIMIT", reason)
	}
}

func TestOnTaskEndRecordsSLIsAndFleetEvent(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	registry := sli.NewRegistry()
	registry.Register(sli.NewTaskSuccessRate(time.Hour, 0.95, fc))
	registry.Register(sli.NewResponseLatency(time.Hour, 500, 95, fc))

	budget := slo.NewErrorBudget(0.05, 3600, fc)
	fleetReg := fleet.NewRegistry(fc)
	fleetReg.Register("a1", nil, "")

	adapter := NewAdapter(registry, budget, nil, fleetReg)
	adapter.OnTaskEnd(context.Background(), TaskEndEvent{
		AgentID: "a1", Success: true, Latency: 120 * time.Millisecond, CostUSD: 0.01,
	})

	ind, ok := registry.Get("task_success_rate")
	if !ok {
		t.Fatalf("expected task_success_rate registered")
	}
	agg, aggOK := ind.CurrentAggregate()
	if !aggOK || agg != 1.0 {
		t.Fatalf("task_success_rate aggregate = %v, %v", agg, aggOK)
	}

	health, err := fleetReg.AgentHealth("a1")
	if err != nil {
		t.Fatalf("AgentHealth: %v", err)
	}
	if health != fleet.Healthy {
		t.Fatalf("agent health = %v, want HEALTHY", health)
	}
}

func TestOnToolCallRecordsAccuracy(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	registry := sli.NewRegistry()
	registry.Register(sli.NewToolCallAccuracy(time.Hour, 0.9, fc))
	adapter := NewAdapter(registry, nil, nil, nil)

	adapter.OnToolCall(context.Background(), ToolCallEvent{AgentID: "a1", ToolName: "search", Succeeded: false})

	ind, _ := registry.Get("tool_call_accuracy")
	agg, _ := ind.CurrentAggregate()
	if agg != 0.0 {
		t.Fatalf("tool_call_accuracy aggregate = %v, want 0", agg)
	}
}
