// Package telemetry defines the push interface an agent framework calls
// into as it executes tasks, tool calls, and LLM calls, plus a reference
// adapter that turns those pushes into SLI samples, error-budget events,
// and cost-guard checks. No framework-specific code lives in the core
// subsystems; this is the one seam that knows about "tasks" and "tool
// calls" at all.
package telemetry

import (
	"context"
	"time"

	"github.com/agent-sre/control-plane/internal/cost"
	"github.com/agent-sre/control-plane/internal/fleet"
	"github.com/agent-sre/control-plane/internal/sli"
	"github.com/agent-sre/control-plane/internal/slo"
)

// TaskStartEvent is pushed when an agent begins a task.
type TaskStartEvent struct {
	AgentID       string
	TaskID        string
	EstimatedCost float64
	StartedAt     time.Time
}

// TaskEndEvent is pushed when an agent finishes a task.
type TaskEndEvent struct {
	AgentID string
	TaskID  string
	Success bool
	Latency time.Duration
	CostUSD float64
	EndedAt time.Time
}

// ToolCallEvent is pushed after an agent invokes a tool.
type ToolCallEvent struct {
	AgentID   string
	ToolName  string
	Succeeded bool
	Latency   time.Duration
}

// LLMCallEvent is pushed after an agent makes an LLM call.
type LLMCallEvent struct {
	AgentID    string
	Model      string
	CostUSD    float64
	LatencyMS  float64
	TokensUsed int
}

// Sink is the push interface a framework adapter drives. on_task_start may
// reject a task before it starts (e.g. the cost guard has already killed
// the agent); the other three are fire-and-forget observations.
type Sink interface {
	OnTaskStart(ctx context.Context, ev TaskStartEvent) (proceed bool, reason cost.ReasonCode)
	OnTaskEnd(ctx context.Context, ev TaskEndEvent)
	OnToolCall(ctx context.Context, ev ToolCallEvent)
	OnLLMCall(ctx context.Context, ev LLMCallEvent)
}

// Adapter is the reference Sink: it has no opinion about how the calling
// framework represents a task, only about what SLIs, error budgets, the
// cost guard, and the fleet registry need recorded.
type Adapter struct {
	slis   *sli.Registry
	budget *slo.ErrorBudget
	guard  *cost.Guard
	fleet  *fleet.Registry
}

// NewAdapter wires a telemetry Adapter. budget, guard, and registry may be
// nil to skip that half of the wiring (e.g. a fleet with no cost guard
// configured).
func NewAdapter(slis *sli.Registry, budget *slo.ErrorBudget, guard *cost.Guard, registry *fleet.Registry) *Adapter {
	return &Adapter{slis: slis, budget: budget, guard: guard, fleet: registry}
}

// OnTaskStart checks the cost guard before the task is allowed to run.
func (a *Adapter) OnTaskStart(_ context.Context, ev TaskStartEvent) (bool, cost.ReasonCode) {
	if a.guard == nil {
		return true, cost.ReasonOK
	}
	return a.guard.CheckTask(ev.AgentID, ev.EstimatedCost)
}

// OnTaskEnd records task_success_rate, response_latency and cost_per_task
// SLI samples, an error-budget event, a cost-guard RecordCost call, and a fleet
// RecordEvent, in that order.
func (a *Adapter) OnTaskEnd(_ context.Context, ev TaskEndEvent) {
	if a.slis != nil {
		if ind, ok := a.slis.Get("task_success_rate"); ok {
			v := 0.0
			if ev.Success {
				v = 1.0
			}
			ind.Record(v, map[string]string{"agent_id": ev.AgentID})
		}
		if ind, ok := a.slis.Get("response_latency"); ok {
			ind.Record(float64(ev.Latency.Milliseconds()), map[string]string{"agent_id": ev.AgentID})
		}
		if ind, ok := a.slis.Get("cost_per_task"); ok {
			ind.Record(ev.CostUSD, map[string]string{"agent_id": ev.AgentID})
		}
	}
	if a.budget != nil {
		a.budget.RecordEvent(ev.Success)
	}
	if a.guard != nil && ev.CostUSD > 0 {
		a.guard.RecordCost(ev.AgentID, ev.TaskID, ev.CostUSD, nil)
	}
	if a.fleet != nil {
		_ = a.fleet.RecordEvent(ev.AgentID, ev.Success, ev.Latency, ev.CostUSD)
	}
}

// OnToolCall records a tool_call_accuracy SLI sample.
func (a *Adapter) OnToolCall(_ context.Context, ev ToolCallEvent) {
	if a.slis == nil {
		return
	}
	ind, ok := a.slis.Get("tool_call_accuracy")
	if !ok {
		return
	}
	v := 0.0
	if ev.Succeeded {
		v = 1.0
	}
	ind.Record(v, map[string]string{"agent_id": ev.AgentID, "tool": ev.ToolName})
}

// OnLLMCall folds an LLM call's cost into cost_per_task and the cost
// guard; response_latency is left to OnTaskEnd since an LLM call is
// usually a sub-step of a larger task, not a task on its own.
func (a *Adapter) OnLLMCall(_ context.Context, ev LLMCallEvent) {
	if a.slis != nil {
		if ind, ok := a.slis.Get("cost_per_task"); ok {
			ind.Record(ev.CostUSD, map[string]string{"agent_id": ev.AgentID, "model": ev.Model})
		}
	}
	if a.guard != nil && ev.CostUSD > 0 {
		a.guard.RecordCost(ev.AgentID, "", ev.CostUSD, map[string]float64{"llm": ev.CostUSD})
	}
}
