package chaos

import (
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
)

// Template is an immutable named parameter tuple that instantiates into an
// Experiment via Instantiate. Templates never mutate after construction;
// Instantiate always copies their slices.
type Template struct {
	Name            string
	Faults          []Fault
	AbortConditions []AbortCondition
	BlastRadius     float64
	Duration        time.Duration
}

// Instantiate builds a PENDING Experiment from the template for targetAgent.
func (t Template) Instantiate(targetAgent string, clk clock.Clock) (*Experiment, error) {
	return New(t.Name, targetAgent, t.Faults, t.AbortConditions, t.BlastRadius, t.Duration, clk)
}

// Pre-built templates for the standard composite fault kinds.
var (
	ToolSchemaDriftTemplate = Template{
		Name: "tool-schema-drift",
		Faults: []Fault{
			{Kind: ToolSchemaDrift, Rate: 0.3, Params: map[string]any{"drift": "rename_required_field"}},
		},
		AbortConditions: []AbortCondition{{Metric: "success_rate", Threshold: 0.5, Comparator: LessEqual}},
		BlastRadius:     0.1,
		Duration:        5 * time.Minute,
	}

	DelegationRejectTemplate = Template{
		Name: "delegation-reject",
		Faults: []Fault{
			{Kind: DelegationReject, Rate: 0.5},
		},
		AbortConditions: []AbortCondition{{Metric: "success_rate", Threshold: 0.4, Comparator: LessEqual}},
		BlastRadius:     0.15,
		Duration:        5 * time.Minute,
	}

	CredentialExpireTemplate = Template{
		Name: "credential-expire",
		Faults: []Fault{
			{Kind: CredentialExpire, Rate: 1.0},
		},
		AbortConditions: []AbortCondition{{Metric: "success_rate", Threshold: 0.3, Comparator: LessEqual}},
		BlastRadius:     0.05,
		Duration:        2 * time.Minute,
	}

	CostSpikeTemplate = Template{
		Name: "cost-spike",
		Faults: []Fault{
			{Kind: CostSpike, Rate: 0.2, Params: map[string]any{"multiplier": 5.0}},
		},
		AbortConditions: []AbortCondition{{Metric: "cost_utilization", Threshold: 0.95, Comparator: GreaterEqual}},
		BlastRadius:     0.2,
		Duration:        10 * time.Minute,
	}

	LLMDegradationTemplate = Template{
		Name: "llm-degradation",
		Faults: []Fault{
			{Kind: LLMDegradation, Rate: 0.4, Params: map[string]any{"latency_multiplier": 3.0}},
		},
		AbortConditions: []AbortCondition{{Metric: "success_rate", Threshold: 0.5, Comparator: LessEqual}},
		BlastRadius:     0.2,
		Duration:        5 * time.Minute,
	}
)
