// Package chaos implements the chaos-experiment runner: lifecycle, safety
// aborts, and resilience scoring.
package chaos

import (
	"math"
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/metrics"
	"github.com/agent-sre/control-plane/internal/utils"
	"github.com/google/uuid"
)

// FaultKind is the closed set of fault-injection primitives plus the
// composite templates built from them.
type FaultKind int

const (
	LatencyInjection FaultKind = iota
	ErrorInjection
	TimeoutInjection
	ToolSchemaDrift
	DelegationReject
	CredentialExpire
	CostSpike
	LLMDegradation
)

// Fault is one declared fault within an experiment's fault list.
type Fault struct {
	Kind   FaultKind
	Target string
	Rate   float64 // in [0,1]
	Params map[string]any
}

// Comparator is how an AbortCondition compares a live metric to its
// threshold.
type Comparator int

const (
	LessEqual Comparator = iota
	GreaterEqual
	Less
	Greater
	Equal
)

func (c Comparator) evaluate(value, threshold float64) bool {
	switch c {
	case LessEqual:
		return value <= threshold
	case GreaterEqual:
		return value >= threshold
	case Less:
		return value < threshold
	case Greater:
		return value > threshold
	case Equal:
		return value == threshold
	default:
		return false
	}
}

// AbortCondition is a live-metric safety trip wire.
type AbortCondition struct {
	Metric     string
	Threshold  float64
	Comparator Comparator
}

// State is the experiment lifecycle state.
type State int

const (
	Pending State = iota
	Running
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// FaultEvent records one InjectFault call.
type FaultEvent struct {
	Fault     Fault
	Applied   bool
	Details   string
	Timestamp time.Time
}

// Experiment is a chaos-experiment run.
type Experiment struct {
	mu sync.Mutex

	ID              string
	Name            string
	TargetAgent     string
	Faults          []Fault
	AbortConditions []AbortCondition
	BlastRadius     float64
	Duration        time.Duration

	clock     clock.Clock
	state     State
	startTime time.Time
	events    []FaultEvent
}

// New constructs a PENDING experiment. BlastRadius must be in [0,1].
func New(name, targetAgent string, faults []Fault, aborts []AbortCondition, blastRadius float64, duration time.Duration, clk clock.Clock) (*Experiment, error) {
	if blastRadius < 0 || blastRadius > 1 {
		return nil, utils.NewAppError("chaos.New", utils.KindInvalidConfig, "blast radius must be in [0,1]", nil)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Experiment{
		ID:              uuid.NewString(),
		Name:            name,
		TargetAgent:     targetAgent,
		Faults:          append([]Fault(nil), faults...),
		AbortConditions: append([]AbortCondition(nil), aborts...),
		BlastRadius:     blastRadius,
		Duration:        duration,
		clock:           clk,
		state:           Pending,
	}, nil
}

// State returns the experiment's state, self-terminating to COMPLETED if
// start_time+duration has elapsed while still RUNNING.
func (e *Experiment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maybeCompleteLocked()
	return e.state
}

func (e *Experiment) maybeCompleteLocked() {
	if e.state == Running && e.Duration > 0 && e.clock.Since(e.startTime) >= e.Duration {
		e.state = Completed
		metrics.ObserveChaosState(e.state.String())
	}
}

// Start transitions PENDING -> RUNNING and records StartTime.
func (e *Experiment) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Pending {
		return utils.NewAppError("chaos.Start", utils.KindInvalidState, "experiment not PENDING", nil)
	}
	e.state = Running
	e.startTime = e.clock.Now()
	metrics.ObserveChaosState(e.state.String())
	return nil
}

// StartTime returns when the experiment entered RUNNING.
func (e *Experiment) StartTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startTime
}

// InjectFault appends a fault-event record. Once aborted, this is a
// deterministic no-op.
func (e *Experiment) InjectFault(f Fault, applied bool, details string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Aborted {
		return
	}
	e.events = append(e.events, FaultEvent{Fault: f, Applied: applied, Details: details, Timestamp: e.clock.Now()})
}

// Events returns a copy of the recorded fault events.
func (e *Experiment) Events() []FaultEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]FaultEvent(nil), e.events...)
}

// CheckAbort evaluates every AbortCondition against currentMetrics. The
// first match transitions RUNNING -> ABORTED and returns true; no further
// conditions are checked after a match.
func (e *Experiment) CheckAbort(currentMetrics map[string]float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running {
		return e.state == Aborted
	}
	for _, cond := range e.AbortConditions {
		v, ok := currentMetrics[cond.Metric]
		if !ok {
			continue
		}
		if cond.Comparator.evaluate(v, cond.Threshold) {
			e.state = Aborted
			metrics.ObserveChaosState(e.state.String())
			return true
		}
	}
	return false
}

// ResilienceScore is the composite 0-100 resilience assessment.
type ResilienceScore struct {
	FaultTolerance     float64
	Recovery           float64
	Overall            float64
	DegradationPercent float64
	CostImpactPercent  *float64
}

// CalculateResilience computes the composite score. recoveryMS is the
// measured time-to-recovery in milliseconds; costImpactPercent is optional.
func CalculateResilience(baseline, underChaos, recoveryMS float64, costImpactPercent *float64) ResilienceScore {
	var faultTolerance float64
	if baseline != 0 {
		faultTolerance = 100 * (underChaos / baseline)
	}
	faultTolerance = clamp(faultTolerance, 0, 100)

	recovery := 100 * math.Exp(-recoveryMS/10_000)

	var degradation float64
	if baseline != 0 {
		degradation = 100 * (1 - underChaos/baseline)
	}

	return ResilienceScore{
		FaultTolerance:     faultTolerance,
		Recovery:           recovery,
		Overall:            0.6*faultTolerance + 0.4*recovery,
		DegradationPercent: degradation,
		CostImpactPercent:  costImpactPercent,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
