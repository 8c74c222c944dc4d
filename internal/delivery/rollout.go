// Package delivery implements the progressive-delivery engine: a rollout
// state machine with analysis gates and automatic rollback.
package delivery

import (
	"fmt"
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	delmetrics "github.com/agent-sre/control-plane/internal/metrics"
	"github.com/agent-sre/control-plane/internal/utils"
	"github.com/google/uuid"
)

// Comparator compares a live metric value against a declared threshold.
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

// Criterion is one metric check, used both as an analysis gate (must pass
// to advance) and as a rollback condition (triggers rollback when it
// holds).
type Criterion struct {
	Metric     string
	Comparator Comparator
	Threshold  float64
}

func (c Criterion) holds(metrics map[string]float64) (bool, bool) {
	v, ok := metrics[c.Metric]
	if !ok {
		return false, false
	}
	return c.Comparator.evaluate(v, c.Threshold), true
}

// Step is one weighted stage of a rollout.
type Step struct {
	Name             string
	Weight           float64 // in [0,1]
	Duration         time.Duration
	AnalysisCriteria []Criterion
	ManualGate       bool
}

// State is the rollout lifecycle state.
type State int

const (
	Pending State = iota
	InProgress
	Paused
	RolledBack
	Promoted
)

func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case InProgress:
		return "IN_PROGRESS"
	case Paused:
		return "PAUSED"
	case RolledBack:
		return "ROLLED_BACK"
	case Promoted:
		return "PROMOTED"
	default:
		return "UNKNOWN"
	}
}

func (s State) terminal() bool { return s == RolledBack || s == Promoted }

// Rollout is a progressive-delivery run.
type Rollout struct {
	mu sync.Mutex

	ID                 string
	Name               string
	CandidateVersion   string
	PredecessorVersion string
	Steps              []Step
	RollbackConditions []Criterion
	ShadowMode         bool

	clock clock.Clock

	state           State
	currentStep     int
	stepEnteredAt   time.Time
	stepApproved    bool
	createdAt       time.Time
	updatedAt       time.Time
	rollbackReason  string
	rollbackAt      time.Time
}

// New validates and constructs a PENDING rollout. Weights must be
// non-decreasing and the final step's weight must be 1.0.
func New(name, candidateVersion, predecessorVersion string, steps []Step, rollbackConditions []Criterion, shadowMode bool, clk clock.Clock) (*Rollout, error) {
	if len(steps) == 0 {
		return nil, utils.NewAppError("delivery.New", utils.KindInvalidConfig, "rollout requires at least one step", nil)
	}
	prev := -1.0
	for i, s := range steps {
		if s.Weight < 0 || s.Weight > 1 {
			return nil, utils.NewAppError("delivery.New", utils.KindInvalidConfig,
				fmt.Sprintf("step %d weight %v out of [0,1]", i, s.Weight), nil)
		}
		if s.Weight < prev {
			return nil, utils.NewAppError("delivery.New", utils.KindInvalidConfig, "step weights must be non-decreasing", nil)
		}
		prev = s.Weight
	}
	if !shadowMode && steps[len(steps)-1].Weight != 1.0 {
		return nil, utils.NewAppError("delivery.New", utils.KindInvalidConfig, "final step weight must be 1.0", nil)
	}
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	return &Rollout{
		ID:                 uuid.NewString(),
		Name:               name,
		CandidateVersion:   candidateVersion,
		PredecessorVersion: predecessorVersion,
		Steps:              append([]Step(nil), steps...),
		RollbackConditions: append([]Criterion(nil), rollbackConditions...),
		ShadowMode:         shadowMode,
		clock:              clk,
		state:              Pending,
		createdAt:          now,
		updatedAt:          now,
	}, nil
}

// State returns the current lifecycle state.
func (r *Rollout) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// CurrentStepIndex returns the index into Steps the rollout is on.
func (r *Rollout) CurrentStepIndex() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentStep
}

// RollbackReason returns the reason recorded by the terminating Rollback
// call, if any.
func (r *Rollout) RollbackReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rollbackReason
}

// Start transitions PENDING -> IN_PROGRESS at step 0.
func (r *Rollout) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Pending {
		return utils.NewAppError("delivery.Start", utils.KindInvalidState, "rollout not PENDING", nil)
	}
	r.state = InProgress
	r.currentStep = 0
	r.stepEnteredAt = r.clock.Now()
	r.stepApproved = false
	r.touchLocked()
	delmetrics.ObserveRolloutTransition(r.state.String())
	return nil
}

// Advance increments the step index. Past the final step, the rollout
// transitions to PROMOTED. Valid only from IN_PROGRESS.
func (r *Rollout) Advance() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != InProgress {
		return utils.NewAppError("delivery.Advance", utils.KindInvalidState, "advance only valid in IN_PROGRESS", nil)
	}
	r.currentStep++
	r.stepEnteredAt = r.clock.Now()
	r.stepApproved = false
	if r.currentStep >= len(r.Steps) {
		r.state = Promoted
	}
	r.touchLocked()
	delmetrics.ObserveRolloutTransition(r.state.String())
	return nil
}

// Pause toggles IN_PROGRESS -> PAUSED without changing the step index.
func (r *Rollout) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != InProgress {
		return utils.NewAppError("delivery.Pause", utils.KindInvalidState, "pause only valid in IN_PROGRESS", nil)
	}
	r.state = Paused
	r.touchLocked()
	delmetrics.ObserveRolloutTransition(r.state.String())
	return nil
}

// Resume toggles PAUSED -> IN_PROGRESS without changing the step index.
func (r *Rollout) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Paused {
		return utils.NewAppError("delivery.Resume", utils.KindInvalidState, "resume only valid in PAUSED", nil)
	}
	r.state = InProgress
	r.touchLocked()
	delmetrics.ObserveRolloutTransition(r.state.String())
	return nil
}

// Approve satisfies the manual gate on the current step.
func (r *Rollout) Approve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() {
		return utils.NewAppError("delivery.Approve", utils.KindInvalidState, "rollout already terminal", nil)
	}
	r.stepApproved = true
	return nil
}

// Rollback transitions any non-terminal state to ROLLED_BACK, recording
// reason and timestamp.
func (r *Rollout) Rollback(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.terminal() {
		return utils.NewAppError("delivery.Rollback", utils.KindInvalidState, "rollout already terminal", nil)
	}
	r.state = RolledBack
	r.rollbackReason = reason
	r.rollbackAt = r.clock.Now()
	r.touchLocked()
	delmetrics.ObserveRolloutTransition(r.state.String())
	return nil
}

// Cancel is Rollback with the standard "cancelled" reason.
func (r *Rollout) Cancel() error {
	return r.Rollback("cancelled")
}

// Promote is an explicit terminal transition equivalent to advancing past
// the final step.
func (r *Rollout) Promote() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != InProgress && r.state != Paused {
		return utils.NewAppError("delivery.Promote", utils.KindInvalidState, "promote only valid in IN_PROGRESS or PAUSED", nil)
	}
	r.state = Promoted
	r.touchLocked()
	delmetrics.ObserveRolloutTransition(r.state.String())
	return nil
}

func (r *Rollout) touchLocked() { r.updatedAt = r.clock.Now() }

// currentStepLocked returns the Step the rollout currently occupies.
// currentStep may equal len(Steps) transiently right after the final
// Advance promotes; callers must check bounds.
func (r *Rollout) currentStepLocked() (Step, bool) {
	if r.currentStep < 0 || r.currentStep >= len(r.Steps) {
		return Step{}, false
	}
	return r.Steps[r.currentStep], true
}

// Ready reports whether the current step may advance: its duration has
// elapsed, every analysis criterion passes against metrics, and (if
// ManualGate) Approve has been called.
func (r *Rollout) Ready(metrics map[string]float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != InProgress {
		return false
	}
	step, ok := r.currentStepLocked()
	if !ok {
		return false
	}
	if r.clock.Since(r.stepEnteredAt) < step.Duration {
		return false
	}
	for _, c := range step.AnalysisCriteria {
		passed, defined := c.holds(metrics)
		if !defined || !passed {
			return false
		}
	}
	if step.ManualGate && !r.stepApproved {
		return false
	}
	return true
}

// CheckRollbackConditions evaluates RollbackConditions against metrics; the
// first one that holds triggers an automatic Rollback and this returns
// true. Rollback conditions take precedence over advancement, so callers
// evaluate this before Advance/Ready in their poll loop.
func (r *Rollout) CheckRollbackConditions(metrics map[string]float64) bool {
	r.mu.Lock()
	if r.state.terminal() {
		r.mu.Unlock()
		return false
	}
	var triggeredBy string
	for _, c := range r.RollbackConditions {
		if holds, defined := c.holds(metrics); defined && holds {
			triggeredBy = c.Metric
			break
		}
	}
	r.mu.Unlock()

	if triggeredBy == "" {
		return false
	}
	_ = r.Rollback(fmt.Sprintf("rollback condition triggered: %s", triggeredBy))
	return true
}

// Tick runs one poll cycle: rollback conditions first (they take
// precedence), then advancement if the step is ready. Returns the
// resulting state.
func (r *Rollout) Tick(metrics map[string]float64) State {
	if r.CheckRollbackConditions(metrics) {
		return r.State()
	}
	if r.Ready(metrics) {
		_ = r.Advance()
	}
	return r.State()
}
