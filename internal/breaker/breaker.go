// Package breaker implements the per-agent three-state circuit breaker and
// its cascade detector.
package breaker

import (
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/metrics"
	"github.com/agent-sre/control-plane/internal/utils"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config parameterizes a Breaker. Zero values fall back to the standard
// defaults: failure_threshold=5, recovery_timeout=30s, half_open_max_trials=1.
type Config struct {
	FailureThreshold  int
	RecoveryTimeout   time.Duration
	HalfOpenMaxTrials int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxTrials <= 0 {
		c.HalfOpenMaxTrials = 1
	}
	return c
}

// Breaker is a per-agent isolator wrapping calls to a possibly-failing
// dependency.
type Breaker struct {
	mu sync.Mutex

	AgentID string
	cfg     Config
	clock   clock.Clock

	state          State
	failureCount   int
	openedAt       time.Time
	halfOpenTrials int
}

// New constructs a Breaker in the CLOSED state.
func New(agentID string, cfg Config, clk clock.Clock) *Breaker {
	if clk == nil {
		clk = clock.New()
	}
	return &Breaker{AgentID: agentID, cfg: cfg.withDefaults(), clock: clk, state: Closed}
}

// State returns the current state, lazily promoting OPEN to HALF_OPEN when
// the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybePromoteLocked()
	return b.state
}

func (b *Breaker) maybePromoteLocked() {
	if b.state == Open && b.clock.Since(b.openedAt) >= b.cfg.RecoveryTimeout {
		b.state = HalfOpen
		b.halfOpenTrials = 0
		metrics.ObserveBreakerTransition(b.AgentID, b.state.String())
	}
}

// admit decides whether a call may proceed, and if so whether it is a
// half-open trial.
func (b *Breaker) admit() (proceed bool, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybePromoteLocked()

	switch b.state {
	case Closed:
		return true, false
	case HalfOpen:
		if b.halfOpenTrials >= b.cfg.HalfOpenMaxTrials {
			return false, false
		}
		b.halfOpenTrials++
		return true, true
	default: // Open
		return false, false
	}
}

func (b *Breaker) onSuccess(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		if trial {
			b.state = Closed
			b.failureCount = 0
			b.halfOpenTrials = 0
			metrics.ObserveBreakerTransition(b.AgentID, b.state.String())
		}
	}
}

func (b *Breaker) onFailure(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = b.clock.Now()
			metrics.ObserveBreakerTransition(b.AgentID, b.state.String())
		}
	case HalfOpen:
		if trial {
			b.state = Open
			b.openedAt = b.clock.Now()
			b.halfOpenTrials = 0
			metrics.ObserveBreakerTransition(b.AgentID, b.state.String())
		}
	}
}

// Call executes fn if the breaker admits the call. If it does not admit
// the call, fallback runs (if non-nil); otherwise a CircuitOpen AppError is
// returned.
func (b *Breaker) Call(fn func() error, fallback func() error) error {
	proceed, trial := b.admit()
	if !proceed {
		if fallback != nil {
			return fallback()
		}
		return utils.NewAppError("breaker.Call", utils.KindCircuitOpen,
			"circuit open for agent "+b.AgentID, nil)
	}

	err := fn()
	if err != nil {
		b.onFailure(trial)
		return err
	}
	b.onSuccess(trial)
	return nil
}

// RecordFailure directly records a failed call outcome, for callers that
// perform the call themselves (or for tests driving the state machine).
func (b *Breaker) RecordFailure() {
	proceed, trial := b.admit()
	if !proceed {
		return
	}
	b.onFailure(trial)
}

// RecordSuccess directly records a successful call outcome.
func (b *Breaker) RecordSuccess() {
	proceed, trial := b.admit()
	if !proceed {
		return
	}
	b.onSuccess(trial)
}

// FailureCount returns the current consecutive-failure count (CLOSED
// state only; meaningless once OPEN).
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
