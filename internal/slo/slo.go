// Package slo implements Service Level Objectives: a named set of SLIs
// plus an ErrorBudget, evaluated into a composite Status that drives
// SLO_BREACH / ERROR_BUDGET_EXHAUSTED signal emission.
package slo

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/metrics"
	"github.com/agent-sre/control-plane/internal/signal"
	"github.com/agent-sre/control-plane/internal/sli"
	"github.com/agent-sre/control-plane/internal/utils"
)

// Status is the SLO's composite health, totally ordered:
// HEALTHY < WARNING < CRITICAL < EXHAUSTED < UNKNOWN.
type Status int

const (
	Healthy Status = iota
	Warning
	Critical
	Exhausted
	Unknown
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "HEALTHY"
	case Warning:
		return "WARNING"
	case Critical:
		return "CRITICAL"
	case Exhausted:
		return "EXHAUSTED"
	case Unknown:
		return "UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

// BurnRateWindows is the default Google-style multi-window burn-rate
// evaluation quartet.
var BurnRateWindows = []time.Duration{time.Hour, 6 * time.Hour, 24 * time.Hour, 72 * time.Hour}

// SLO is a named set of SLIs plus an error budget, bound to one agent.
type SLO struct {
	mu sync.Mutex

	name        string
	agentID     string
	clock       clock.Clock
	bus         *signal.Bus
	budget      *ErrorBudget
	indicators  []sli.SLI
	names       map[string]struct{}
	windows     []time.Duration
	marginDefault float64

	lastStatus Status
}

// Option configures an SLO at construction.
type Option func(*SLO)

// WithBurnRateWindows overrides the multi-window burn-rate evaluation set.
func WithBurnRateWindows(windows []time.Duration) Option {
	return func(s *SLO) { s.windows = windows }
}

// WithComplianceMargin overrides the default (0) margin subtracted from an
// SLI's own target before comparing against its compliance fraction.
func WithComplianceMargin(margin float64) Option {
	return func(s *SLO) { s.marginDefault = margin }
}

// New constructs an SLO. If budget is nil, one is derived as
// 1 - min(targets of lower-bound SLIs) over a default 30-day window.
func New(name, agentID string, indicators []sli.SLI, budget *ErrorBudget, clk clock.Clock, bus *signal.Bus, opts ...Option) (*SLO, error) {
	if clk == nil {
		clk = clock.New()
	}
	seen := make(map[string]struct{}, len(indicators))
	for _, ind := range indicators {
		if _, dup := seen[ind.Name()]; dup {
			return nil, utils.NewAppError("slo.New", utils.KindInvalidConfig,
				fmt.Sprintf("duplicate SLI name %q", ind.Name()), nil)
		}
		seen[ind.Name()] = struct{}{}
	}

	if budget == nil {
		minTarget := math.Inf(1)
		for _, ind := range indicators {
			if ind.Orientation() == sli.LowerBound && ind.Target() < minTarget {
				minTarget = ind.Target()
			}
		}
		if math.IsInf(minTarget, 1) {
			minTarget = 1
		}
		budget = NewErrorBudget(1-minTarget, 30*24*3600, clk)
	}

	s := &SLO{
		name:       name,
		agentID:    agentID,
		clock:      clk,
		bus:        bus,
		budget:     budget,
		indicators: append([]sli.SLI(nil), indicators...),
		names:      seen,
		windows:    BurnRateWindows,
		lastStatus: Healthy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the SLO's name.
func (s *SLO) Name() string { return s.name }

// Budget returns the underlying ErrorBudget.
func (s *SLO) Budget() *ErrorBudget { return s.budget }

// Indicators returns the SLO's SLIs in registration order.
func (s *SLO) Indicators() []sli.SLI {
	return append([]sli.SLI(nil), s.indicators...)
}

// Evaluate computes the composite status and emits SLO_BREACH /
// ERROR_BUDGET_EXHAUSTED signals idempotently on transition into
// CRITICAL / EXHAUSTED.
func (s *SLO) Evaluate() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	anyMissing := false
	anyBreaching := false
	anyBelowMargin := false

	for _, ind := range s.indicators {
		agg, aggOK := ind.CurrentAggregate()
		compliance, compOK := ind.ComplianceFraction()
		if !aggOK || !compOK {
			anyMissing = true
			continue
		}
		if ind.Orientation() == sli.LowerBound {
			if agg < ind.Target() {
				anyBreaching = true
			}
		} else {
			if agg > ind.Target() {
				anyBreaching = true
			}
		}
		if compliance < ind.Target()-s.marginDefault {
			anyBelowMargin = true
		}
	}

	var status Status
	switch {
	case anyMissing && !anyBreaching:
		status = Unknown
	case s.budget.IsExhausted():
		status = Exhausted
	default:
		_, warnFiring, criticalFiring := s.budget.MultiWindowBurnRate(s.windows)
		switch {
		case criticalFiring || anyBreaching:
			status = Critical
		case warnFiring || anyBelowMargin:
			status = Warning
		default:
			status = Healthy
		}
	}

	s.emitOnTransitionLocked(status)
	s.lastStatus = status
	metrics.ObserveSLOEvaluation(status.String())
	return status
}

func (s *SLO) emitOnTransitionLocked(newStatus Status) {
	if s.bus == nil {
		return
	}
	if newStatus == s.lastStatus {
		return
	}
	dedup := fmt.Sprintf("%s:%s:%s", s.agentID, s.name, newStatus)
	switch newStatus {
	case Critical:
		s.bus.Publish(signal.Signal{
			Kind:        signal.SLOBreach,
			SourceAgent: s.agentID,
			Severity:    signal.Critical,
			Message:     fmt.Sprintf("SLO %q entered CRITICAL", s.name),
			Timestamp:   s.clock.Now(),
			DedupKey:    dedup,
		})
	case Exhausted:
		s.bus.Publish(signal.Signal{
			Kind:        signal.ErrorBudgetExhausted,
			SourceAgent: s.agentID,
			Severity:    signal.Critical,
			Message:     fmt.Sprintf("SLO %q error budget exhausted", s.name),
			Timestamp:   s.clock.Now(),
			DedupKey:    dedup,
		})
	}
}

// LastStatus returns the status from the most recent Evaluate call without
// recomputing it.
func (s *SLO) LastStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}

// sortedNames returns the SLO's indicator names in sorted order. Nothing in
// the module calls it.
func (s *SLO) sortedNames() []string {
	names := make([]string, 0, len(s.indicators))
	for _, ind := range s.indicators {
		names = append(names, ind.Name())
	}
	sort.Strings(names)
	return names
}
