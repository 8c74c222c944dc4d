// Package cost implements the hierarchical cost-budget enforcer: per-task
// and per-agent-daily limits, an org-wide monthly budget, throttle/kill
// escalation, and an advisory anomaly-detection ensemble.
package cost

import (
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/metrics"
	"github.com/agent-sre/control-plane/internal/signal"
)

// ReasonCode is the closed set of check_task outcomes.
type ReasonCode string

const (
	ReasonOK            ReasonCode = "OK"
	ReasonKilled        ReasonCode = "KILLED"
	ReasonPerTaskLimit  ReasonCode = "PER_TASK_LIMIT"
	ReasonDailyLimit    ReasonCode = "DAILY_LIMIT"
	ReasonOrgBudget     ReasonCode = "ORG_BUDGET"
	ReasonThrottledOnly ReasonCode = "THROTTLED_ONLY"
)

const recentCostsCapacity = 256

// AgentBudget is one agent's cost limits and running state.
type AgentBudget struct {
	mu sync.Mutex

	PerTaskLimit float64
	DailyLimit   float64
	spentToday   float64
	recentCosts  []float64
	throttled    bool
	killed       bool
	crossed      map[int]bool // index into thresholds already alerted today
	day          int
}

func newAgentBudget(perTask, daily float64, now time.Time) *AgentBudget {
	return &AgentBudget{
		PerTaskLimit: perTask,
		DailyLimit:   daily,
		crossed:      make(map[int]bool),
		day:          dayOf(now),
	}
}

func dayOf(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

func (a *AgentBudget) maybeRollDayLocked(now time.Time) {
	today := dayOf(now)
	if today == a.day {
		return
	}
	a.day = today
	a.spentToday = 0
	a.throttled = false
	a.killed = false
	a.crossed = make(map[int]bool)
}

// SpentToday returns the agent's spend since the last daily reset.
func (a *AgentBudget) SpentToday() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spentToday
}

// Throttled reports the advisory throttle flag.
func (a *AgentBudget) Throttled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.throttled
}

// Killed reports whether the agent has been kill-switched for the day.
func (a *AgentBudget) Killed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.killed
}

// OrgBudget aggregates process-wide monthly spend.
type OrgBudget struct {
	mu            sync.Mutex
	MonthlyBudget float64
	monthlySpent  float64
	month         int
}

// NewOrgBudget constructs an OrgBudget with the given monthly cap. A zero
// or negative cap means "no org-wide limit enforced".
func NewOrgBudget(monthlyBudget float64, now time.Time) *OrgBudget {
	y, m, _ := now.Date()
	return &OrgBudget{MonthlyBudget: monthlyBudget, month: y*100 + int(m)}
}

func (o *OrgBudget) maybeRollMonthLocked(now time.Time) {
	y, m, _ := now.Date()
	cur := y*100 + int(m)
	if cur == o.month {
		return
	}
	o.month = cur
	o.monthlySpent = 0
}

// MonthlySpent returns spend recorded so far this month.
func (o *OrgBudget) MonthlySpent() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.monthlySpent
}

// Guard is the hierarchical cost enforcer.
type Guard struct {
	mu    sync.Mutex
	clock clock.Clock
	bus   *signal.Bus

	agents map[string]*AgentBudget
	org    *OrgBudget

	defaultPerTaskLimit float64
	defaultDailyLimit   float64

	throttleThreshold  float64
	killThreshold      float64
	alertThresholds    []float64
	anomalyEnsemble    *Ensemble
}

// Config configures a new Guard.
type Config struct {
	DefaultPerTaskLimit float64
	DefaultDailyLimit   float64
	OrgMonthlyBudget    float64
	ThrottleThreshold   float64 // default 0.85
	KillThreshold       float64 // default 0.95
	AlertThresholds     []float64
}

// NewGuard constructs a Guard. Unset numeric fields fall back to the
// standard defaults (throttle=0.85, kill=0.95).
func NewGuard(cfg Config, clk clock.Clock, bus *signal.Bus) *Guard {
	if clk == nil {
		clk = clock.New()
	}
	throttle := cfg.ThrottleThreshold
	if throttle <= 0 {
		throttle = 0.85
	}
	kill := cfg.KillThreshold
	if kill <= 0 {
		kill = 0.95
	}
	thresholds := cfg.AlertThresholds
	if len(thresholds) == 0 {
		thresholds = []float64{0.5, 0.75, 0.9, 0.95}
	}
	return &Guard{
		clock:               clk,
		bus:                 bus,
		agents:              make(map[string]*AgentBudget),
		org:                 NewOrgBudget(cfg.OrgMonthlyBudget, clk.Now()),
		defaultPerTaskLimit: cfg.DefaultPerTaskLimit,
		defaultDailyLimit:   cfg.DefaultDailyLimit,
		throttleThreshold:   throttle,
		killThreshold:       kill,
		alertThresholds:     thresholds,
		anomalyEnsemble:     NewEnsemble(),
	}
}

func (g *Guard) agentLocked(agentID string) *AgentBudget {
	a, ok := g.agents[agentID]
	if !ok {
		a = newAgentBudget(g.defaultPerTaskLimit, g.defaultDailyLimit, g.clock.Now())
		g.agents[agentID] = a
	}
	return a
}

// SetAgentLimits overrides the per-task/daily limit for one agent.
func (g *Guard) SetAgentLimits(agentID string, perTask, daily float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := g.agentLocked(agentID)
	a.mu.Lock()
	a.PerTaskLimit = perTask
	a.DailyLimit = daily
	a.mu.Unlock()
}

// CheckTask evaluates whether estimatedCost may proceed, running the
// checks in order: kill switch, per-task limit, daily limit, org budget,
// throttle.
func (g *Guard) CheckTask(agentID string, estimatedCost float64) (bool, ReasonCode) {
	g.mu.Lock()
	a := g.agentLocked(agentID)
	g.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	now := g.clock.Now()
	a.maybeRollDayLocked(now)

	if a.killed {
		metrics.ObserveCostCheck(string(ReasonKilled))
		return false, ReasonKilled
	}
	if a.PerTaskLimit > 0 && estimatedCost > a.PerTaskLimit {
		metrics.ObserveCostCheck(string(ReasonPerTaskLimit))
		return false, ReasonPerTaskLimit
	}
	if a.DailyLimit > 0 && a.spentToday+estimatedCost > a.DailyLimit {
		metrics.ObserveCostCheck(string(ReasonDailyLimit))
		return false, ReasonDailyLimit
	}

	g.org.mu.Lock()
	g.org.maybeRollMonthLocked(now)
	orgWouldExceed := g.org.MonthlyBudget > 0 && g.org.monthlySpent+estimatedCost > g.org.MonthlyBudget
	g.org.mu.Unlock()
	if orgWouldExceed {
		metrics.ObserveCostCheck(string(ReasonOrgBudget))
		return false, ReasonOrgBudget
	}

	if a.DailyLimit > 0 {
		utilization := (a.spentToday + estimatedCost) / a.DailyLimit
		if utilization >= g.throttleThreshold {
			a.throttled = true
			metrics.ObserveCostCheck(string(ReasonThrottledOnly))
			return true, ReasonThrottledOnly
		}
	}
	metrics.ObserveCostCheck(string(ReasonOK))
	return true, ReasonOK
}

// CostAlert is one alert emitted by RecordCost: a threshold crossing, a
// kill-switch trip, or an anomaly-detector finding.
type CostAlert struct {
	AgentID  string
	Kind     string // "threshold", "kill", "anomaly"
	Detector string // populated for "anomaly"
	Severity AnomalySeverity
	Message  string
}

// RecordCost appends a cost observation, updates running totals, evaluates
// the anomaly ensemble and threshold crossings, and applies the kill
// switch when utilization reaches killThreshold.
func (g *Guard) RecordCost(agentID, taskID string, usd float64, breakdown map[string]float64) []CostAlert {
	g.mu.Lock()
	a := g.agentLocked(agentID)
	g.mu.Unlock()

	now := g.clock.Now()
	var alerts []CostAlert

	a.mu.Lock()
	a.maybeRollDayLocked(now)

	history := append([]float64(nil), a.recentCosts...)

	a.spentToday += usd
	a.recentCosts = append(a.recentCosts, usd)
	if len(a.recentCosts) > recentCostsCapacity {
		a.recentCosts = a.recentCosts[len(a.recentCosts)-recentCostsCapacity:]
	}

	results, _ := g.anomalyEnsemble.Evaluate(history, usd)
	for _, r := range results {
		alerts = append(alerts, CostAlert{
			AgentID:  agentID,
			Kind:     "anomaly",
			Detector: r.Detector,
			Severity: r.Severity,
			Message:  "cost anomaly detected by " + r.Detector,
		})
	}

	var utilization float64
	if a.DailyLimit > 0 {
		utilization = a.spentToday / a.DailyLimit
		for i, threshold := range g.alertThresholds {
			if utilization >= threshold && !a.crossed[i] {
				a.crossed[i] = true
				alerts = append(alerts, CostAlert{
					AgentID: agentID,
					Kind:    "threshold",
					Message: "daily budget utilization crossed threshold",
				})
			}
		}
		if utilization >= g.killThreshold && !a.killed {
			a.killed = true
			metrics.ObserveCostKillSwitch()
			alerts = append(alerts, CostAlert{
				AgentID:  agentID,
				Kind:     "kill",
				Severity: SeverityCritical,
				Message:  "kill switch engaged: daily utilization exceeded threshold",
			})
		}
	}
	killed := a.killed
	a.mu.Unlock()

	g.org.mu.Lock()
	g.org.maybeRollMonthLocked(now)
	g.org.monthlySpent += usd
	g.org.mu.Unlock()

	if killed && g.bus != nil {
		g.bus.Publish(signal.Signal{
			Kind:                 signal.CostAnomaly,
			SourceAgent:          agentID,
			Severity:             signal.Critical,
			Message:              "cost kill switch engaged",
			Timestamp:            now,
			DedupKey:             "cost:" + agentID + ":killed",
			CostAnomalyMagnitude: utilization,
		})
	} else if g.bus != nil {
		for _, al := range alerts {
			if al.Kind == "anomaly" && al.Severity == SeverityCritical {
				g.bus.Publish(signal.Signal{
					Kind:                 signal.CostAnomaly,
					SourceAgent:          agentID,
					Severity:             signal.Warn,
					Message:              al.Message,
					Timestamp:            now,
					DedupKey:             "cost:" + agentID + ":" + al.Detector,
					CostAnomalyMagnitude: utilization,
				})
			}
		}
	}

	return alerts
}

// ResetDaily clears the day's spend, throttle/kill flags, and
// threshold-crossing state for agentID (also happens automatically at the
// first check/record after local-day rollover).
func (g *Guard) ResetDaily(agentID string) {
	g.mu.Lock()
	a := g.agentLocked(agentID)
	g.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.spentToday = 0
	a.throttled = false
	a.killed = false
	a.crossed = make(map[int]bool)
	a.day = dayOf(g.clock.Now())
}
