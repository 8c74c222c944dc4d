// Package fleet implements the fleet registry: agent registration,
// heartbeats, per-agent event counters, and health rollup.
package fleet

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/cache"
	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/metrics"
	"github.com/agent-sre/control-plane/internal/utils"
)

// Health is an agent's rolled-up health classification.
type Health int

const (
	Healthy Health = iota
	Degraded
	Unresponsive
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "HEALTHY"
	case Degraded:
		return "DEGRADED"
	case Unresponsive:
		return "UNRESPONSIVE"
	default:
		return "UNKNOWN"
	}
}

// Thresholds configures health classification.
type Thresholds struct {
	HeartbeatStaleAfter time.Duration
	MinSuccessRate      float64
}

func defaultThresholds() Thresholds {
	return Thresholds{HeartbeatStaleAfter: 90 * time.Second, MinSuccessRate: 0.90}
}

// Agent is one registered fleet member.
type Agent struct {
	mu sync.Mutex

	AgentID       string
	Tags          []string
	SLOName       string
	LastHeartbeat time.Time
	Latency       *utils.LatencyTracker

	successCount int64
	failureCount int64
	totalCostUSD float64
}

func newAgent(id string, tags []string, sloName string, clk clock.Clock) *Agent {
	return &Agent{
		AgentID:       id,
		Tags:          append([]string(nil), tags...),
		SLOName:       sloName,
		LastHeartbeat: clk.Now(),
		Latency:       utils.NewLatencyTracker(256),
	}
}

// SuccessRate returns the observed success ratio, or -1 if no events have
// been recorded yet.
func (a *Agent) SuccessRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := a.successCount + a.failureCount
	if total == 0 {
		return -1
	}
	return float64(a.successCount) / float64(total)
}

// Snapshot is an immutable view of an agent's state, safe to hand to
// external callers.
type Snapshot struct {
	AgentID       string
	Tags          []string
	SLOName       string
	LastHeartbeat time.Time
	SuccessCount  int64
	FailureCount  int64
	TotalCostUSD  float64
	Health        Health
	Latency       utils.LatencySummary
}

// Registry is the fleet's agent directory.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]*Agent
	clock      clock.Clock
	thresholds Thresholds
	cache      cache.Provider
}

// Option configures a Registry.
type Option func(*Registry)

// WithThresholds overrides the default health thresholds.
func WithThresholds(t Thresholds) Option {
	return func(r *Registry) { r.thresholds = t }
}

// WithCache attaches an optional cache.Provider used to persist heartbeat
// snapshots (e.g. for a horizontally-scaled control plane sharing fleet
// state through Valkey). A nil or NoopProvider disables persistence.
func WithCache(p cache.Provider) Option {
	return func(r *Registry) { r.cache = p }
}

// NewRegistry constructs an empty Registry.
func NewRegistry(clk clock.Clock, opts ...Option) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	r := &Registry{
		agents:     make(map[string]*Agent),
		clock:      clk,
		thresholds: defaultThresholds(),
		cache:      cache.NoopProvider{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts (or re-registers) an agent.
func (r *Registry) Register(agentID string, tags []string, sloName string) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := newAgent(agentID, tags, sloName, r.clock)
	r.agents[agentID] = a
	return a
}

// Heartbeat stamps agentID's freshness and best-effort persists a
// snapshot to the cache.
func (r *Registry) Heartbeat(ctx context.Context, agentID string) error {
	r.mu.RLock()
	a, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return utils.NewAppError("fleet.Heartbeat", utils.KindInvalidState, "unknown agent: "+agentID, nil)
	}
	a.mu.Lock()
	a.LastHeartbeat = r.clock.Now()
	snap := a.snapshotLocked(r.thresholds, r.clock.Now())
	a.mu.Unlock()

	metrics.SetFleetAgentHealth(agentID, float64(snap.Health))
	r.persistSnapshot(ctx, snap)
	return nil
}

// RecordEvent updates an agent's per-event counters.
func (r *Registry) RecordEvent(agentID string, success bool, latency time.Duration, costUSD float64) error {
	r.mu.RLock()
	a, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return utils.NewAppError("fleet.RecordEvent", utils.KindInvalidState, "unknown agent: "+agentID, nil)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if success {
		a.successCount++
	} else {
		a.failureCount++
	}
	a.totalCostUSD += costUSD
	if latency > 0 {
		a.Latency.Observe(latency)
	}
	snap := a.snapshotLocked(r.thresholds, r.clock.Now())
	metrics.SetFleetAgentHealth(agentID, float64(snap.Health))
	return nil
}

func (a *Agent) snapshotLocked(t Thresholds, now time.Time) Snapshot {
	s := Snapshot{
		AgentID:       a.AgentID,
		Tags:          append([]string(nil), a.Tags...),
		SLOName:       a.SLOName,
		LastHeartbeat: a.LastHeartbeat,
		SuccessCount:  a.successCount,
		FailureCount:  a.failureCount,
		TotalCostUSD:  a.totalCostUSD,
		Latency:       a.Latency.Summary(),
	}
	s.Health = classify(s, t, now)
	return s
}

func classify(s Snapshot, t Thresholds, now time.Time) Health {
	if now.Sub(s.LastHeartbeat) > t.HeartbeatStaleAfter {
		return Unresponsive
	}
	total := s.SuccessCount + s.FailureCount
	if total > 0 {
		rate := float64(s.SuccessCount) / float64(total)
		if rate < t.MinSuccessRate {
			return Degraded
		}
	}
	return Healthy
}

// AgentHealth returns agentID's current health classification.
func (r *Registry) AgentHealth(agentID string) (Health, error) {
	r.mu.RLock()
	a, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return Unresponsive, utils.NewAppError("fleet.AgentHealth", utils.KindInvalidState, "unknown agent: "+agentID, nil)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return classify(a.snapshotLocked(r.thresholds, r.clock.Now()), r.thresholds, r.clock.Now()), nil
}

// Status is the fleet-wide health rollup.
type Status struct {
	Total        int
	Healthy      int
	Degraded     int
	Unresponsive int
	ByTag        map[string]TagRollup
}

// TagRollup is the health rollup restricted to agents carrying a tag.
type TagRollup struct {
	Total        int
	Healthy      int
	Degraded     int
	Unresponsive int
}

// Status aggregates fleet-wide and per-tag health counts.
func (r *Registry) Status() Status {
	r.mu.RLock()
	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	thresholds := r.thresholds
	now := r.clock.Now()
	r.mu.RUnlock()

	st := Status{ByTag: make(map[string]TagRollup)}
	for _, a := range agents {
		a.mu.Lock()
		snap := a.snapshotLocked(thresholds, now)
		a.mu.Unlock()

		st.Total++
		bump(&st.Healthy, &st.Degraded, &st.Unresponsive, snap.Health)

		for _, tag := range snap.Tags {
			roll := st.ByTag[tag]
			roll.Total++
			bump(&roll.Healthy, &roll.Degraded, &roll.Unresponsive, snap.Health)
			st.ByTag[tag] = roll
		}
	}
	return st
}

func bump(healthy, degraded, unresponsive *int, h Health) {
	switch h {
	case Healthy:
		*healthy++
	case Degraded:
		*degraded++
	case Unresponsive:
		*unresponsive++
	}
}

func (r *Registry) persistSnapshot(ctx context.Context, snap Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = r.cache.Set(ctx, cache.FleetHeartbeatKey(snap.AgentID), payload, cache.FleetHeartbeatTTL)
}
