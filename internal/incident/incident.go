// Package incident implements the incident detector: signal correlation,
// deduplication, a per-incident lifecycle state machine, response-hook
// dispatch, and postmortem generation.
package incident

import (
	"strings"
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/metrics"
	"github.com/agent-sre/control-plane/internal/signal"
	"github.com/agent-sre/control-plane/internal/utils"
	"github.com/google/uuid"
)

// Severity is P1 (most severe) through P4.
type Severity int

const (
	P1 Severity = 1
	P2 Severity = 2
	P3 Severity = 3
	P4 Severity = 4
)

func (s Severity) String() string {
	switch s {
	case P1:
		return "P1"
	case P2:
		return "P2"
	case P3:
		return "P3"
	case P4:
		return "P4"
	default:
		return "P4"
	}
}

// more severe than: lower numeric value wins.
func (s Severity) worseThan(other Severity) bool { return s < other }

// State is the incident lifecycle state.
type State int

const (
	Open State = iota
	Acknowledged
	Investigating
	Mitigated
	Resolved
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Acknowledged:
		return "ACKNOWLEDGED"
	case Investigating:
		return "INVESTIGATING"
	case Mitigated:
		return "MITIGATED"
	case Resolved:
		return "RESOLVED"
	default:
		return "UNKNOWN"
	}
}

// Action records one automated response triggered for an incident.
type Action struct {
	ActionType string
	Timestamp  time.Time
	Details    string
}

// TimelineEntry records a state transition or a correlated signal arrival.
type TimelineEntry struct {
	Timestamp time.Time
	Event     string
	Actor     string
	Details   string
}

// Incident is a correlated cluster of signals with a lifecycle.
type Incident struct {
	mu sync.Mutex

	ID        string
	Title     string
	AgentID   string
	Severity  Severity
	State     State
	Signals   []signal.Signal
	Actions   []Action
	Timeline  []TimelineEntry
	CreatedAt time.Time
	UpdatedAt time.Time

	clock clock.Clock
}

func newIncident(sig signal.Signal, severity Severity, clk clock.Clock) *Incident {
	now := clk.Now()
	inc := &Incident{
		ID:        uuid.NewString(),
		Title:     "incident: " + sig.Kind.String() + " on " + sig.SourceAgent,
		AgentID:   sig.SourceAgent,
		Severity:  severity,
		State:     Open,
		CreatedAt: now,
		UpdatedAt: now,
		clock:     clk,
	}
	inc.appendSignalLocked(sig)
	return inc
}

func (inc *Incident) appendSignalLocked(sig signal.Signal) {
	inc.Signals = append(inc.Signals, sig)
	inc.Timeline = append(inc.Timeline, TimelineEntry{
		Timestamp: inc.clock.Now(),
		Event:     "signal:" + sig.Kind.String(),
		Actor:     "system",
		Details:   sig.Message,
	})
	inc.UpdatedAt = inc.clock.Now()
}

// legalTransitions enforces the strict forward-only lifecycle.
var legalTransitions = map[State]State{
	Open:          Acknowledged,
	Acknowledged:  Investigating,
	Investigating: Mitigated,
	Mitigated:     Resolved,
}

func (inc *Incident) transition(target State, event string) error {
	inc.mu.Lock()
	defer inc.mu.Unlock()
	if legalTransitions[inc.State] != target {
		return utils.NewAppError("incident.transition", utils.KindInvalidState,
			"illegal transition from "+inc.State.String()+" to "+target.String(), nil)
	}
	inc.State = target
	inc.Timeline = append(inc.Timeline, TimelineEntry{Timestamp: inc.clock.Now(), Event: event, Actor: "operator"})
	inc.UpdatedAt = inc.clock.Now()
	return nil
}

func (inc *Incident) Acknowledge() error { return inc.transition(Acknowledged, "acknowledged") }
func (inc *Incident) Investigate() error { return inc.transition(Investigating, "investigating") }
func (inc *Incident) Mitigate() error    { return inc.transition(Mitigated, "mitigated") }
func (inc *Incident) Resolve() error {
	err := inc.transition(Resolved, "resolved")
	if err == nil {
		metrics.ObserveIncidentResolved()
	}
	return err
}

// Snapshot returns a shallow, safe-to-read copy of the incident's fields.
func (inc *Incident) Snapshot() Incident {
	inc.mu.Lock()
	defer inc.mu.Unlock()
	return Incident{
		ID:        inc.ID,
		Title:     inc.Title,
		AgentID:   inc.AgentID,
		Severity:  inc.Severity,
		State:     inc.State,
		Signals:   append([]signal.Signal(nil), inc.Signals...),
		Actions:   append([]Action(nil), inc.Actions...),
		Timeline:  append([]TimelineEntry(nil), inc.Timeline...),
		CreatedAt: inc.CreatedAt,
		UpdatedAt: inc.UpdatedAt,
	}
}

// DurationSeconds returns how long the incident has been (or was) open.
func (inc *Incident) DurationSeconds(now time.Time) float64 {
	inc.mu.Lock()
	defer inc.mu.Unlock()
	end := now
	if inc.State == Resolved {
		end = inc.UpdatedAt
	}
	return end.Sub(inc.CreatedAt).Seconds()
}

// ResponseFunc is a named automated response invoked with the incident it
// fired for.
type ResponseFunc func(*Incident)

// severityFor derives a new incident's initial severity from the signal
// kind.
func severityFor(sig signal.Signal) Severity {
	switch sig.Kind {
	case signal.ErrorBudgetExhausted, signal.TrustRevocation:
		return P1
	case signal.SLOBreach:
		return P2
	case signal.CostAnomaly:
		if sig.CostAnomalyMagnitude >= 1.0 {
			return P2
		}
		return P3
	case signal.PolicyViolation:
		if sig.PolicyViolationSafetyClass {
			return P1
		}
		return P2
	default:
		return P3
	}
}

// Detector correlates signals into incidents, deduplicates, and dispatches
// registered response hooks. It implements signal.Sink.
type Detector struct {
	mu sync.Mutex

	clock             clock.Clock
	correlationWindow time.Duration

	open []*Incident

	responses map[string]ResponseFunc
	bindings  map[signal.Kind][]string

	seenDedup map[string]time.Time

	store *Store
}

// DetectorOption configures a Detector at construction.
type DetectorOption func(*Detector)

// WithStore attaches a Store that persists every incident snapshot touched
// by Ingest, and every postmortem generated for a resolved incident. A nil
// store (the default) disables persistence.
func WithStore(store *Store) DetectorOption {
	return func(d *Detector) { d.store = store }
}

// NewDetector constructs a Detector with a default 300s correlation
// window when none is given.
func NewDetector(correlationWindow time.Duration, clk clock.Clock, opts ...DetectorOption) *Detector {
	if correlationWindow <= 0 {
		correlationWindow = 300 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	d := &Detector{
		clock:             clk,
		correlationWindow: correlationWindow,
		responses:         make(map[string]ResponseFunc),
		bindings:          make(map[signal.Kind][]string),
		seenDedup:         make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterResponse adds a named response callback to the resolve-once
// table: a name maps to a function pointer resolved once at startup,
// so nothing dispatches through raw strings at call sites.
func (d *Detector) RegisterResponse(name string, fn ResponseFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[name] = fn
}

// BindResponse wires which registered response names fire when a signal of
// kind arrives (new incident or appended to an existing one).
func (d *Detector) BindResponse(kind signal.Kind, responseName string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bindings[kind] = append(d.bindings[kind], responseName)
}

// OpenIncidents returns snapshots of all currently open (non-RESOLVED)
// incidents.
func (d *Detector) OpenIncidents() []Incident {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Incident, 0, len(d.open))
	for _, inc := range d.open {
		out = append(out, inc.Snapshot())
	}
	return out
}

// Ingest implements signal.Sink. It applies dedup, correlation, and
// response dispatch.
func (d *Detector) Ingest(sig signal.Signal) {
	d.mu.Lock()

	now := d.clock.Now()
	d.pruneResolvedLocked()

	if sig.Timestamp.IsZero() {
		sig.Timestamp = now
	}

	if sig.DedupKey != "" {
		if last, ok := d.seenDedup[sig.DedupKey]; ok && now.Sub(last) < d.correlationWindow {
			d.mu.Unlock()
			return
		}
		d.seenDedup[sig.DedupKey] = now
	}

	var target *Incident
	for _, inc := range d.open {
		if inc.UpdatedAt.Before(now.Add(-d.correlationWindow)) {
			continue
		}
		if inc.AgentID == sig.SourceAgent {
			target = inc
			break
		}
		if sig.DedupKey != "" && sharesPrefix(inc, sig.DedupKey) {
			target = inc
			break
		}
	}

	isNew := target == nil
	if isNew {
		target = newIncident(sig, severityFor(sig), d.clock)
		d.open = append(d.open, target)
		metrics.ObserveIncidentOpened(target.Severity.String())
	} else {
		target.mu.Lock()
		target.appendSignalLocked(sig)
		newSeverity := severityFor(sig)
		if newSeverity.worseThan(target.Severity) {
			target.Severity = newSeverity
		}
		target.mu.Unlock()
	}

	names := append([]string(nil), d.bindings[sig.Kind]...)
	responses := d.responses
	store := d.store
	d.mu.Unlock()

	for _, name := range names {
		if fn, ok := responses[name]; ok && fn != nil {
			fn(target)
			target.mu.Lock()
			target.Actions = append(target.Actions, Action{ActionType: name, Timestamp: d.clock.Now()})
			target.mu.Unlock()
		}
	}

	if store != nil {
		_ = store.SaveIncident(target.Snapshot())
	}
}

// PersistResolved generates and saves a postmortem for inc and updates its
// persisted incident snapshot. Call this after Resolve succeeds, if a
// Store was attached with WithStore.
func (d *Detector) PersistResolved(inc *Incident) error {
	if d.store == nil {
		return nil
	}
	snap := inc.Snapshot()
	if err := d.store.SaveIncident(snap); err != nil {
		return err
	}
	return d.store.SavePostmortem(Generate(snap))
}

func sharesPrefix(inc *Incident, dedupKey string) bool {
	inc.mu.Lock()
	defer inc.mu.Unlock()
	prefix := dedupKeyPrefix(dedupKey)
	for _, s := range inc.Signals {
		if s.DedupKey != "" && dedupKeyPrefix(s.DedupKey) == prefix {
			return true
		}
	}
	return false
}

// dedupKeyPrefix returns the "{agent}:{name}" portion of a
// "{agent}:{name}:{status}" dedup key, used for the "shared dedup prefix"
// correlation rule.
func dedupKeyPrefix(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) <= 2 {
		return key
	}
	return strings.Join(parts[:2], ":")
}

func (d *Detector) pruneResolvedLocked() {
	kept := d.open[:0]
	for _, inc := range d.open {
		inc.mu.Lock()
		resolved := inc.State == Resolved
		inc.mu.Unlock()
		if !resolved {
			kept = append(kept, inc)
		}
	}
	d.open = kept
}
