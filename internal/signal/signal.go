// Package signal defines the typed event that flows from SLO evaluation,
// the cost guard, and the circuit-breaker cascade detector into the
// incident detector. It is the one shared vocabulary those otherwise
// independent subsystems emit into, so none of them import one another
// directly.
package signal

import "time"

// Kind is the closed set of signal kinds the detector correlates on.
type Kind int

const (
	SLOBreach Kind = iota
	ErrorBudgetExhausted
	CostAnomaly
	PolicyViolation
	TrustRevocation
	LatencySpike
	ToolFailureSpike
)

func (k Kind) String() string {
	switch k {
	case SLOBreach:
		return "slo_breach"
	case ErrorBudgetExhausted:
		return "error_budget_exhausted"
	case CostAnomaly:
		return "cost_anomaly"
	case PolicyViolation:
		return "policy_violation"
	case TrustRevocation:
		return "trust_revocation"
	case LatencySpike:
		return "latency_spike"
	case ToolFailureSpike:
		return "tool_failure_spike"
	default:
		return "unknown"
	}
}

// Severity is the signal's own severity, independent of the incident
// severity it may be folded into.
type Severity int

const (
	Info Severity = iota
	Warn
	Critical
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Signal carries one typed reliability event.
type Signal struct {
	Kind        Kind
	SourceAgent string
	Severity    Severity
	Message     string
	Metadata    map[string]string
	Timestamp   time.Time
	DedupKey    string

	// PolicyViolationSafetyClass marks a PolicyViolation signal as
	// safety-critical, which the incident detector maps to P1 instead of
	// P2.
	PolicyViolationSafetyClass bool

	// CostAnomalyMagnitude feeds the P2-vs-P3 split for COST_ANOMALY
	// signals: a magnitude of 1.0 or more (the cost guard publishes the
	// agent's daily budget utilization here) is treated as P2, otherwise P3.
	CostAnomalyMagnitude float64
}

// Sink is what downstream subsystems (e.g. the incident detector) expose
// to receive signals. Each producer (SLO, cost guard, cascade detector)
// only needs this narrow interface, not a concrete incident type.
type Sink interface {
	Ingest(Signal)
}

// Bus forwards signals synchronously to a Sink. It has no buffer: signals
// are never queued, and none are dropped or counted as dropped.
type Bus struct {
	sink    Sink
	dropped func()
}

// NewBus wires a Bus that forwards directly into sink. Since Sink.Ingest
// is itself expected to be non-blocking and lock-protected (it is, for
// the incident detector), a channel is unnecessary indirection here; Bus
// exists as the named seam so producers never import the incident package.
func NewBus(sink Sink) *Bus {
	return &Bus{sink: sink}
}

// Publish forwards sig to the sink. Safe for concurrent use; the sink is
// responsible for its own synchronization.
func (b *Bus) Publish(sig Signal) {
	if b == nil || b.sink == nil {
		return
	}
	b.sink.Ingest(sig)
}
