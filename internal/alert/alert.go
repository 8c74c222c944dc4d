// Package alert implements multi-channel alert fan-out: severity
// filtering, dedup suppression, digest batching, and per-channel delivery
// pacing.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/metrics"
	"golang.org/x/time/rate"
)

// ChannelKind is the closed set of delivery channels supported.
type ChannelKind int

const (
	Slack ChannelKind = iota
	PagerDuty
	Opsgenie
	Teams
	GenericWebhook
	InProcessCallback
)

func (k ChannelKind) String() string {
	switch k {
	case Slack:
		return "slack"
	case PagerDuty:
		return "pagerduty"
	case Opsgenie:
		return "opsgenie"
	case Teams:
		return "teams"
	case GenericWebhook:
		return "generic_webhook"
	case InProcessCallback:
		return "in_process_callback"
	default:
		return "unknown"
	}
}

// Severity is the alert's own severity. Higher value is more severe
// except RESOLVED, which is a terminal all-clear notice rather than a
// point on the severity scale.
type Severity int

const (
	Info Severity = iota
	Warn
	Critical
	Resolved
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Critical:
		return "CRITICAL"
	case Resolved:
		return "RESOLVED"
	default:
		return "UNKNOWN"
	}
}

func (s Severity) rank() int {
	if s == Resolved {
		return int(Critical) + 1
	}
	return int(s)
}

// Notification is one outbound alert: title, message, severity, source,
// agent_id, slo_name, timestamp, metadata, dedup_key.
type Notification struct {
	Title      string
	Message    string
	Severity   Severity
	Source     string
	AgentID    string
	SLOName    string
	IncidentID string
	Timestamp  time.Time
	Metadata   map[string]string
	DedupKey   string

	// RoutingKey is carried through for PagerDuty-like channels, which
	// additionally require a routing key alongside DedupKey.
	RoutingKey string
}

// Channel delivers a Notification somewhere. Implementations wrap a
// webhook client, a PagerDuty events API call, an in-process callback,
// etc.
type Channel interface {
	Kind() ChannelKind
	Deliver(ctx context.Context, n Notification) error
}

// CallbackChannel adapts a plain function into a Channel, used for
// IN_PROCESS_CALLBACK routing (tests, CLI tooling, local automation).
type CallbackChannel struct {
	Fn func(Notification) error
}

func (c CallbackChannel) Kind() ChannelKind { return InProcessCallback }
func (c CallbackChannel) Deliver(_ context.Context, n Notification) error {
	if c.Fn == nil {
		return nil
	}
	return c.Fn(n)
}

// Route binds a Channel to a minimum severity filter and a per-channel
// delivery rate limiter.
type Route struct {
	Channel     Channel
	MinSeverity Severity
	Limiter     *rate.Limiter
}

func (r Route) admits(n Notification) bool {
	return n.Severity.rank() >= r.MinSeverity.rank()
}

// DeliveryResult records one attempted delivery.
type DeliveryResult struct {
	Channel     ChannelKind
	Err         error
	Suppressed  bool
	RateLimited bool
}

// Dispatcher fans a Notification out across configured routes, applying
// dedup suppression and per-channel rate limiting before delivery. Each
// channel's Deliver runs independently; one channel's failure never
// blocks another.
type Dispatcher struct {
	mu     sync.Mutex
	routes []Route
	dedup  *Deduplicator
	clock  clock.Clock
}

// NewDispatcher constructs a Dispatcher with the given routes and a
// deduplicator. dedup may be nil to disable suppression.
func NewDispatcher(routes []Route, dedup *Deduplicator, clk clock.Clock) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{routes: append([]Route(nil), routes...), dedup: dedup, clock: clk}
}

// Dispatch delivers n to every route whose severity filter admits it,
// skipping routes suppressed by the deduplicator or currently
// rate-limited.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) []DeliveryResult {
	d.mu.Lock()
	routes := append([]Route(nil), d.routes...)
	dedup := d.dedup
	d.mu.Unlock()

	if dedup != nil && dedup.Suppress(n) {
		for _, r := range routes {
			if r.admits(n) {
				metrics.ObserveAlertDelivery(r.Channel.Kind().String(), "suppressed")
			}
		}
		return []DeliveryResult{{Suppressed: true}}
	}

	results := make([]DeliveryResult, 0, len(routes))
	for _, r := range routes {
		if !r.admits(n) {
			continue
		}
		if r.Limiter != nil && !r.Limiter.Allow() {
			results = append(results, DeliveryResult{Channel: r.Channel.Kind(), RateLimited: true})
			metrics.ObserveAlertDelivery(r.Channel.Kind().String(), "rate_limited")
			continue
		}
		err := r.Channel.Deliver(ctx, n)
		res := DeliveryResult{Channel: r.Channel.Kind(), Err: err}
		if err != nil {
			res.Err = fmt.Errorf("deliver via %s: %w", r.Channel.Kind(), err)
			metrics.ObserveAlertDelivery(r.Channel.Kind().String(), "error")
		} else {
			metrics.ObserveAlertDelivery(r.Channel.Kind().String(), "delivered")
		}
		results = append(results, res)
	}
	return results
}

// AddRoute appends a route at runtime.
func (d *Dispatcher) AddRoute(r Route) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes = append(d.routes, r)
}
