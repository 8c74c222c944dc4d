package alert

import (
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
)

// Deduplicator suppresses repeat notifications sharing a DedupKey within a
// sliding window, the same dedup discipline the incident detector applies
// to inbound signals, applied here to outbound alerts so a flapping
// incident doesn't re-page every poll cycle.
type Deduplicator struct {
	mu     sync.Mutex
	window time.Duration
	clock  clock.Clock
	seen   map[string]time.Time
}

// NewDeduplicator constructs a Deduplicator with the given suppression
// window.
func NewDeduplicator(window time.Duration, clk clock.Clock) *Deduplicator {
	if clk == nil {
		clk = clock.New()
	}
	return &Deduplicator{window: window, clock: clk, seen: make(map[string]time.Time)}
}

// Suppress reports whether n should be dropped because its DedupKey was
// seen within the window. It always records the key as seen, whether or
// not it suppresses this call (first call through never suppresses).
func (d *Deduplicator) Suppress(n Notification) bool {
	if n.DedupKey == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clock.Now()
	last, ok := d.seen[n.DedupKey]
	d.seen[n.DedupKey] = now
	return ok && now.Sub(last) < d.window
}

// Reset clears suppression state for a key, used when an incident
// resolves and a fresh recurrence should page again immediately.
func (d *Deduplicator) Reset(dedupKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, dedupKey)
}
