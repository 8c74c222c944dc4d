package alert

import (
	"fmt"
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
)

// Digest is a batched set of notifications flushed together.
type Digest struct {
	Notifications []Notification
	WindowStart   time.Time
	WindowEnd     time.Time
}

// Summary renders a one-line digest body, grouping by agent.
func (d Digest) Summary() string {
	counts := make(map[string]int)
	for _, n := range d.Notifications {
		counts[n.AgentID]++
	}
	out := fmt.Sprintf("%d alert(s) in the last %s:", len(d.Notifications), d.WindowEnd.Sub(d.WindowStart))
	for agent, count := range counts {
		out += fmt.Sprintf(" %s=%d", agent, count)
	}
	return out
}

// Batcher accumulates notifications and flushes them as a single Digest
// either when maxSize is reached or when flushEvery elapses, whichever
// comes first.
type Batcher struct {
	mu          sync.Mutex
	flushEvery  time.Duration
	maxSize     int
	clock       clock.Clock
	pending     []Notification
	windowStart time.Time
	onFlush     func(Digest)
}

// NewBatcher constructs a Batcher. onFlush is invoked (synchronously,
// under no lock) whenever a flush occurs, either from Add crossing
// maxSize or from an explicit FlushIfDue call.
func NewBatcher(flushEvery time.Duration, maxSize int, clk clock.Clock, onFlush func(Digest)) *Batcher {
	if clk == nil {
		clk = clock.New()
	}
	return &Batcher{flushEvery: flushEvery, maxSize: maxSize, clock: clk, onFlush: onFlush, windowStart: clk.Now()}
}

// Add appends n to the pending batch, flushing immediately if maxSize is
// reached.
func (b *Batcher) Add(n Notification) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.windowStart = b.clock.Now()
	}
	b.pending = append(b.pending, n)
	due := b.maxSize > 0 && len(b.pending) >= b.maxSize
	b.mu.Unlock()

	if due {
		b.flush()
	}
}

// FlushIfDue flushes the pending batch if flushEvery has elapsed since
// the window opened, or if there is nothing pending, does nothing.
func (b *Batcher) FlushIfDue() {
	b.mu.Lock()
	due := len(b.pending) > 0 && b.clock.Since(b.windowStart) >= b.flushEvery
	b.mu.Unlock()
	if due {
		b.flush()
	}
}

// Flush forces an immediate flush regardless of timing.
func (b *Batcher) Flush() {
	b.flush()
}

func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	digest := Digest{
		Notifications: b.pending,
		WindowStart:   b.windowStart,
		WindowEnd:     b.clock.Now(),
	}
	b.pending = nil
	onFlush := b.onFlush
	b.mu.Unlock()

	if onFlush != nil {
		onFlush(digest)
	}
}

// Pending returns how many notifications are currently batched.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
