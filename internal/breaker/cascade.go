package breaker

import (
	"fmt"
	"sync"

	"github.com/agent-sre/control-plane/internal/clock"
	"github.com/agent-sre/control-plane/internal/signal"
)

// CascadeDetector watches a named set of breakers and emits a signal when
// the number simultaneously OPEN reaches a configured threshold.
type CascadeDetector struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	threshold int
	clock     clock.Clock
	bus       *signal.Bus
	lastFired bool
}

// NewCascadeDetector constructs a detector firing once open_count reaches
// threshold.
func NewCascadeDetector(threshold int, clk clock.Clock, bus *signal.Bus) *CascadeDetector {
	if clk == nil {
		clk = clock.New()
	}
	return &CascadeDetector{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		clock:     clk,
		bus:       bus,
	}
}

// Watch registers a breaker under the detector's watch set.
func (c *CascadeDetector) Watch(b *Breaker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakers[b.AgentID] = b
}

// OpenCount returns how many watched breakers are currently OPEN.
func (c *CascadeDetector) OpenCount() int {
	c.mu.Lock()
	watched := make([]*Breaker, 0, len(c.breakers))
	for _, b := range c.breakers {
		watched = append(watched, b)
	}
	c.mu.Unlock()

	count := 0
	for _, b := range watched {
		if b.State() == Open {
			count++
		}
	}
	return count
}

// CascadeDetected reports whether open_count >= threshold, emitting a
// ToolFailureSpike signal on the rising edge only.
func (c *CascadeDetector) CascadeDetected() bool {
	count := c.OpenCount()
	detected := count >= c.threshold

	c.mu.Lock()
	rising := detected && !c.lastFired
	c.lastFired = detected
	c.mu.Unlock()

	if rising && c.bus != nil {
		c.bus.Publish(signal.Signal{
			Kind:        signal.ToolFailureSpike,
			SourceAgent: "fleet",
			Severity:    signal.Critical,
			Message:     fmt.Sprintf("cascade detected: %d breakers open", count),
			Timestamp:   c.clock.Now(),
			DedupKey:    "cascade:fleet",
		})
	}
	return detected
}
