package fleet

import (
	"sync"

	"github.com/agent-sre/control-plane/internal/breaker"
)

// BreakerRegistry tracks each fleet agent's circuit breaker alongside a
// fleet-wide CascadeDetector, so registering an agent and watching its
// breaker happen in one place instead of every caller wiring both.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
	cascade  *breaker.CascadeDetector
}

// NewBreakerRegistry wraps an existing CascadeDetector; callers construct
// the detector themselves (with the desired threshold, clock, and
// signal.Bus) and pass it in here.
func NewBreakerRegistry(cascade *breaker.CascadeDetector) *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*breaker.Breaker), cascade: cascade}
}

// Watch registers b under agentID and enrolls it in cascade detection.
func (r *BreakerRegistry) Watch(agentID string, b *breaker.Breaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[agentID] = b
	r.cascade.Watch(b)
}

// Get returns the breaker registered for agentID, if any.
func (r *BreakerRegistry) Get(agentID string) (*breaker.Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[agentID]
	return b, ok
}

// CascadeDetected reports whether the fleet-wide open-breaker count has
// crossed the cascade threshold, publishing a signal on rising edge.
func (r *BreakerRegistry) CascadeDetected() bool {
	return r.cascade.CascadeDetected()
}
