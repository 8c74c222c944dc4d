package sli

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/agent-sre/control-plane/internal/cache"
)

// Registry holds named SLIs a set of agents record samples into. It is
// constructed once at startup and threaded through by reference rather
// than kept as a package-level global.
type Registry struct {
	mu   sync.RWMutex
	slis map[string]SLI
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{slis: make(map[string]SLI)}
}

// Register adds or replaces the named SLI.
func (r *Registry) Register(s SLI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slis[s.Name()] = s
}

// Get returns the named SLI, if registered.
func (r *Registry) Get(name string) (SLI, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.slis[name]
	return s, ok
}

// Names returns all registered SLI names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.slis))
	for name := range r.slis {
		out = append(out, name)
	}
	return out
}

type snapshotPayload struct {
	Aggregate float64 `json:"aggregate"`
}

// PersistSnapshots writes each registered SLI's current aggregate into the
// cache under its per-agent-per-indicator key, best effort. An indicator
// with no samples yet in its window is skipped rather than persisting a
// misleading zero.
func (r *Registry) PersistSnapshots(ctx context.Context, agentID string, c cache.Provider) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, s := range r.slis {
		agg, ok := s.CurrentAggregate()
		if !ok {
			continue
		}
		payload, err := json.Marshal(snapshotPayload{Aggregate: agg})
		if err != nil {
			continue
		}
		_ = c.Set(ctx, cache.SLISnapshotKey(agentID, name), payload, cache.SLISnapshotTTL)
	}
}
