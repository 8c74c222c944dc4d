package slo

import (
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
)

type event struct {
	at   time.Time
	good bool
}

// ErrorBudget tracks the tolerable failure rate over a rolling window.
//
// Consumed is computed as min(total, observedRate), where observedRate is
// bad/total events over the window and total doubles as the sustainable
// error rate. That makes burn_rate==1 coincide with consumed==total at
// the window's end.
type ErrorBudget struct {
	mu            sync.Mutex
	clock         clock.Clock
	total         float64
	windowSeconds float64
	events        []event

	warnThreshold     float64
	criticalThreshold float64
}

// NewErrorBudget constructs a budget with the standard burn-rate alert
// pair (warn=2.0, critical=10.0).
func NewErrorBudget(total float64, windowSeconds float64, clk clock.Clock) *ErrorBudget {
	if clk == nil {
		clk = clock.New()
	}
	return &ErrorBudget{
		clock:             clk,
		total:             total,
		windowSeconds:     windowSeconds,
		warnThreshold:     2.0,
		criticalThreshold: 10.0,
	}
}

// WithThresholds overrides the default warn/critical burn-rate multipliers.
func (b *ErrorBudget) WithThresholds(warn, critical float64) *ErrorBudget {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.warnThreshold = warn
	b.criticalThreshold = critical
	return b
}

// RecordEvent appends a (timestamp, good) pair and trims expired entries.
func (b *ErrorBudget) RecordEvent(good bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{at: b.clock.Now(), good: good})
	b.pruneLocked()
}

func (b *ErrorBudget) pruneLocked() {
	if b.windowSeconds <= 0 || len(b.events) == 0 {
		return
	}
	cutoff := b.clock.Now().Add(-time.Duration(b.windowSeconds * float64(time.Second)))
	idx := 0
	for idx < len(b.events) && b.events[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		b.events = append([]event(nil), b.events[idx:]...)
	}
}

func (b *ErrorBudget) countSince(cutoff time.Time) (bad, totalN int) {
	for _, e := range b.events {
		if e.at.Before(cutoff) {
			continue
		}
		totalN++
		if !e.good {
			bad++
		}
	}
	return
}

// Total returns the configured tolerable failure fraction.
func (b *ErrorBudget) Total() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Consumed returns the fraction of the budget consumed so far.
func (b *ErrorBudget) Consumed() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	bad, totalN := b.countSince(time.Time{})
	if totalN == 0 {
		return 0
	}
	observedRate := float64(bad) / float64(totalN)
	if b.total <= 0 {
		if observedRate > 0 {
			return 0 // undefined sustainable rate; nothing to scale against
		}
		return 0
	}
	consumed := observedRate
	if consumed > b.total {
		consumed = b.total
	}
	return consumed
}

// Remaining returns max(0, total-consumed).
func (b *ErrorBudget) Remaining() float64 {
	r := b.Total() - b.Consumed()
	if r < 0 {
		return 0
	}
	return r
}

// RemainingPercent returns 100*remaining/total, or 0 if total<=0.
func (b *ErrorBudget) RemainingPercent() float64 {
	total := b.Total()
	if total <= 0 {
		return 0
	}
	return 100 * b.Remaining() / total
}

// IsExhausted reports whether the remaining budget is zero.
func (b *ErrorBudget) IsExhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	bad, totalN := b.countSince(time.Time{})
	if totalN == 0 {
		return false
	}
	observedRate := float64(bad) / float64(totalN)
	consumed := observedRate
	if b.total > 0 && consumed > b.total {
		consumed = b.total
	}
	remaining := b.total - consumed
	if remaining < 0 {
		remaining = 0
	}
	return remaining == 0
}

// BurnRate computes the instantaneous ratio over the last subWindow of
// observed-failure-rate to sustainable-failure-rate. Zero events in the
// sub-window yields 0.
func (b *ErrorBudget) BurnRate(subWindow time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked()
	if b.total <= 0 {
		return 0
	}
	cutoff := b.clock.Now().Add(-subWindow)
	bad, totalN := b.countSince(cutoff)
	if totalN == 0 {
		return 0
	}
	observedRate := float64(bad) / float64(totalN)
	return observedRate / b.total
}

// MultiWindowBurnRate evaluates BurnRate across several windows (e.g. the
// Google-style 1h/6h/24h/72h quartet) and reports whether any window
// crosses the warn or critical multiplier.
func (b *ErrorBudget) MultiWindowBurnRate(windows []time.Duration) (rates map[time.Duration]float64, warnFiring, criticalFiring bool) {
	rates = make(map[time.Duration]float64, len(windows))
	for _, w := range windows {
		r := b.BurnRate(w)
		rates[w] = r
		if r >= b.criticalThreshold {
			criticalFiring = true
		} else if r >= b.warnThreshold {
			warnFiring = true
		}
	}
	return
}

// WindowSeconds returns the configured rolling window length.
func (b *ErrorBudget) WindowSeconds() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.windowSeconds
}
