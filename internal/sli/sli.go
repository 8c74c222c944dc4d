// Package sli implements the seven built-in Service Level Indicators plus
// the capability interface custom indicators must satisfy. Every SLI owns
// a bounded time window of samples; readers always see a consistent
// snapshot even while writers are appending concurrently.
package sli

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/agent-sre/control-plane/internal/clock"
)

// Orientation tells the SLO engine which direction a breach runs.
type Orientation int

const (
	// LowerBound means the aggregate must be >= target (e.g. success rate).
	LowerBound Orientation = iota
	// UpperBound means the aggregate must be <= target (e.g. latency).
	UpperBound
)

// Aggregation selects how CurrentAggregate folds the window.
type Aggregation int

const (
	AggregateMean Aggregation = iota
	AggregatePercentile
	AggregateMax
)

// Sample is one recorded observation.
type Sample struct {
	Timestamp time.Time
	Value     float64
	Meta      map[string]string
}

// SLI is the capability interface every built-in and custom indicator
// implements. Implementations must be safe for concurrent use.
type SLI interface {
	Name() string
	Record(value float64, meta map[string]string) Sample
	SamplesInWindow() []Sample
	CurrentAggregate() (float64, bool)
	ComplianceFraction() (float64, bool)
	Target() float64
	Window() time.Duration
	Orientation() Orientation
}

// Indicator is a generic windowed SLI. The seven built-ins and any custom
// registration are all instances of Indicator configured differently,
// rather than one type per indicator.
type Indicator struct {
	name        string
	clock       clock.Clock
	window      time.Duration
	target      float64
	orientation Orientation
	aggregation Aggregation
	percentile  float64 // only meaningful when aggregation == AggregatePercentile

	mu      sync.Mutex
	samples []Sample
}

// NewIndicator constructs a generic Indicator. Custom SLIs use this
// directly; built-in constructors below are thin named wrappers.
func NewIndicator(name string, window time.Duration, target float64, orientation Orientation, aggregation Aggregation, percentile float64, clk clock.Clock) *Indicator {
	if clk == nil {
		clk = clock.New()
	}
	return &Indicator{
		name:        name,
		clock:       clk,
		window:      window,
		target:      target,
		orientation: orientation,
		aggregation: aggregation,
		percentile:  percentile,
	}
}

func (i *Indicator) Name() string             { return i.name }
func (i *Indicator) Target() float64          { return i.target }
func (i *Indicator) Window() time.Duration    { return i.window }
func (i *Indicator) Orientation() Orientation { return i.orientation }

// Record appends a sample and prunes anything older than now-window.
func (i *Indicator) Record(value float64, meta map[string]string) Sample {
	i.mu.Lock()
	defer i.mu.Unlock()

	s := Sample{Timestamp: i.clock.Now(), Value: value, Meta: meta}
	i.samples = append(i.samples, s)
	i.pruneLocked()
	return s
}

func (i *Indicator) pruneLocked() {
	if i.window <= 0 || len(i.samples) == 0 {
		return
	}
	cutoff := i.clock.Now().Add(-i.window)
	idx := 0
	for idx < len(i.samples) && i.samples[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		i.samples = append([]Sample(nil), i.samples[idx:]...)
	}
}

// SamplesInWindow returns a copy of the live window, oldest first.
func (i *Indicator) SamplesInWindow() []Sample {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pruneLocked()
	out := make([]Sample, len(i.samples))
	copy(out, i.samples)
	return out
}

// CurrentAggregate returns the aggregate per the indicator's variant, or
// false when the window has zero samples: a zero count must never be
// reported as an aggregate of 0.0.
func (i *Indicator) CurrentAggregate() (float64, bool) {
	samples := i.SamplesInWindow()
	if len(samples) == 0 {
		return 0, false
	}
	switch i.aggregation {
	case AggregateMean:
		return mean(samples), true
	case AggregateMax:
		return maxOf(samples), true
	case AggregatePercentile:
		return percentileNearestRank(samples, i.percentile), true
	default:
		return mean(samples), true
	}
}

// ComplianceFraction returns the fraction of individual samples meeting the
// oriented target, or false when the window is empty.
func (i *Indicator) ComplianceFraction() (float64, bool) {
	samples := i.SamplesInWindow()
	if len(samples) == 0 {
		return 0, false
	}
	meeting := 0
	for _, s := range samples {
		if i.meets(s.Value) {
			meeting++
		}
	}
	return float64(meeting) / float64(len(samples)), true
}

func (i *Indicator) meets(v float64) bool {
	if i.orientation == LowerBound {
		return v >= i.target
	}
	return v <= i.target
}

func mean(samples []Sample) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples))
}

func maxOf(samples []Sample) float64 {
	m := math.Inf(-1)
	for _, s := range samples {
		if s.Value > m {
			m = s.Value
		}
	}
	return m
}

// percentileNearestRank implements nearest-rank percentile on the sorted
// window. With a single sample the percentile equals that sample.
func percentileNearestRank(samples []Sample, p float64) float64 {
	if len(samples) == 1 {
		return samples[0].Value
	}
	values := make([]float64, len(samples))
	for idx, s := range samples {
		values[idx] = s.Value
	}
	sort.Float64s(values)

	if p <= 0 {
		return values[0]
	}
	if p >= 100 {
		return values[len(values)-1]
	}
	rank := int(math.Ceil(p / 100.0 * float64(len(values))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(values) {
		rank = len(values)
	}
	return values[rank-1]
}

// Built-in variant constructors. Each names its sample domain and
// aggregate/orientation.

func NewTaskSuccessRate(window time.Duration, target float64, clk clock.Clock) *Indicator {
	return NewIndicator("task_success_rate", window, target, LowerBound, AggregateMean, 0, clk)
}

func NewToolCallAccuracy(window time.Duration, target float64, clk clock.Clock) *Indicator {
	return NewIndicator("tool_call_accuracy", window, target, LowerBound, AggregateMean, 0, clk)
}

func NewResponseLatency(window time.Duration, targetMS, percentile float64, clk clock.Clock) *Indicator {
	return NewIndicator("response_latency", window, targetMS, UpperBound, AggregatePercentile, percentile, clk)
}

func NewCostPerTask(window time.Duration, targetUSD float64, clk clock.Clock) *Indicator {
	return NewIndicator("cost_per_task", window, targetUSD, UpperBound, AggregateMean, 0, clk)
}

func NewPolicyCompliance(window time.Duration, target float64, clk clock.Clock) *Indicator {
	return NewIndicator("policy_compliance", window, target, LowerBound, AggregateMean, 0, clk)
}

func NewDelegationChainDepth(window time.Duration, target float64, clk clock.Clock) *Indicator {
	return NewIndicator("delegation_chain_depth", window, target, UpperBound, AggregateMax, 0, clk)
}

func NewHallucinationRate(window time.Duration, target float64, clk clock.Clock) *Indicator {
	return NewIndicator("hallucination_rate", window, target, UpperBound, AggregateMean, 0, clk)
}
