package cost

import (
	"math"
	"sort"
)

// AnomalySeverity is the severity an anomaly detector reports.
type AnomalySeverity int

const (
	SeverityNone AnomalySeverity = iota
	SeverityInfo
	SeverityWarn
	SeverityCritical
)

func (s AnomalySeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "NONE"
	}
}

// Detector inspects x against the recent sample history and reports a
// severity. Detectors are advisory: they never call ErrorBudget.RecordEvent
// and never block a task by themselves.
//
// Ensemble below resolves detectors by name to function pointers once at
// construction, rather than dispatching through strings at call sites.
type Detector func(history []float64, x float64) AnomalySeverity

// ZScoreDetector flags x when |x-mean|/stddev exceeds z, requiring at
// least minSamples of history (default 30); below that it is silent
// (InsufficientData — advisory detectors never surface that as an error,
// they simply abstain).
func ZScoreDetector(z float64, minSamples int) Detector {
	if z <= 0 {
		z = 3
	}
	if minSamples <= 0 {
		minSamples = 30
	}
	return func(history []float64, x float64) AnomalySeverity {
		if len(history) < minSamples {
			return SeverityNone
		}
		mu, sigma := meanStddev(history)
		if sigma == 0 {
			return SeverityNone
		}
		score := math.Abs(x-mu) / sigma
		switch {
		case score > z*2:
			return SeverityCritical
		case score > z:
			return SeverityWarn
		default:
			return SeverityNone
		}
	}
}

// IQRDetector flags x outside [Q1-1.5*IQR, Q3+1.5*IQR].
func IQRDetector() Detector {
	return func(history []float64, x float64) AnomalySeverity {
		if len(history) < 4 {
			return SeverityNone
		}
		q1, q3 := quartiles(history)
		iqr := q3 - q1
		lower := q1 - 1.5*iqr
		upper := q3 + 1.5*iqr
		switch {
		case x < lower-iqr || x > upper+iqr:
			return SeverityCritical
		case x < lower || x > upper:
			return SeverityWarn
		default:
			return SeverityNone
		}
	}
}

// EWMADetector maintains an exponentially weighted mean/variance over the
// supplied history (recomputed each call, since Detector is stateless by
// contract) and flags |x-EWMA| > k*sqrt(var).
func EWMADetector(alpha, k float64) Detector {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.3
	}
	if k <= 0 {
		k = 3
	}
	return func(history []float64, x float64) AnomalySeverity {
		if len(history) < 2 {
			return SeverityNone
		}
		ewma := history[0]
		variance := 0.0
		for _, v := range history[1:] {
			delta := v - ewma
			ewma += alpha * delta
			variance = (1-alpha)*(variance+alpha*delta*delta)
		}
		sd := math.Sqrt(variance)
		if sd == 0 {
			return SeverityNone
		}
		score := math.Abs(x-ewma) / sd
		switch {
		case score > k*2:
			return SeverityCritical
		case score > k:
			return SeverityWarn
		default:
			return SeverityNone
		}
	}
}

// Ensemble runs every registered detector against x and returns a result
// per detector name, aggregating severity by max.
type Ensemble struct {
	detectors map[string]Detector
	order     []string
}

// NewEnsemble builds the standard three-detector ensemble: z-score, IQR,
// EWMA.
func NewEnsemble() *Ensemble {
	e := &Ensemble{detectors: make(map[string]Detector)}
	e.Register("zscore", ZScoreDetector(3, 30))
	e.Register("iqr", IQRDetector())
	e.Register("ewma", EWMADetector(0.3, 3))
	return e
}

// Register adds or replaces a named detector.
func (e *Ensemble) Register(name string, d Detector) {
	if _, exists := e.detectors[name]; !exists {
		e.order = append(e.order, name)
	}
	e.detectors[name] = d
}

// DetectorResult names which detector fired and at what severity.
type DetectorResult struct {
	Detector string
	Severity AnomalySeverity
}

// Evaluate runs all detectors and returns only the ones that fired
// (severity > SeverityNone), plus the max severity across all of them.
func (e *Ensemble) Evaluate(history []float64, x float64) ([]DetectorResult, AnomalySeverity) {
	var results []DetectorResult
	max := SeverityNone
	for _, name := range e.order {
		sev := e.detectors[name](history, x)
		if sev > SeverityNone {
			results = append(results, DetectorResult{Detector: name, Severity: sev})
		}
		if sev > max {
			max = sev
		}
	}
	return results, max
}

func meanStddev(xs []float64) (mean, stddev float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	varSum := 0.0
	for _, x := range xs {
		d := x - mean
		varSum += d * d
	}
	stddev = math.Sqrt(varSum / float64(len(xs)))
	return
}

func quartiles(xs []float64) (q1, q3 float64) {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	q1 = percentileSorted(sorted, 25)
	q3 = percentileSorted(sorted, 75)
	return
}

func percentileSorted(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100.0 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
