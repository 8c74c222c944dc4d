package delivery

// ShadowResult is one paired (candidate, current) mirrored response
// observed while a rollout runs in shadow mode.
type ShadowResult struct {
	RequestID      string
	CandidateMatch bool // candidate output equivalent to current's, per caller-defined equivalence
	CandidateError bool
	CurrentError   bool
}

// ShadowComparison accumulates ShadowResults and reduces them into the same
// metric vocabulary AnalysisCriteria/RollbackConditions read, so shadow
// mode feeds the identical gates a live rollout does.
type ShadowComparison struct {
	results []ShadowResult
}

// Record appends one shadow observation.
func (s *ShadowComparison) Record(r ShadowResult) {
	s.results = append(s.results, r)
}

// Metrics reduces recorded observations into a metric map compatible with
// Criterion evaluation: match_rate, candidate_error_rate, current_error_rate.
func (s *ShadowComparison) Metrics() map[string]float64 {
	if len(s.results) == 0 {
		return map[string]float64{}
	}
	matches, candidateErrors, currentErrors := 0, 0, 0
	for _, r := range s.results {
		if r.CandidateMatch {
			matches++
		}
		if r.CandidateError {
			candidateErrors++
		}
		if r.CurrentError {
			currentErrors++
		}
	}
	n := float64(len(s.results))
	return map[string]float64{
		"match_rate":          float64(matches) / n,
		"candidate_error_rate": float64(candidateErrors) / n,
		"current_error_rate":   float64(currentErrors) / n,
	}
}

// Size returns how many observations have been recorded.
func (s *ShadowComparison) Size() int { return len(s.results) }
