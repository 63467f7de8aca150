package policy

// Thresholds gates promotion.
type Thresholds struct {
	CandidateConfidence   float64 `yaml:"candidate_confidence"`
	CandidateObservations int     `yaml:"candidate_observations"`
	PromotedConfidence    float64 `yaml:"promoted_confidence"`
	PromotedObservations  int     `yaml:"promoted_observations"`

	// RequireEvaluated counts only observations whose actual outcome has
	// been recorded toward the observation thresholds.
	RequireEvaluated bool `yaml:"require_evaluated"`
}

// DefaultThresholds returns the standard promotion gates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CandidateConfidence:   0.70,
		CandidateObservations: 20,
		PromotedConfidence:    0.90,
		PromotedObservations:  50,
		RequireEvaluated:      true,
	}
}

// confidence is correct / evaluated, or 0 before anything is evaluated.
func confidence(correct, evaluated int) float64 {
	if evaluated == 0 {
		return 0
	}
	return float64(correct) / float64(evaluated)
}

// nextMode returns the mode p should be promoted to, if any.
// At most one step is taken per call.
func (th Thresholds) nextMode(p Policy) (Mode, bool) {
	count := p.ObservationCount
	if th.RequireEvaluated && p.EvaluatedCount < count {
		count = p.EvaluatedCount
	}
	switch p.Mode {
	case ModeShadow:
		if p.Confidence >= th.CandidateConfidence && count >= th.CandidateObservations {
			return ModeCandidate, true
		}
	case ModeCandidate:
		if p.Confidence >= th.PromotedConfidence && count >= th.PromotedObservations {
			return ModePromoted, true
		}
	}
	return "", false
}
