// Package scoring fuses detection-source signals into a composite risk
// score and maps scores to risk levels.
package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Source weights. They sum to 1.0; each source contribution is its
// normalized signal strength times its weight.
const (
	weightModel      = 0.35
	weightRules      = 0.25
	weightBehavioral = 0.20
	weightSignature  = 0.15
	weightVelocity   = 0.05
)

// Flag-count normalization caps: a source's strength saturates at its cap.
const (
	capRules      = 3.0
	capBehavioral = 3.0
	capSignature  = 2.0
	capVelocity   = 2.0
)

// Corroboration boosts. A signal confirmed by many independent sources
// is stronger than any single source suggests.
const (
	boostFourSources  = 1.3
	boostThreeSources = 1.15

	// modelActiveThreshold is where the model probability starts
	// counting as an active source.
	modelActiveThreshold = 0.5
)

// Risk-level thresholds on the composite score.
const (
	criticalThreshold = 0.85
	highThreshold     = 0.70
	mediumThreshold   = 0.40
)

// Signals carries the per-source outputs being fused.
type Signals struct {
	ModelScore      float64
	RuleFlags       int
	BehavioralFlags int
	SignatureFlags  int
	VelocityFlags   int
}

// Score fuses the signals into a composite in [0, 1].
func Score(s Signals) float64 {
	score := s.ModelScore*weightModel +
		normalize(s.RuleFlags, capRules)*weightRules +
		normalize(s.BehavioralFlags, capBehavioral)*weightBehavioral +
		normalize(s.SignatureFlags, capSignature)*weightSignature +
		normalize(s.VelocityFlags, capVelocity)*weightVelocity

	switch active(s) {
	case 5, 4:
		score *= boostFourSources
	case 3:
		score *= boostThreeSources
	}

	return clamp01(score)
}

// active counts sources contributing signal.
func active(s Signals) int {
	n := 0
	if s.ModelScore > modelActiveThreshold {
		n++
	}
	if s.RuleFlags > 0 {
		n++
	}
	if s.BehavioralFlags > 0 {
		n++
	}
	if s.SignatureFlags > 0 {
		n++
	}
	if s.VelocityFlags > 0 {
		n++
	}
	return n
}

func normalize(count int, limit float64) float64 {
	if count <= 0 {
		return 0
	}
	v := float64(count) / limit
	if v > 1 {
		return 1
	}
	return v
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// LevelFromScore maps a composite score to a risk level.
func LevelFromScore(score float64) domain.RiskLevel {
	switch {
	case score >= criticalThreshold:
		return domain.RiskCritical
	case score >= highThreshold:
		return domain.RiskHigh
	case score >= mediumThreshold:
		return domain.RiskMedium
	}
	return domain.RiskLow
}
