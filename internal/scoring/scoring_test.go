package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name    string
		signals Signals
		want    float64
	}{
		{
			name:    "no signal",
			signals: Signals{},
			want:    0,
		},
		{
			name:    "model only",
			signals: Signals{ModelScore: 0.99},
			want:    0.3465,
		},
		{
			name:    "rules saturate at cap",
			signals: Signals{RuleFlags: 6},
			want:    0.25,
		},
		{
			name:    "two sources no boost",
			signals: Signals{ModelScore: 0.05, RuleFlags: 6, SignatureFlags: 2},
			want:    0.4175,
		},
		{
			name:    "three sources boosted",
			signals: Signals{ModelScore: 0.9, RuleFlags: 3, SignatureFlags: 2},
			want:    0.715 * 1.15,
		},
		{
			name:    "four sources boosted and clamped",
			signals: Signals{ModelScore: 0.9, RuleFlags: 3, BehavioralFlags: 3, SignatureFlags: 2},
			want:    1.0,
		},
		{
			name:    "velocity contributes",
			signals: Signals{VelocityFlags: 1},
			want:    0.025,
		},
		{
			name:    "model at threshold is not an active source",
			signals: Signals{ModelScore: 0.5, RuleFlags: 1, SignatureFlags: 1},
			want:    0.5*0.35 + (1.0/3.0)*0.25 + 0.5*0.15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.signals), 1e-9)
		})
	}
}

func TestScoreBounds(t *testing.T) {
	// Worst case everything saturated stays within [0, 1].
	got := Score(Signals{ModelScore: 1.0, RuleFlags: 100, BehavioralFlags: 100, SignatureFlags: 100, VelocityFlags: 100})
	assert.Equal(t, 1.0, got)

	assert.Equal(t, 0.0, Score(Signals{ModelScore: -5}))
}

func TestLevelFromScore(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.RiskLevel
	}{
		{0.0, domain.RiskLow},
		{0.39, domain.RiskLow},
		{0.40, domain.RiskMedium},
		{0.69, domain.RiskMedium},
		{0.70, domain.RiskHigh},
		{0.84, domain.RiskHigh},
		{0.85, domain.RiskCritical},
		{1.0, domain.RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFromScore(tt.score), "score %v", tt.score)
	}
}
