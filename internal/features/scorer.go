package features

import (
	"context"
	"fmt"
)

// BaselineScorer is a deterministic stand-in for the trained classifier,
// scoring known fraud patterns directly from the feature vector. Used
// when no external model is wired in; deployments with a real model
// supply their own domain.Scorer and the caller may also pass a
// precomputed probability with the request.
type BaselineScorer struct{}

// NewBaselineScorer creates a baseline scorer.
func NewBaselineScorer() *BaselineScorer {
	return &BaselineScorer{}
}

// Predict returns a fraud probability in [0, 0.98] from additive
// pattern weights.
func (s *BaselineScorer) Predict(ctx context.Context, fv []float64) (float64, error) {
	if len(fv) != len(Names()) {
		return 0, fmt.Errorf("expected %d features, got %d", len(Names()), len(fv))
	}

	v := Vector{
		AccountAgeDays:    fv[0],
		TransactionAmount: fv[1],
		Hour:              fv[2],
		ChannelATM:        fv[7],
		ChannelPOS:        fv[9],
		KYCVerifiedNo:     fv[11],
	}

	prob := 0.05

	switch {
	case v.TransactionAmount > 50000:
		prob += 0.35
	case v.TransactionAmount > 20000:
		prob += 0.20
	case v.TransactionAmount > 10000:
		prob += 0.10
	}

	switch {
	case v.AccountAgeDays < 7:
		prob += 0.25
	case v.AccountAgeDays < 30:
		prob += 0.15
	case v.AccountAgeDays < 90:
		prob += 0.05
	}

	switch {
	case v.Hour <= 5:
		prob += 0.20
	case v.Hour >= 22:
		prob += 0.10
	}

	if v.KYCVerifiedNo == 1 {
		prob += 0.20
	}

	if v.ChannelATM == 1 {
		prob += 0.10
	} else if v.ChannelPOS == 1 {
		prob += 0.05
	}

	if prob > 0.98 {
		prob = 0.98
	}
	return prob, nil
}
