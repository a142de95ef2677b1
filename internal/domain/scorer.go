package domain

import (
	"context"
)

// Scorer is the trained ML classifier collaborator. The engine does not
// implement or train the model; it only consumes a probability.
//
// The feature vector ordering is fixed by the features package and must
// match what the model was trained on: a mismatch silently corrupts
// predictions.
type Scorer interface {
	// Predict returns a fraud probability in [0,1] for an engineered
	// feature vector.
	Predict(ctx context.Context, features []float64) (float64, error)
}
