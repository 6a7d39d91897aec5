// Package forecasting defines the model contract and the forecasting variants.
package forecasting

import (
	"context"
	"time"

	"github.com/aristath/rateintel/internal/modules/features"
)

// Variant identifiers.
const (
	VariantEnsemble      = "ensemble"
	VariantDecomposition = "decomposition"
)

// MinObservationsFloor is the smallest dataset any variant accepts.
const MinObservationsFloor = 7

// SeriesPoint is one (date, rate) pair of a raw daily series.
type SeriesPoint struct {
	Date time.Time `msgpack:"d"`
	Rate float64   `msgpack:"r"`
}

// Dataset is the input of Train and Predict. Feature-based variants read Features;
// series-based variants read Series for training and Dates for prediction.
type Dataset struct {
	Features *features.Set
	Series   []SeriesPoint
	Dates    []time.Time
}

// Schema returns the dataset's ordered feature names, or nil without features.
func (d Dataset) Schema() []string {
	if d.Features == nil {
		return nil
	}
	return d.Features.Names()
}

// Prediction is a point forecast with its interval. Lower <= Value <= Upper.
type Prediction struct {
	Date  time.Time
	Value float64
	Lower float64
	Upper float64
}

// Model is the contract every forecasting variant implements.
//
// Implementations are not safe for concurrent Train calls; Predict may be called
// concurrently once the model is trained or loaded.
type Model interface {
	// Variant returns the variant identifier, used as the registry key.
	Variant() string

	// MinObservations returns the smallest dataset Train accepts (never below the floor).
	MinObservations() int

	// Schema returns the feature names recorded at training time. Empty for series variants.
	Schema() []string

	// Train fits the model and returns holdout metrics.
	Train(ctx context.Context, ds Dataset) (Metrics, error)

	// Predict returns one prediction per dataset row (or date).
	Predict(ctx context.Context, ds Dataset) ([]Prediction, error)

	// Save encodes the fitted state.
	Save() ([]byte, error)

	// Load restores a state produced by Save.
	Load(state []byte) error
}

func minObservations(n int) int {
	if n < MinObservationsFloor {
		return MinObservationsFloor
	}
	return n
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
