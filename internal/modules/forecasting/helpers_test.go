package forecasting

import (
	"math"
	"testing"
	"time"

	"github.com/aristath/rateintel/internal/domain"
	"github.com/aristath/rateintel/internal/modules/features"
	"github.com/stretchr/testify/require"
)

var origin = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// sinusoid returns n daily observations with mean 150 and amplitude 20 over a weekly cycle.
func sinusoid(n int) []domain.RateObservation {
	obs := make([]domain.RateObservation, n)
	for i := range obs {
		obs[i] = domain.RateObservation{
			EntityID:  "hotel-1",
			Date:      origin.AddDate(0, 0, i),
			Rate:      150 + 20*math.Sin(2*math.Pi*float64(i)/7),
			Source:    "booking",
			Available: true,
		}
	}
	return obs
}

func buildFeatures(t *testing.T, obs []domain.RateObservation) *features.Set {
	t.Helper()
	p, err := features.NewPipeline(features.DefaultConfig())
	require.NoError(t, err)
	set, err := p.Build(obs)
	require.NoError(t, err)
	return set
}

func toSeries(obs []domain.RateObservation) []SeriesPoint {
	out := make([]SeriesPoint, len(obs))
	for i, o := range obs {
		out[i] = SeriesPoint{Date: o.Date, Rate: o.Rate}
	}
	return out
}

func smallForest() EnsembleConfig {
	cfg := DefaultEnsembleConfig()
	cfg.Forest.Trees = 20
	return cfg
}
