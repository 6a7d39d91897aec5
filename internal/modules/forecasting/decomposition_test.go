package forecasting

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecomposition_TrainAndPredict(t *testing.T) {
	ctx := context.Background()
	history := sinusoid(90)

	m := NewDecompositionModel(DefaultDecompositionConfig())
	metrics, err := m.Train(ctx, Dataset{Series: toSeries(history)})
	require.NoError(t, err)
	assert.Equal(t, 72, metrics.TrainSize)
	assert.Equal(t, 18, metrics.TestSize)
	assert.Less(t, metrics.MAPE, 10.0)
	assert.Empty(t, m.Schema())

	dates := []time.Time{origin.AddDate(0, 0, 90), origin.AddDate(0, 0, 91), origin.AddDate(0, 0, 120)}
	preds, err := m.Predict(ctx, Dataset{Dates: dates})
	require.NoError(t, err)
	require.Len(t, preds, 3)

	for i, p := range preds {
		assert.Equal(t, dates[i], p.Date)
		assert.LessOrEqual(t, p.Lower, p.Value)
		assert.LessOrEqual(t, p.Value, p.Upper)
		assert.Greater(t, p.Value, 100.0)
		assert.Less(t, p.Value, 200.0)
	}

	want := 150 + 20*math.Sin(2*math.Pi*90/7)
	assert.InDelta(t, want, preds[0].Value, 10)

	// Intervals widen with horizon
	assert.Greater(t, preds[2].Upper-preds[2].Lower, preds[0].Upper-preds[0].Lower)
}

func TestDecomposition_InsufficientData(t *testing.T) {
	m := NewDecompositionModel(DefaultDecompositionConfig())
	_, err := m.Train(context.Background(), Dataset{Series: toSeries(sinusoid(10))})

	var insufficient *InsufficientDataError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, VariantDecomposition, insufficient.Variant)
	assert.Equal(t, 14, insufficient.Need)
}

func TestDecomposition_DuplicateDaysAreAveraged(t *testing.T) {
	series := toSeries(sinusoid(30))
	series = append(series, SeriesPoint{Date: series[0].Date, Rate: series[0].Rate})
	assert.Len(t, dailySeries(series), 30)
}

func TestDecomposition_RejectsFeatures(t *testing.T) {
	ctx := context.Background()
	m := NewDecompositionModel(DefaultDecompositionConfig())
	_, err := m.Train(ctx, Dataset{Series: toSeries(sinusoid(30))})
	require.NoError(t, err)

	_, err = m.Predict(ctx, Dataset{Features: buildFeatures(t, sinusoid(5))})
	assert.True(t, errors.Is(err, ErrSchemaMismatch))
}

func TestDecomposition_SaveLoad(t *testing.T) {
	ctx := context.Background()
	m := NewDecompositionModel(DefaultDecompositionConfig())
	_, err := m.Train(ctx, Dataset{Series: toSeries(sinusoid(60))})
	require.NoError(t, err)

	state, err := m.Save()
	require.NoError(t, err)

	loaded := NewDecompositionModel(DecompositionConfig{})
	require.NoError(t, loaded.Load(state))

	dates := []time.Time{origin.AddDate(0, 0, 60), origin.AddDate(0, 0, 61)}
	want, err := m.Predict(ctx, Dataset{Dates: dates})
	require.NoError(t, err)
	got, err := loaded.Predict(ctx, Dataset{Dates: dates})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecomposition_PredictBeforeTrain(t *testing.T) {
	m := NewDecompositionModel(DefaultDecompositionConfig())
	_, err := m.Predict(context.Background(), Dataset{Dates: []time.Time{origin}})
	assert.True(t, errors.Is(err, ErrNotTrained))
}

func TestDecomposition_SeasonalityNeedsTwoPeriods(t *testing.T) {
	cfg := DefaultDecompositionConfig()
	active := cfg.seasonalities(90)
	require.Len(t, active, 2)
	assert.Equal(t, dayPeriod, active[0].Period)
	assert.Equal(t, weekPeriod, active[1].Period)

	assert.Len(t, cfg.seasonalities(800), 3)
}
