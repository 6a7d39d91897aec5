package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestRateObservation_Validate(t *testing.T) {
	valid := RateObservation{EntityID: "h1", Date: day("2024-01-01"), Rate: 120}
	require.NoError(t, valid.Validate())

	cases := map[string]RateObservation{
		"empty entity": {Date: day("2024-01-01"), Rate: 1},
		"zero date":    {EntityID: "h1", Rate: 1},
		"negative":     {EntityID: "h1", Date: day("2024-01-01"), Rate: -1},
		"nan":          {EntityID: "h1", Date: day("2024-01-01"), Rate: math.NaN()},
	}
	for name, obs := range cases {
		t.Run(name, func(t *testing.T) {
			err := obs.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidObservation))
		})
	}
}

func TestDay_TruncatesToUTCMidnight(t *testing.T) {
	ts := time.Date(2024, 3, 5, 17, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), Day(ts))
}

func TestAggregateDaily(t *testing.T) {
	obs := []RateObservation{
		{EntityID: "h2", Date: day("2024-01-02"), Rate: 90, Source: "expedia"},
		{EntityID: "h1", Date: day("2024-01-01").Add(8 * time.Hour), Rate: 100, Source: "booking"},
		{EntityID: "h1", Date: day("2024-01-01").Add(20 * time.Hour), Rate: 120, Source: "expedia", Available: true},
		{EntityID: "h1", Date: day("2024-01-02"), Rate: 110},
	}

	agg := AggregateDaily(obs)

	require.Len(t, agg, 3)
	assert.Equal(t, "h1", agg[0].EntityID)
	assert.Equal(t, day("2024-01-01"), agg[0].Date)
	assert.InDelta(t, 110.0, agg[0].Rate, 1e-9)
	assert.True(t, agg[0].Available)
	assert.Equal(t, "booking", agg[0].Source)

	assert.Equal(t, "h1", agg[1].EntityID)
	assert.Equal(t, "h2", agg[2].EntityID)
	assert.Equal(t, day("2024-01-02"), agg[2].Date)

	// Input must not be reordered
	assert.Equal(t, "h2", obs[0].EntityID)
}

func TestForecastPoint_Valid(t *testing.T) {
	assert.True(t, ForecastPoint{PredictedRate: 10, ConfidenceLower: 9, ConfidenceUpper: 11}.Valid())
	assert.True(t, ForecastPoint{PredictedRate: 10, ConfidenceLower: 10, ConfidenceUpper: 10}.Valid())
	assert.False(t, ForecastPoint{PredictedRate: 12, ConfidenceLower: 9, ConfidenceUpper: 11}.Valid())
}
