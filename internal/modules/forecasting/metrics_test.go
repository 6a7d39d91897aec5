package forecasting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	m := Evaluate([]float64{100, 200, 0}, []float64{110, 180, 5})

	assert.InDelta(t, 35.0/3.0, m.MAE, 1e-9)
	assert.InDelta(t, 525.0/3.0, m.MSE, 1e-9)
	assert.InDelta(t, 13.2287565553, m.RMSE, 1e-6)
	// Zero actuals are skipped: (10% + 10%) / 2
	assert.InDelta(t, 10.0, m.MAPE, 1e-9)
}

func TestEvaluate_Empty(t *testing.T) {
	assert.Equal(t, Metrics{}, Evaluate(nil, nil))
	assert.Equal(t, Metrics{}, Evaluate([]float64{1}, []float64{1, 2}))
}

func TestTrainSize(t *testing.T) {
	assert.Equal(t, 8, trainSize(10, 0.8))
	assert.Equal(t, 5, trainSize(7, 0.8))
	assert.Equal(t, 1, trainSize(2, 0.1))
	assert.Equal(t, 9, trainSize(10, 1))
}

func TestStandardScaler(t *testing.T) {
	var s StandardScaler
	s.Fit([][]float64{{1, 5}, {3, 5}})

	assert.Equal(t, []float64{2, 5}, s.Mean)
	assert.Equal(t, []float64{1, 1}, s.Scale)

	out := s.Transform([][]float64{{3, 7}})
	assert.Equal(t, []float64{1, 2}, out[0])
}

func TestCatalog(t *testing.T) {
	c := DefaultCatalog(DefaultEnsembleConfig(), DefaultDecompositionConfig())
	assert.Equal(t, []string{VariantDecomposition, VariantEnsemble}, c.Variants())

	m, err := c.New(VariantEnsemble)
	assert.NoError(t, err)
	assert.Equal(t, VariantEnsemble, m.Variant())

	c.Unregister(VariantDecomposition)
	_, err = c.New(VariantDecomposition)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}
