package forecasting

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metrics are holdout evaluation scores. MAPE is a percentage and skips zero actuals.
type Metrics struct {
	MAE       float64 `json:"mae" msgpack:"mae"`
	MSE       float64 `json:"mse" msgpack:"mse"`
	RMSE      float64 `json:"rmse" msgpack:"rmse"`
	MAPE      float64 `json:"mape" msgpack:"mape"`
	TrainSize int     `json:"train_size" msgpack:"train_size"`
	TestSize  int     `json:"test_size" msgpack:"test_size"`
}

// Evaluate scores predicted against actual. Both slices must have equal length.
func Evaluate(actual, predicted []float64) Metrics {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return Metrics{}
	}

	errs := make([]float64, len(actual))
	floats.SubTo(errs, actual, predicted)

	abs := make([]float64, len(errs))
	sq := make([]float64, len(errs))
	var pct []float64
	for i, e := range errs {
		abs[i] = math.Abs(e)
		sq[i] = e * e
		if actual[i] != 0 {
			pct = append(pct, math.Abs(e/actual[i]))
		}
	}

	m := Metrics{
		MAE: stat.Mean(abs, nil),
		MSE: stat.Mean(sq, nil),
	}
	m.RMSE = math.Sqrt(m.MSE)
	if len(pct) > 0 {
		m.MAPE = stat.Mean(pct, nil) * 100
	}
	return m
}

// trainSize returns the chronological split point for n rows at the given train fraction,
// keeping at least one row on each side.
func trainSize(n int, fraction float64) int {
	k := int(fraction * float64(n))
	if k < 1 {
		k = 1
	}
	if k > n-1 {
		k = n - 1
	}
	return k
}
