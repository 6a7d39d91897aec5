package forecasting

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EnsembleConfig configures the random forest variant.
type EnsembleConfig struct {
	Forest          ForestConfig
	TrainFraction   float64
	BandFraction    float64
	MinObservations int
}

// DefaultEnsembleConfig returns an 80/20 split, a ±10% band and a minimum of 10 rows.
func DefaultEnsembleConfig() EnsembleConfig {
	return EnsembleConfig{
		Forest:          DefaultForestConfig(),
		TrainFraction:   0.8,
		BandFraction:    0.10,
		MinObservations: 10,
	}
}

// EnsembleModel regresses the rate on pipeline features with a random forest.
// Scaling statistics come from the chronological training split only.
type EnsembleModel struct {
	cfg     EnsembleConfig
	trained bool
	state   ensembleState
}

type ensembleState struct {
	Schema       []string       `msgpack:"schema"`
	Scaler       StandardScaler `msgpack:"scaler"`
	Forest       RandomForest   `msgpack:"forest"`
	BandFraction float64        `msgpack:"band_fraction"`
}

// NewEnsembleModel creates an untrained ensemble model.
func NewEnsembleModel(cfg EnsembleConfig) *EnsembleModel {
	return &EnsembleModel{cfg: cfg}
}

func (m *EnsembleModel) Variant() string { return VariantEnsemble }

func (m *EnsembleModel) MinObservations() int { return minObservations(m.cfg.MinObservations) }

func (m *EnsembleModel) Schema() []string {
	return append([]string(nil), m.state.Schema...)
}

// Train fits the scaler and forest on the first TrainFraction of rows and scores the rest.
func (m *EnsembleModel) Train(ctx context.Context, ds Dataset) (Metrics, error) {
	n := 0
	if ds.Features != nil {
		n = ds.Features.Len()
	}
	if n < m.MinObservations() {
		return Metrics{}, &InsufficientDataError{Variant: VariantEnsemble, Have: n, Need: m.MinObservations()}
	}

	x := ds.Features.Matrix()
	y := ds.Features.Targets()
	k := trainSize(n, m.cfg.TrainFraction)

	var scaler StandardScaler
	scaler.Fit(x[:k])

	forest := NewRandomForest(m.cfg.Forest)
	if err := forest.Fit(ctx, scaler.Transform(x[:k]), y[:k]); err != nil {
		return Metrics{}, fmt.Errorf("failed to fit forest: %w", err)
	}

	test := scaler.Transform(x[k:])
	predicted := make([]float64, len(test))
	for i, row := range test {
		predicted[i] = clampNonNegative(forest.Predict(row))
	}

	metrics := Evaluate(y[k:], predicted)
	metrics.TrainSize = k
	metrics.TestSize = n - k

	m.state = ensembleState{
		Schema:       ds.Features.Names(),
		Scaler:       scaler,
		Forest:       *forest,
		BandFraction: m.cfg.BandFraction,
	}
	m.trained = true

	return metrics, nil
}

// Predict returns one banded prediction per feature row.
func (m *EnsembleModel) Predict(ctx context.Context, ds Dataset) ([]Prediction, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	if err := checkSchema(m.state.Schema, ds.Schema()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := m.state.Scaler.Transform(ds.Features.Matrix())
	out := make([]Prediction, len(rows))
	for i, row := range rows {
		v := clampNonNegative(m.state.Forest.Predict(row))
		out[i] = Prediction{
			Date:  ds.Features.Rows[i].Date,
			Value: v,
			Lower: v * (1 - m.state.BandFraction),
			Upper: v * (1 + m.state.BandFraction),
		}
	}
	return out, nil
}

func (m *EnsembleModel) Save() ([]byte, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	data, err := msgpack.Marshal(&m.state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ensemble state: %w", err)
	}
	return data, nil
}

func (m *EnsembleModel) Load(data []byte) error {
	var st ensembleState
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to decode ensemble state: %w", err)
	}
	if len(st.Forest.Trees) == 0 {
		return fmt.Errorf("failed to decode ensemble state: no trees")
	}
	m.state = st
	m.trained = true
	return nil
}
