package services

import (
	"sort"
	"time"

	"github.com/aristath/rateintel/internal/domain"
	"github.com/aristath/rateintel/internal/modules/forecasting"
)

// ModelState is the lifecycle state of one (entity, variant) model.
type ModelState string

const (
	StateUntrained      ModelState = "untrained"
	StateTraining       ModelState = "training"
	StateTrained        ModelState = "trained"
	StateTrainingFailed ModelState = "training_failed"
	StateUnavailable    ModelState = "unavailable"
)

// VariantStatus is the outcome of training one variant.
type VariantStatus string

const (
	VariantTrained          VariantStatus = "trained"
	VariantInsufficientData VariantStatus = "insufficient_data"
	VariantUnavailable      VariantStatus = "unavailable"
	VariantFailed           VariantStatus = "failed"
)

// VariantResult is the per-variant entry of a TrainingReport: metrics on success or the
// failure reason otherwise.
type VariantResult struct {
	Variant string               `json:"variant"`
	Status  VariantStatus        `json:"status"`
	Metrics *forecasting.Metrics `json:"metrics,omitempty"`
	Error   string               `json:"error,omitempty"`
	Err     error                `json:"-"`
}

// TrainingReport collects the variant outcomes of one entity's training run.
type TrainingReport struct {
	RunID        string                    `json:"run_id"`
	EntityID     string                    `json:"entity_id"`
	StartedAt    time.Time                 `json:"started_at"`
	Duration     time.Duration             `json:"duration"`
	Observations int                       `json:"observations"`
	Results      map[string]*VariantResult `json:"results"`
}

// Trained returns the variants that trained successfully, sorted.
func (r *TrainingReport) Trained() []string {
	var out []string
	for v, res := range r.Results {
		if res.Status == VariantTrained {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// BatchReport collects the training runs of many entities. One entity's failure never
// stops the others.
type BatchReport struct {
	RunID     string                     `json:"run_id"`
	StartedAt time.Time                  `json:"started_at"`
	Duration  time.Duration              `json:"duration"`
	Reports   map[string]*TrainingReport `json:"reports"`
	Errors    map[string]string          `json:"errors,omitempty"`
	Completed int                        `json:"completed"`
	Failed    int                        `json:"failed"`
}

// ForecastResult holds the forecast points of every variant that could forecast, tagged by
// variant, plus the reason each remaining variant could not.
type ForecastResult struct {
	EntityID    string                 `json:"entity_id"`
	Horizon     int                    `json:"horizon"`
	GeneratedAt time.Time              `json:"generated_at"`
	Points      []domain.ForecastPoint `json:"points"`
	Failures    map[string]string      `json:"failures,omitempty"`
}

// ByVariant groups the points by variant.
func (r *ForecastResult) ByVariant() map[string][]domain.ForecastPoint {
	out := make(map[string][]domain.ForecastPoint)
	for _, p := range r.Points {
		out[p.Variant] = append(out[p.Variant], p)
	}
	return out
}

// VariantState is one row of an entity's model status.
type VariantState struct {
	Variant   string     `json:"variant"`
	State     ModelState `json:"state"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
	TrainedAt time.Time  `json:"trained_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}
