// Package services holds the orchestration layer between the rate store, the forecasting
// models and the model registry.
package services

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/aristath/rateintel/internal/domain"
	"github.com/aristath/rateintel/internal/events"
	"github.com/aristath/rateintel/internal/metrics"
	"github.com/aristath/rateintel/internal/modules/features"
	"github.com/aristath/rateintel/internal/modules/forecasting"
	"github.com/aristath/rateintel/internal/modules/insights"
	"github.com/aristath/rateintel/internal/modules/registry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/errgroup"
)

const (
	moduleName = "forecasting"
	maxHorizon = 365
)

var (
	// ErrInvalidHorizon is returned for forecast horizons outside 1..365 days.
	ErrInvalidHorizon = errors.New("forecast horizon must be between 1 and 365 days")
	// ErrEmptyEntity is returned when no entity id is given.
	ErrEmptyEntity = errors.New("entity id is required")
)

// ArtifactRegistry persists trained models.
type ArtifactRegistry interface {
	Save(ctx context.Context, a *registry.Artifact) error
	Load(ctx context.Context, entityID, variant string) (*registry.Artifact, error)
}

// EventEmitter publishes lifecycle events.
type EventEmitter interface {
	EmitTyped(module string, data events.EventData)
}

// ForecastConfig configures the orchestrator.
type ForecastConfig struct {
	Variants             []string
	Features             features.Config
	TrainingLookbackDays int
	ForecastLookbackDays int
	Workers              int
	Insights             insights.Config
}

// DefaultForecastConfig trains both variants on a year of history and forecasts from the
// last 90 days.
func DefaultForecastConfig() ForecastConfig {
	return ForecastConfig{
		Variants:             []string{forecasting.VariantEnsemble, forecasting.VariantDecomposition},
		Features:             features.DefaultConfig(),
		TrainingLookbackDays: 365,
		ForecastLookbackDays: 90,
		Workers:              DefaultWorkers(),
		Insights:             insights.DefaultConfig(),
	}
}

// DefaultWorkers returns the number of logical CPUs.
func DefaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// ForecastService trains, persists and queries forecasting models per entity, and computes
// market insights. Each (entity, variant) is an independent unit; failures are isolated
// and reported, never propagated to siblings.
type ForecastService struct {
	store    domain.RateStore
	registry ArtifactRegistry
	catalog  *forecasting.Catalog
	pipeline *features.Pipeline
	emitter  EventEmitter
	cfg      ForecastConfig
	now      func() time.Time
	status   *statusTable
	log      zerolog.Logger
}

// NewForecastService creates the orchestrator. emitter may be nil.
func NewForecastService(
	store domain.RateStore,
	reg ArtifactRegistry,
	catalog *forecasting.Catalog,
	emitter EventEmitter,
	cfg ForecastConfig,
	log zerolog.Logger,
) (*ForecastService, error) {
	pipeline, err := features.NewPipeline(cfg.Features)
	if err != nil {
		return nil, err
	}
	if len(cfg.Variants) == 0 {
		return nil, fmt.Errorf("at least one model variant must be configured")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return &ForecastService{
		store:    store,
		registry: reg,
		catalog:  catalog,
		pipeline: pipeline,
		emitter:  emitter,
		cfg:      cfg,
		now:      time.Now,
		status:   newStatusTable(),
		log:      log.With().Str("service", "forecast").Logger(),
	}, nil
}

// SetClock overrides the time source used for lookback windows and horizon dates.
func (s *ForecastService) SetClock(now func() time.Time) {
	s.now = now
}

// Variants returns the configured variants.
func (s *ForecastService) Variants() []string {
	return append([]string(nil), s.cfg.Variants...)
}

func (s *ForecastService) emit(data events.EventData) {
	if s.emitter != nil {
		s.emitter.EmitTyped(moduleName, data)
	}
}

// history loads the entity's observations since from, plus its market peers when
// competitive features are enabled.
func (s *ForecastService) history(ctx context.Context, entityID string, from time.Time) (target, all []domain.RateObservation, err error) {
	target, err = s.store.ListObservations(ctx, entityID, &from, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load observations for %s: %w", entityID, err)
	}
	if !s.cfg.Features.Competitive {
		return target, target, nil
	}

	location, err := s.store.LocationOf(ctx, entityID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve location for %s: %w", entityID, err)
	}
	if location == "" {
		return target, target, nil
	}

	all, err = s.store.ListObservationsForMarket(ctx, location, &from, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load market observations for %s: %w", location, err)
	}
	return target, all, nil
}

// buildFeatures runs the pipeline over all observations and keeps the entity's rows.
func (s *ForecastService) buildFeatures(entityID string, all []domain.RateObservation) (*features.Set, error) {
	set, err := s.pipeline.Build(all)
	if err != nil {
		return nil, err
	}
	return set.ForEntity(entityID), nil
}

func toSeries(obs []domain.RateObservation) []forecasting.SeriesPoint {
	out := make([]forecasting.SeriesPoint, len(obs))
	for i, o := range obs {
		out[i] = forecasting.SeriesPoint{Date: o.Date, Rate: o.Rate}
	}
	return out
}

// TrainEntity trains every configured variant for one entity concurrently and persists the
// successes. Only malformed input and rate store failures are returned as errors.
func (s *ForecastService) TrainEntity(ctx context.Context, entityID string) (*TrainingReport, error) {
	if entityID == "" {
		return nil, ErrEmptyEntity
	}

	started := s.now()
	from := domain.Day(started).AddDate(0, 0, -s.cfg.TrainingLookbackDays)

	target, all, err := s.history(ctx, entityID, from)
	if err != nil {
		return nil, err
	}
	set, err := s.buildFeatures(entityID, all)
	if err != nil {
		return nil, fmt.Errorf("failed to build features for %s: %w", entityID, err)
	}
	ds := forecasting.Dataset{Features: set, Series: toSeries(target)}

	report := &TrainingReport{
		RunID:        uuid.NewString(),
		EntityID:     entityID,
		StartedAt:    started,
		Observations: len(target),
		Results:      make(map[string]*VariantResult, len(s.cfg.Variants)),
	}

	s.log.Info().
		Str("run_id", report.RunID).
		Str("entity_id", entityID).
		Int("observations", len(target)).
		Int("feature_rows", set.Len()).
		Msg("Training models")

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, variant := range s.cfg.Variants {
		wg.Add(1)
		go func(variant string) {
			defer wg.Done()
			res := s.trainVariant(ctx, report.RunID, entityID, variant, ds)
			mu.Lock()
			report.Results[variant] = res
			mu.Unlock()
		}(variant)
	}
	wg.Wait()

	report.Duration = time.Since(started)
	return report, nil
}

func (s *ForecastService) trainVariant(ctx context.Context, runID, entityID, variant string, ds forecasting.Dataset) *VariantResult {
	log := s.log.With().Str("run_id", runID).Str("entity_id", entityID).Str("variant", variant).Logger()
	start := time.Now()

	fail := func(status VariantStatus, state ModelState, err error) *VariantResult {
		s.status.set(entityID, variant, state, err)
		metrics.TrainingRunsTotal.WithLabelValues(variant, string(status)).Inc()
		s.emit(&events.ModelTrainingFailedData{
			RunID:    runID,
			EntityID: entityID,
			Variant:  variant,
			Reason:   string(status),
			Error:    err.Error(),
		})
		log.Warn().Err(err).Str("status", string(status)).Msg("Model training failed")
		return &VariantResult{Variant: variant, Status: status, Error: err.Error(), Err: err}
	}

	model, err := s.catalog.New(variant)
	if err != nil {
		return fail(VariantUnavailable, StateUnavailable, err)
	}

	s.status.set(entityID, variant, StateTraining, nil)
	s.emit(&events.ModelTrainingStartedData{RunID: runID, EntityID: entityID, Variant: variant})

	m, err := model.Train(ctx, ds)
	if err != nil {
		if errors.Is(err, forecasting.ErrInsufficientData) {
			return fail(VariantInsufficientData, StateTrainingFailed, err)
		}
		return fail(VariantFailed, StateTrainingFailed, err)
	}

	state, err := model.Save()
	if err != nil {
		return fail(VariantFailed, StateTrainingFailed, err)
	}

	artifact := &registry.Artifact{
		EntityID:      entityID,
		Variant:       variant,
		State:         state,
		FeatureSchema: model.Schema(),
		Metrics:       m,
		TrainedAt:     s.now(),
		RunID:         runID,
	}
	if err := s.registry.Save(ctx, artifact); err != nil {
		metrics.RegistryOperationsTotal.WithLabelValues("save", metrics.StatusFailed).Inc()
		return fail(VariantFailed, StateTrainingFailed, err)
	}
	metrics.RegistryOperationsTotal.WithLabelValues("save", metrics.StatusSuccess).Inc()

	elapsed := time.Since(start)
	s.status.set(entityID, variant, StateTrained, nil)
	metrics.TrainingRunsTotal.WithLabelValues(variant, string(VariantTrained)).Inc()
	metrics.TrainingDuration.WithLabelValues(variant).Observe(elapsed.Seconds())
	metrics.ModelMAE.WithLabelValues(entityID, variant).Set(m.MAE)

	s.emit(&events.ModelTrainedData{
		RunID:      runID,
		EntityID:   entityID,
		Variant:    variant,
		MAE:        m.MAE,
		RMSE:       m.RMSE,
		MAPE:       m.MAPE,
		DurationMs: elapsed.Milliseconds(),
	})
	log.Info().
		Float64("mae", m.MAE).
		Float64("rmse", m.RMSE).
		Int("train_size", m.TrainSize).
		Dur("duration", elapsed).
		Msg("Model trained")

	return &VariantResult{Variant: variant, Status: VariantTrained, Metrics: &m}
}

// TrainAll trains many entities over a bounded worker pool and reports partial completion.
func (s *ForecastService) TrainAll(ctx context.Context, entityIDs []string) *BatchReport {
	batch := &BatchReport{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
		Reports:   make(map[string]*TrainingReport, len(entityIDs)),
		Errors:    make(map[string]string),
	}
	start := time.Now()

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)

	for _, id := range entityIDs {
		id := id
		g.Go(func() error {
			report, err := s.TrainEntity(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				batch.Errors[id] = err.Error()
				batch.Failed++
				s.log.Error().Err(err).Str("entity_id", id).Msg("Entity training failed")
				return nil
			}
			batch.Reports[id] = report
			if len(report.Trained()) > 0 {
				batch.Completed++
			} else {
				batch.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	batch.Duration = time.Since(start)
	s.emit(&events.BatchTrainingCompletedData{
		Entities:   len(entityIDs),
		Completed:  batch.Completed,
		Failed:     batch.Failed,
		DurationMs: batch.Duration.Milliseconds(),
	})
	s.log.Info().
		Str("run_id", batch.RunID).
		Int("entities", len(entityIDs)).
		Int("completed", batch.Completed).
		Int("failed", batch.Failed).
		Dur("duration", batch.Duration).
		Msg("Batch training finished")

	return batch
}

// TrainOwnHotels trains every hotel flagged as an own property.
func (s *ForecastService) TrainOwnHotels(ctx context.Context) (*BatchReport, error) {
	hotels, err := s.store.ListOwnHotels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list own hotels: %w", err)
	}
	ids := make([]string, len(hotels))
	for i, h := range hotels {
		ids[i] = h.ID
	}
	return s.TrainAll(ctx, ids), nil
}

// Forecast produces horizonDays of daily forecasts starting the day after now, one series per
// variant with a loadable model. Variants are never averaged together.
func (s *ForecastService) Forecast(ctx context.Context, entityID string, horizonDays int) (*ForecastResult, error) {
	if entityID == "" {
		return nil, ErrEmptyEntity
	}
	if horizonDays < 1 || horizonDays > maxHorizon {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, horizonDays)
	}

	now := s.now()
	today := domain.Day(now)
	dates := make([]time.Time, horizonDays)
	for i := range dates {
		dates[i] = today.AddDate(0, 0, i+1)
	}

	target, all, err := s.history(ctx, entityID, today.AddDate(0, 0, -s.cfg.ForecastLookbackDays))
	if err != nil {
		return nil, err
	}
	target = onOrBefore(target, today)
	all = onOrBefore(all, today)

	result := &ForecastResult{
		EntityID:    entityID,
		Horizon:     horizonDays,
		GeneratedAt: now,
		Failures:    make(map[string]string),
	}
	perVariant := make([][]domain.ForecastPoint, len(s.cfg.Variants))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, variant := range s.cfg.Variants {
		wg.Add(1)
		go func(i int, variant string) {
			defer wg.Done()
			points, err := s.forecastVariant(ctx, entityID, variant, dates, target, all)
			if err != nil {
				status := metrics.StatusFailed
				if errors.Is(err, forecasting.ErrModelUnavailable) || errors.Is(err, forecasting.ErrNotTrained) {
					status = metrics.StatusUnavailable
				}
				metrics.ForecastRequestsTotal.WithLabelValues(variant, status).Inc()
				s.log.Warn().Err(err).Str("entity_id", entityID).Str("variant", variant).Msg("Variant forecast unavailable")

				mu.Lock()
				result.Failures[variant] = err.Error()
				mu.Unlock()
				return
			}
			metrics.ForecastRequestsTotal.WithLabelValues(variant, metrics.StatusSuccess).Inc()
			metrics.ForecastPointsTotal.WithLabelValues(variant).Add(float64(len(points)))
			perVariant[i] = points
		}(i, variant)
	}
	wg.Wait()

	var produced []string
	for i, points := range perVariant {
		if len(points) > 0 {
			produced = append(produced, s.cfg.Variants[i])
		}
		result.Points = append(result.Points, points...)
	}

	s.emit(&events.ForecastGeneratedData{
		EntityID: entityID,
		Horizon:  horizonDays,
		Points:   len(result.Points),
		Variants: produced,
		Failures: len(result.Failures),
	})
	return result, nil
}

func onOrBefore(obs []domain.RateObservation, day time.Time) []domain.RateObservation {
	out := make([]domain.RateObservation, 0, len(obs))
	for _, o := range obs {
		if !o.Day().After(day) {
			out = append(out, o)
		}
	}
	return out
}

func (s *ForecastService) forecastVariant(
	ctx context.Context,
	entityID, variant string,
	dates []time.Time,
	target, all []domain.RateObservation,
) ([]domain.ForecastPoint, error) {
	model, err := s.catalog.New(variant)
	if err != nil {
		return nil, err
	}

	artifact, err := s.registry.Load(ctx, entityID, variant)
	if err != nil {
		metrics.RegistryOperationsTotal.WithLabelValues("load", metrics.StatusFailed).Inc()
		return nil, err
	}
	if artifact == nil {
		return nil, fmt.Errorf("%w: no artifact for %s/%s", forecasting.ErrNotTrained, entityID, variant)
	}
	metrics.RegistryOperationsTotal.WithLabelValues("load", metrics.StatusSuccess).Inc()

	if err := model.Load(artifact.State); err != nil {
		return nil, fmt.Errorf("failed to restore %s model: %w", variant, err)
	}

	var preds []forecasting.Prediction
	if len(model.Schema()) > 0 {
		preds, err = s.recursiveForecast(ctx, model, entityID, dates, target, all)
	} else {
		preds, err = model.Predict(ctx, forecasting.Dataset{Dates: dates})
	}
	if err != nil {
		return nil, err
	}

	points := make([]domain.ForecastPoint, len(preds))
	for i, p := range preds {
		points[i] = domain.ForecastPoint{
			EntityID:        entityID,
			Date:            p.Date,
			PredictedRate:   p.Value,
			ConfidenceLower: p.Lower,
			ConfidenceUpper: p.Upper,
			Variant:         variant,
		}
	}
	return points, nil
}

// recursiveForecast predicts one day at a time. Each future day enters the history as a
// placeholder carrying the last known rate, its features are built, and the placeholder is
// then replaced by the prediction so later lags and rolling windows see it.
func (s *ForecastService) recursiveForecast(
	ctx context.Context,
	model forecasting.Model,
	entityID string,
	dates []time.Time,
	target, all []domain.RateObservation,
) ([]forecasting.Prediction, error) {
	if len(target) == 0 {
		return nil, &forecasting.InsufficientDataError{Variant: model.Variant(), Have: 0, Need: 1}
	}

	history := make([]domain.RateObservation, len(all), len(all)+len(dates))
	copy(history, all)

	daily := domain.AggregateDaily(target)
	last := daily[len(daily)-1]

	out := make([]forecasting.Prediction, 0, len(dates))
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		placeholder := last
		placeholder.Date = date
		history = append(history, placeholder)

		set, err := s.buildFeatures(entityID, history)
		if err != nil {
			return nil, err
		}
		if set.Len() == 0 {
			return nil, fmt.Errorf("no feature row for %s", date.Format(domain.DateLayout))
		}
		step := set.Slice(set.Len()-1, set.Len())

		preds, err := model.Predict(ctx, forecasting.Dataset{Features: step})
		if err != nil {
			return nil, err
		}
		p := preds[0]
		p.Date = date
		out = append(out, p)

		history[len(history)-1].Rate = p.Value
		last = history[len(history)-1]
	}
	return out, nil
}

// MarketInsight compares the entity's recent rates with the rest of its market. It returns
// nil, nil when there is nothing to compare against.
func (s *ForecastService) MarketInsight(ctx context.Context, entityID string) (*domain.MarketInsight, error) {
	if entityID == "" {
		return nil, ErrEmptyEntity
	}

	location, err := s.store.LocationOf(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve location for %s: %w", entityID, err)
	}
	if location == "" {
		return nil, nil
	}

	now := s.now()
	to := domain.Day(now)
	from := to.AddDate(0, 0, -s.cfg.Insights.WindowDays)
	market, err := s.store.ListObservationsForMarket(ctx, location, &from, &to)
	if err != nil {
		return nil, fmt.Errorf("failed to load market observations for %s: %w", location, err)
	}

	insight := insights.Compute(entityID, location, market, s.cfg.Insights, now)
	if insight == nil {
		metrics.InsightsTotal.WithLabelValues("none").Inc()
		return nil, nil
	}

	metrics.InsightsTotal.WithLabelValues(string(insight.Position)).Inc()
	s.emit(&events.InsightGeneratedData{
		EntityID: entityID,
		Position: string(insight.Position),
		Ratio:    insight.MarketPositionRatio,
	})
	return insight, nil
}

// Status reports the lifecycle state of each configured variant for entityID. Variants not
// trained in this process fall back to the registry.
func (s *ForecastService) Status(ctx context.Context, entityID string) ([]VariantState, error) {
	if entityID == "" {
		return nil, ErrEmptyEntity
	}

	out := make([]VariantState, 0, len(s.cfg.Variants))
	for _, variant := range s.cfg.Variants {
		if st, ok := s.status.get(entityID, variant); ok {
			if st.State == StateTrained {
				if a, err := s.registry.Load(ctx, entityID, variant); err == nil && a != nil {
					st.TrainedAt = a.TrainedAt
				}
			}
			out = append(out, st)
			continue
		}

		st := VariantState{Variant: variant, State: StateUntrained}
		a, err := s.registry.Load(ctx, entityID, variant)
		if err != nil {
			return nil, err
		}
		if a != nil {
			st.State = StateTrained
			st.TrainedAt = a.TrainedAt
		}
		out = append(out, st)
	}
	return out, nil
}
