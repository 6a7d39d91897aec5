package services

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aristath/rateintel/internal/domain"
	"github.com/aristath/rateintel/internal/events"
	"github.com/aristath/rateintel/internal/modules/forecasting"
	"github.com/aristath/rateintel/internal/modules/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var origin = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// memoryRateStore is an in-memory domain.RateStore.
type memoryRateStore struct {
	mu     sync.Mutex
	hotels map[string]domain.Hotel
	obs    []domain.RateObservation
	err    error
}

func newMemoryRateStore() *memoryRateStore {
	return &memoryRateStore{hotels: make(map[string]domain.Hotel)}
}

func (m *memoryRateStore) addHotel(h domain.Hotel, obs ...domain.RateObservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hotels[h.ID] = h
	m.obs = append(m.obs, obs...)
}

func inRange(d time.Time, from, to *time.Time) bool {
	day := domain.Day(d)
	if from != nil && day.Before(domain.Day(*from)) {
		return false
	}
	if to != nil && day.After(domain.Day(*to)) {
		return false
	}
	return true
}

func (m *memoryRateStore) ListObservations(_ context.Context, entityID string, from, to *time.Time) ([]domain.RateObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.RateObservation
	for _, o := range m.obs {
		if o.EntityID == entityID && inRange(o.Date, from, to) {
			out = append(out, o)
		}
	}
	domain.SortObservations(out)
	return out, nil
}

func (m *memoryRateStore) ListObservationsForMarket(_ context.Context, location string, from, to *time.Time) ([]domain.RateObservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.RateObservation
	for _, o := range m.obs {
		if m.hotels[o.EntityID].Location == location && inRange(o.Date, from, to) {
			out = append(out, o)
		}
	}
	domain.SortObservations(out)
	return out, nil
}

func (m *memoryRateStore) LocationOf(_ context.Context, entityID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.hotels[entityID].Location, nil
}

func (m *memoryRateStore) ListOwnHotels(_ context.Context) ([]domain.Hotel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Hotel
	for _, h := range m.hotels {
		if h.IsOwn {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// recordingEmitter keeps every emitted event type.
type recordingEmitter struct {
	mu    sync.Mutex
	types []events.EventType
}

func (r *recordingEmitter) EmitTyped(_ string, data events.EventData) {
	r.mu.Lock()
	r.types = append(r.types, data.EventType())
	r.mu.Unlock()
}

func (r *recordingEmitter) count(t events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, et := range r.types {
		if et == t {
			n++
		}
	}
	return n
}

func sinusoid(entity string, n int) []domain.RateObservation {
	obs := make([]domain.RateObservation, n)
	for i := range obs {
		obs[i] = domain.RateObservation{
			EntityID:  entity,
			Date:      origin.AddDate(0, 0, i),
			Rate:      150 + 20*math.Sin(2*math.Pi*float64(i)/7),
			Source:    "booking",
			Available: true,
		}
	}
	return obs
}

func testCatalog() *forecasting.Catalog {
	ens := forecasting.DefaultEnsembleConfig()
	ens.Forest.Trees = 15
	return forecasting.DefaultCatalog(ens, forecasting.DefaultDecompositionConfig())
}

type fixture struct {
	store    *memoryRateStore
	registry *registry.Registry
	catalog  *forecasting.Catalog
	emitter  *recordingEmitter
	svc      *ForecastService
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	return newFixtureWith(t, now, nil)
}

func newFixtureWith(t *testing.T, now time.Time, tweak func(*ForecastConfig)) *fixture {
	t.Helper()

	blobs, err := registry.NewFSStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store:    newMemoryRateStore(),
		registry: registry.New(blobs, zerolog.Nop()),
		catalog:  testCatalog(),
		emitter:  &recordingEmitter{},
	}

	cfg := DefaultForecastConfig()
	cfg.Workers = 2
	if tweak != nil {
		tweak(&cfg)
	}
	f.svc, err = NewForecastService(f.store, f.registry, f.catalog, f.emitter, cfg, zerolog.Nop())
	require.NoError(t, err)
	f.svc.SetClock(func() time.Time { return now })
	return f
}

// dayAfter returns noon on the day after the last of n sinusoid observations.
func dayAfter(n int) time.Time {
	return origin.AddDate(0, 0, n).Add(12 * time.Hour)
}

func TestTrainEntity_TrainsAndPersistsBothVariants(t *testing.T) {
	f := newFixture(t, dayAfter(90))
	f.store.addHotel(domain.Hotel{ID: "hotel-1", Location: "athens", IsOwn: true}, sinusoid("hotel-1", 90)...)

	report, err := f.svc.TrainEntity(context.Background(), "hotel-1")
	require.NoError(t, err)

	assert.Equal(t, 90, report.Observations)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{forecasting.VariantDecomposition, forecasting.VariantEnsemble}, report.Trained())
	for _, res := range report.Results {
		require.NotNil(t, res.Metrics)
		assert.Greater(t, res.Metrics.TestSize, 0)
	}

	variants, err := f.registry.List(context.Background(), "hotel-1")
	require.NoError(t, err)
	assert.Equal(t, []string{forecasting.VariantDecomposition, forecasting.VariantEnsemble}, variants)

	assert.Equal(t, 2, f.emitter.count(events.ModelTrainingStarted))
	assert.Equal(t, 2, f.emitter.count(events.ModelTrained))
}

func TestTrainEntity_InsufficientDataPersistsNothing(t *testing.T) {
	f := newFixture(t, dayAfter(3))
	f.store.addHotel(domain.Hotel{ID: "hotel-1", Location: "athens"}, sinusoid("hotel-1", 3)...)

	report, err := f.svc.TrainEntity(context.Background(), "hotel-1")
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, VariantInsufficientData, res.Status)
		assert.ErrorIs(t, res.Err, forecasting.ErrInsufficientData)
	}
	assert.Empty(t, report.Trained())

	variants, err := f.registry.List(context.Background(), "hotel-1")
	require.NoError(t, err)
	assert.Empty(t, variants)
	assert.Equal(t, 2, f.emitter.count(events.ModelTrainingFailed))
}

func TestTrainEntity_UnavailableVariantDoesNotBlockSiblings(t *testing.T) {
	f := newFixture(t, dayAfter(60))
	f.catalog.Unregister(forecasting.VariantDecomposition)
	f.store.addHotel(domain.Hotel{ID: "hotel-1", Location: "athens"}, sinusoid("hotel-1", 60)...)

	report, err := f.svc.TrainEntity(context.Background(), "hotel-1")
	require.NoError(t, err)

	assert.Equal(t, VariantTrained, report.Results[forecasting.VariantEnsemble].Status)
	dec := report.Results[forecasting.VariantDecomposition]
	require.NotNil(t, dec)
	assert.Equal(t, VariantUnavailable, dec.Status)
	assert.ErrorIs(t, dec.Err, forecasting.ErrModelUnavailable)

	status, err := f.svc.Status(context.Background(), "hotel-1")
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, StateTrained, status[0].State)
	assert.False(t, status[0].TrainedAt.IsZero())
	assert.Equal(t, StateUnavailable, status[1].State)
}

func TestTrainEntity_RateStoreFailureIsReturned(t *testing.T) {
	f := newFixture(t, dayAfter(10))
	f.store.err = errors.New("connection refused")

	_, err := f.svc.TrainEntity(context.Background(), "hotel-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestTrainEntity_EmptyEntity(t *testing.T) {
	f := newFixture(t, dayAfter(10))
	_, err := f.svc.TrainEntity(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyEntity)
}

func TestForecast_SinusoidStaysInRange(t *testing.T) {
	f := newFixture(t, dayAfter(90))
	f.store.addHotel(domain.Hotel{ID: "hotel-1", Location: "athens"}, sinusoid("hotel-1", 90)...)

	_, err := f.svc.TrainEntity(context.Background(), "hotel-1")
	require.NoError(t, err)

	result, err := f.svc.Forecast(context.Background(), "hotel-1", 7)
	require.NoError(t, err)
	assert.Empty(t, result.Failures)

	byVariant := result.ByVariant()
	require.Len(t, byVariant, 2)
	for variant, points := range byVariant {
		require.Len(t, points, 7, variant)
		for i, p := range points {
			assert.Equal(t, origin.AddDate(0, 0, 90+i), p.Date, variant)
			assert.True(t, p.Valid(), variant)
			assert.LessOrEqual(t, p.ConfidenceLower, p.PredictedRate, variant)
			assert.LessOrEqual(t, p.PredictedRate, p.ConfidenceUpper, variant)
			assert.GreaterOrEqual(t, p.PredictedRate, 65.0, variant)
			assert.LessOrEqual(t, p.PredictedRate, 255.0, variant)
		}
	}
	assert.Equal(t, 1, f.emitter.count(events.ForecastGenerated))
}

func TestForecast_MissingArtifactIsReportedNotFatal(t *testing.T) {
	f := newFixture(t, dayAfter(60))
	f.store.addHotel(domain.Hotel{ID: "hotel-1", Location: "athens"}, sinusoid("hotel-1", 60)...)

	_, err := f.svc.TrainEntity(context.Background(), "hotel-1")
	require.NoError(t, err)
	require.NoError(t, f.registry.Delete(context.Background(), "hotel-1", forecasting.VariantEnsemble))

	result, err := f.svc.Forecast(context.Background(), "hotel-1", 5)
	require.NoError(t, err)

	assert.Contains(t, result.Failures, forecasting.VariantEnsemble)
	assert.Len(t, result.ByVariant()[forecasting.VariantDecomposition], 5)
	assert.Empty(t, result.ByVariant()[forecasting.VariantEnsemble])
}

func TestForecast_NoModelsYieldsEmptyResult(t *testing.T) {
	f := newFixture(t, dayAfter(10))
	f.store.addHotel(domain.Hotel{ID: "hotel-1", Location: "athens"}, sinusoid("hotel-1", 10)...)

	result, err := f.svc.Forecast(context.Background(), "hotel-1", 3)
	require.NoError(t, err)
	assert.Empty(t, result.Points)
	assert.Len(t, result.Failures, 2)
}

func TestForecast_InvalidHorizon(t *testing.T) {
	f := newFixture(t, dayAfter(10))
	for _, h := range []int{0, -1, 366} {
		_, err := f.svc.Forecast(context.Background(), "hotel-1", h)
		assert.ErrorIs(t, err, ErrInvalidHorizon, "horizon %d", h)
	}
}

func TestMarketInsight(t *testing.T) {
	now := time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	day := func(d int) time.Time { return time.Date(2024, 6, d, 0, 0, 0, 0, time.UTC) }
	f.store.addHotel(domain.Hotel{ID: "target", Location: "athens", IsOwn: true},
		domain.RateObservation{EntityID: "target", Date: day(1), Rate: 100},
		domain.RateObservation{EntityID: "target", Date: day(2), Rate: 100},
	)
	f.store.addHotel(domain.Hotel{ID: "rival", Location: "athens"},
		domain.RateObservation{EntityID: "rival", Date: day(1), Rate: 120},
		domain.RateObservation{EntityID: "rival", Date: day(2), Rate: 120},
		// Stay dates after now are outside the trailing window
		domain.RateObservation{EntityID: "rival", Date: time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), Rate: 1000},
	)
	f.store.addHotel(domain.Hotel{ID: "elsewhere", Location: "sparta"},
		domain.RateObservation{EntityID: "elsewhere", Date: day(1), Rate: 10},
	)

	insight, err := f.svc.MarketInsight(context.Background(), "target")
	require.NoError(t, err)
	require.NotNil(t, insight)
	assert.InDelta(t, 0.833, insight.MarketPositionRatio, 0.001)
	assert.Equal(t, domain.PositionBelowMarket, insight.Position)
	assert.Equal(t, 120.0, insight.CompetitorMinRate)
	assert.Equal(t, 1, f.emitter.count(events.InsightGenerated))

	alone, err := f.svc.MarketInsight(context.Background(), "elsewhere")
	require.NoError(t, err)
	assert.Nil(t, alone)

	unknown, err := f.svc.MarketInsight(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestForecast_CompetitiveFeatures(t *testing.T) {
	f := newFixtureWith(t, dayAfter(90), func(cfg *ForecastConfig) {
		cfg.Features.Competitive = true
	})
	f.store.addHotel(domain.Hotel{ID: "own", Location: "athens", IsOwn: true}, sinusoid("own", 90)...)
	rival := sinusoid("rival", 90)
	for i := range rival {
		rival[i].Rate *= 1.2
	}
	f.store.addHotel(domain.Hotel{ID: "rival", Location: "athens"}, rival...)

	for _, id := range []string{"own", "rival"} {
		report, err := f.svc.TrainEntity(context.Background(), id)
		require.NoError(t, err)
		assert.Len(t, report.Trained(), 2, id)

		result, err := f.svc.Forecast(context.Background(), id, 10)
		require.NoError(t, err)
		assert.Empty(t, result.Failures, id)
		require.Len(t, result.Points, 20, id)
		for _, p := range result.Points {
			assert.True(t, p.Valid(), id)
			assert.LessOrEqual(t, p.ConfidenceLower, p.PredictedRate, id)
			assert.LessOrEqual(t, p.PredictedRate, p.ConfidenceUpper, id)
		}
	}
}

func TestTrainOwnHotels_PartialCompletion(t *testing.T) {
	f := newFixture(t, dayAfter(60))
	f.store.addHotel(domain.Hotel{ID: "big", Location: "athens", IsOwn: true}, sinusoid("big", 60)...)
	f.store.addHotel(domain.Hotel{ID: "tiny", Location: "athens", IsOwn: true}, sinusoid("tiny", 2)...)
	f.store.addHotel(domain.Hotel{ID: "rival", Location: "athens"}, sinusoid("rival", 60)...)

	batch, err := f.svc.TrainOwnHotels(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, batch.Completed)
	assert.Equal(t, 1, batch.Failed)
	require.Contains(t, batch.Reports, "big")
	require.Contains(t, batch.Reports, "tiny")
	assert.NotContains(t, batch.Reports, "rival")
	assert.Len(t, batch.Reports["big"].Trained(), 2)
	assert.Empty(t, batch.Reports["tiny"].Trained())
	assert.Equal(t, 1, f.emitter.count(events.BatchTrainingCompleted))
}

func TestStatus_FallsBackToRegistry(t *testing.T) {
	f := newFixture(t, dayAfter(60))
	f.store.addHotel(domain.Hotel{ID: "hotel-1", Location: "athens"}, sinusoid("hotel-1", 60)...)

	status, err := f.svc.Status(context.Background(), "hotel-1")
	require.NoError(t, err)
	for _, st := range status {
		assert.Equal(t, StateUntrained, st.State)
	}

	_, err = f.svc.TrainEntity(context.Background(), "hotel-1")
	require.NoError(t, err)

	// A fresh service sharing the registry sees the persisted models.
	fresh, err := NewForecastService(f.store, f.registry, f.catalog, nil, DefaultForecastConfig(), zerolog.Nop())
	require.NoError(t, err)
	status, err = fresh.Status(context.Background(), "hotel-1")
	require.NoError(t, err)
	require.Len(t, status, 2)
	for _, st := range status {
		assert.Equal(t, StateTrained, st.State)
		assert.False(t, st.TrainedAt.IsZero())
	}
}

func TestNewForecastService_RejectsEmptyVariants(t *testing.T) {
	cfg := DefaultForecastConfig()
	cfg.Variants = nil
	_, err := NewForecastService(newMemoryRateStore(), nil, testCatalog(), nil, cfg, zerolog.Nop())
	assert.Error(t, err)
}
