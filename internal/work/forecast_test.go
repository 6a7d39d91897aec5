package work

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aristath/rateintel/internal/domain"
	"github.com/aristath/rateintel/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeForecastService struct {
	mu       sync.Mutex
	trained  []string
	insights []string
	trainErr error
}

func (f *fakeForecastService) TrainEntity(ctx context.Context, entityID string) (*services.TrainingReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trainErr != nil {
		return nil, f.trainErr
	}
	f.trained = append(f.trained, entityID)
	return &services.TrainingReport{EntityID: entityID}, nil
}

func (f *fakeForecastService) MarketInsight(ctx context.Context, entityID string) (*domain.MarketInsight, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insights = append(f.insights, entityID)
	return nil, nil
}

type fakeHotels struct{ hotels []domain.Hotel }

func (f fakeHotels) ListOwnHotels(ctx context.Context) ([]domain.Hotel, error) {
	return f.hotels, nil
}

func newForecastWork(svc *fakeForecastService) *Registry {
	registry := NewRegistry()
	RegisterForecastWorkTypes(registry, &ForecastDeps{
		Service:         svc,
		Hotels:          fakeHotels{hotels: []domain.Hotel{{ID: "h1", IsOwn: true}, {ID: "h2", IsOwn: true}}},
		TrainInterval:   24 * time.Hour,
		InsightInterval: 6 * time.Hour,
		Log:             zerolog.Nop(),
	})
	return registry
}

func TestForecastWork_TrainsThenRefreshesInsights(t *testing.T) {
	svc := &fakeForecastService{}
	registry := newForecastWork(svc)
	completion := NewCompletionTracker()

	p := startProcessor(t, registry, completion)
	p.Trigger()

	assert.Eventually(t, func() bool {
		_, a := completion.GetCompletion(WorkTypeInsight, "h1")
		_, b := completion.GetCompletion(WorkTypeInsight, "h2")
		return a && b
	}, 2*time.Second, 10*time.Millisecond)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.ElementsMatch(t, []string{"h1", "h2"}, svc.trained)
	assert.ElementsMatch(t, []string{"h1", "h2"}, svc.insights)
}

func TestForecastWork_TrainErrorIsWrapped(t *testing.T) {
	svc := &fakeForecastService{trainErr: errors.New("db down")}
	registry := newForecastWork(svc)

	err := registry.Get(WorkTypeTrain).Execute(context.Background(), "h1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "h1")
	assert.Contains(t, err.Error(), "db down")
}

func TestHandlers(t *testing.T) {
	svc := &fakeForecastService{}
	registry := newForecastWork(svc)
	completion := NewCompletionTracker()
	p := NewProcessor(registry, completion, zerolog.Nop())

	r := chi.NewRouter()
	r.Route("/api", NewHandlers(p, registry, completion).RegisterRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/work/types", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), WorkTypeTrain)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/work/forecast:train/h2/execute", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"h2"}, svc.trained)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/work/nope:nope/h2/execute", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
