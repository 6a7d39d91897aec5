package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/rateintel/internal/domain"
	"github.com/aristath/rateintel/internal/events"
	"github.com/aristath/rateintel/internal/modules/rates"
	"github.com/aristath/rateintel/internal/services"
	"github.com/aristath/rateintel/internal/work"
)

const defaultForecastDays = 30

// Forecaster is the forecast service surface exposed over HTTP
type Forecaster interface {
	TrainEntity(ctx context.Context, entityID string) (*services.TrainingReport, error)
	TrainOwnHotels(ctx context.Context) (*services.BatchReport, error)
	Forecast(ctx context.Context, entityID string, horizonDays int) (*services.ForecastResult, error)
	MarketInsight(ctx context.Context, entityID string) (*domain.MarketInsight, error)
	Status(ctx context.Context, entityID string) ([]services.VariantState, error)
}

// RateImporter bulk loads observations
type RateImporter interface {
	ImportCSV(ctx context.Context, src io.Reader) (*rates.ImportResult, error)
}

// EventEmitter publishes typed events
type EventEmitter interface {
	EmitTyped(module string, data events.EventData)
}

// CompletionResetter forgets completed work so it becomes eligible again
type CompletionResetter interface {
	ClearByTypeID(typeID string)
}

// Trigger wakes the work processor
type Trigger interface {
	Trigger()
}

// ForecastingHandlers serves training, forecasting and insight endpoints
type ForecastingHandlers struct {
	forecaster Forecaster
	importer   RateImporter
	events     EventEmitter
	completion CompletionResetter
	processor  Trigger
	log        zerolog.Logger
}

// NewForecastingHandlers creates the forecasting handlers
func NewForecastingHandlers(
	forecaster Forecaster,
	importer RateImporter,
	emitter EventEmitter,
	completion CompletionResetter,
	processor Trigger,
	log zerolog.Logger,
) *ForecastingHandlers {
	return &ForecastingHandlers{
		forecaster: forecaster,
		importer:   importer,
		events:     emitter,
		completion: completion,
		processor:  processor,
		log:        log.With().Str("handler", "forecasting").Logger(),
	}
}

// RegisterRoutes registers the forecasting and rate import routes
func (h *ForecastingHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/forecasting", func(r chi.Router) {
		r.Post("/train", h.HandleTrainOwnHotels)
		r.Route("/hotels/{id}", func(r chi.Router) {
			r.Post("/train", h.HandleTrain)
			r.Get("/forecast", h.HandleForecast)
			r.Get("/insights", h.HandleInsights)
			r.Get("/status", h.HandleStatus)
		})
	})
	r.Post("/rates/import", h.HandleImport)
}

// HandleTrain trains every variant for one hotel
// POST /api/forecasting/hotels/{id}/train
func (h *ForecastingHandlers) HandleTrain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := h.forecaster.TrainEntity(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "Failed to train models")
		return
	}
	writeJSON(h.log, w, http.StatusOK, report)
}

// HandleTrainOwnHotels trains every own hotel
// POST /api/forecasting/train
func (h *ForecastingHandlers) HandleTrainOwnHotels(w http.ResponseWriter, r *http.Request) {
	batch, err := h.forecaster.TrainOwnHotels(r.Context())
	if err != nil {
		h.serviceError(w, err, "Failed to train own hotels")
		return
	}
	writeJSON(h.log, w, http.StatusOK, batch)
}

// HandleForecast returns the per-variant forecast
// GET /api/forecasting/hotels/{id}/forecast?days=N
func (h *ForecastingHandlers) HandleForecast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	days := defaultForecastDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(h.log, w, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = n
	}

	result, err := h.forecaster.Forecast(r.Context(), id, days)
	if err != nil {
		h.serviceError(w, err, "Failed to forecast")
		return
	}
	writeJSON(h.log, w, http.StatusOK, result)
}

// HandleInsights returns the market position of a hotel
// GET /api/forecasting/hotels/{id}/insights
func (h *ForecastingHandlers) HandleInsights(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	insight, err := h.forecaster.MarketInsight(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "Failed to compute market insight")
		return
	}
	if insight == nil {
		writeError(h.log, w, http.StatusNotFound, "no competitor data for this hotel")
		return
	}
	writeJSON(h.log, w, http.StatusOK, insight)
}

// HandleStatus returns the model state of each variant
// GET /api/forecasting/hotels/{id}/status
func (h *ForecastingHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.forecaster.Status(r.Context(), id)
	if err != nil {
		h.serviceError(w, err, "Failed to read model status")
		return
	}
	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{
		"entity_id": id,
		"variants":  status,
	})
}

// HandleImport loads a CSV of observations from the request body and schedules
// retraining of the affected hotels
// POST /api/rates/import
func (h *ForecastingHandlers) HandleImport(w http.ResponseWriter, r *http.Request) {
	result, err := h.importer.ImportCSV(r.Context(), r.Body)
	if err != nil {
		h.log.Warn().Err(err).Msg("Rate import rejected")
		writeError(h.log, w, http.StatusBadRequest, err.Error())
		return
	}

	if h.events != nil {
		h.events.EmitTyped("rates", &events.RatesImportedData{
			Hotels:       result.Hotels,
			Observations: result.Observations,
		})
	}
	if result.Observations > 0 {
		h.completion.ClearByTypeID(work.WorkTypeTrain)
		h.processor.Trigger()
	}

	writeJSON(h.log, w, http.StatusOK, result)
}

func (h *ForecastingHandlers) serviceError(w http.ResponseWriter, err error, msg string) {
	if errors.Is(err, services.ErrInvalidHorizon) || errors.Is(err, services.ErrEmptyEntity) {
		writeError(h.log, w, http.StatusBadRequest, err.Error())
		return
	}
	h.log.Error().Err(err).Msg(msg)
	writeError(h.log, w, http.StatusInternalServerError, msg)
}
