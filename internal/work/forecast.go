package work

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/rateintel/internal/domain"
	"github.com/aristath/rateintel/internal/services"
	"github.com/rs/zerolog"
)

// Work type IDs
const (
	WorkTypeTrain   = "forecast:train"
	WorkTypeInsight = "insights:refresh"
)

// ForecastServiceInterface is the part of the forecast service background work needs.
type ForecastServiceInterface interface {
	TrainEntity(ctx context.Context, entityID string) (*services.TrainingReport, error)
	MarketInsight(ctx context.Context, entityID string) (*domain.MarketInsight, error)
}

// HotelLister lists the hotels whose models are maintained in the background.
type HotelLister interface {
	ListOwnHotels(ctx context.Context) ([]domain.Hotel, error)
}

// ForecastDeps contains the dependencies of the forecasting work types.
type ForecastDeps struct {
	Service         ForecastServiceInterface
	Hotels          HotelLister
	TrainInterval   time.Duration
	InsightInterval time.Duration
	Log             zerolog.Logger
}

// RegisterForecastWorkTypes registers per-hotel retraining and insight refreshes.
func RegisterForecastWorkTypes(registry *Registry, deps *ForecastDeps) {
	log := deps.Log.With().Str("component", "forecast_work").Logger()

	ownHotels := func(ctx context.Context) []string {
		hotels, err := deps.Hotels.ListOwnHotels(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list own hotels")
			return nil
		}
		if len(hotels) == 0 {
			return nil
		}
		ids := make([]string, len(hotels))
		for i, h := range hotels {
			ids[i] = h.ID
		}
		return ids
	}

	// forecast:train - retrain every variant of a hotel
	registry.Register(&WorkType{
		ID:           WorkTypeTrain,
		Priority:     PriorityMedium,
		Interval:     deps.TrainInterval,
		FindSubjects: ownHotels,
		Execute: func(ctx context.Context, subject string) error {
			report, err := deps.Service.TrainEntity(ctx, subject)
			if err != nil {
				return fmt.Errorf("failed to train models for %s: %w", subject, err)
			}
			log.Info().
				Str("entity_id", subject).
				Strs("trained", report.Trained()).
				Int("variants", len(report.Results)).
				Msg("Scheduled training finished")
			return nil
		},
	})

	// insights:refresh - recompute the market position once the models are fresh
	registry.Register(&WorkType{
		ID:           WorkTypeInsight,
		DependsOn:    []string{WorkTypeTrain},
		Priority:     PriorityLow,
		Interval:     deps.InsightInterval,
		FindSubjects: ownHotels,
		Execute: func(ctx context.Context, subject string) error {
			insight, err := deps.Service.MarketInsight(ctx, subject)
			if err != nil {
				return fmt.Errorf("failed to compute insight for %s: %w", subject, err)
			}
			if insight == nil {
				log.Debug().Str("entity_id", subject).Msg("No competitor data for insight")
			}
			return nil
		},
	})
}
