package di

import (
	"time"

	"github.com/aristath/rateintel/internal/config"
	"github.com/aristath/rateintel/internal/work"
	"github.com/rs/zerolog"
)

// insightInterval is how often market insights are refreshed per own hotel
const insightInterval = 6 * time.Hour

// InitializeWork registers the background work types and creates the processor
func InitializeWork(container *Container, cfg *config.Config, log zerolog.Logger) {
	container.WorkRegistry = work.NewRegistry()
	container.WorkCompletion = work.NewCompletionTracker()

	work.RegisterForecastWorkTypes(container.WorkRegistry, &work.ForecastDeps{
		Service:         container.ForecastService,
		Hotels:          container.RatesRepo,
		TrainInterval:   cfg.Retrain.Interval,
		InsightInterval: insightInterval,
		Log:             log,
	})

	container.WorkProcessor = work.NewProcessor(container.WorkRegistry, container.WorkCompletion, log)
}
