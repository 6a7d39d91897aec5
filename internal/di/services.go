package di

import (
	"context"
	"fmt"

	"github.com/aristath/rateintel/internal/config"
	"github.com/aristath/rateintel/internal/events"
	"github.com/aristath/rateintel/internal/modules/features"
	"github.com/aristath/rateintel/internal/modules/forecasting"
	"github.com/aristath/rateintel/internal/modules/rates"
	"github.com/aristath/rateintel/internal/modules/registry"
	"github.com/aristath/rateintel/internal/reliability"
	"github.com/aristath/rateintel/internal/services"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates repositories over the opened databases
func InitializeRepositories(container *Container, log zerolog.Logger) error {
	if container.RatesDB == nil {
		return fmt.Errorf("rates database not initialized")
	}
	container.RatesRepo = rates.NewRepository(container.RatesDB.Conn(), log)
	return nil
}

// InitializeServices creates the model store, event bus and forecast service
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	store, err := openBlobStore(ctx, container, cfg.Registry, log)
	if err != nil {
		return err
	}
	container.BlobStore = store
	container.ModelRegistry = registry.New(store, log)

	container.EventBus = events.NewBus(log)
	container.EventManager = events.NewManager(container.EventBus, log)

	container.Catalog = forecasting.DefaultCatalog(
		forecasting.DefaultEnsembleConfig(),
		forecasting.DefaultDecompositionConfig(),
	)

	svc, err := services.NewForecastService(
		container.RatesRepo,
		container.ModelRegistry,
		container.Catalog,
		container.EventManager,
		ForecastConfig(cfg.Forecasting),
		log,
	)
	if err != nil {
		return fmt.Errorf("failed to create forecast service: %w", err)
	}
	container.ForecastService = svc

	container.BackupService = reliability.NewBackupService(store, cfg.DataDir, log, container.RatesDB)

	log.Info().
		Str("registry", cfg.Registry.Backend).
		Strs("variants", cfg.Forecasting.Variants).
		Msg("Forecasting services initialized")
	return nil
}

// ForecastConfig maps the environment configuration onto the forecast service's.
func ForecastConfig(cfg config.ForecastingConfig) services.ForecastConfig {
	fc := services.DefaultForecastConfig()
	fc.Variants = cfg.Variants
	fc.TrainingLookbackDays = cfg.TrainingLookbackDays
	fc.ForecastLookbackDays = cfg.RecentLookbackDays
	fc.Insights.WindowDays = cfg.InsightWindowDays
	fc.Features = features.DefaultConfig()
	fc.Features.Competitive = cfg.CompetitiveFeatures
	if cfg.Workers > 0 {
		fc.Workers = cfg.Workers
	}
	return fc
}

func openBlobStore(ctx context.Context, container *Container, cfg config.RegistryConfig, log zerolog.Logger) (registry.BlobStore, error) {
	switch cfg.Backend {
	case config.RegistryS3:
		store, err := registry.NewS3Store(ctx, registry.S3Config{
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Prefix:          cfg.S3.Prefix,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 model store: %w", err)
		}
		return store, nil

	case config.RegistryBadger:
		store, err := registry.OpenBadgerStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger model store: %w", err)
		}
		container.addCloser(store)
		return store, nil

	default:
		store, err := registry.NewFSStore(cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem model store: %w", err)
		}
		return store, nil
	}
}
