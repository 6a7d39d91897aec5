package di

import (
	"fmt"

	"github.com/aristath/rateintel/internal/config"
	"github.com/aristath/rateintel/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens and migrates the rates database
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	ratesDB, err := database.New(database.Config{
		Path:    cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "rates",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open rates database: %w", err)
	}
	container.RatesDB = ratesDB
	container.addCloser(ratesDB)

	if err := ratesDB.Migrate(); err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("failed to migrate rates database: %w", err)
	}

	log.Info().Str("path", ratesDB.Path()).Msg("Rates database ready")
	return container, nil
}
