package di

import (
	"io"

	"github.com/aristath/rateintel/internal/database"
	"github.com/aristath/rateintel/internal/events"
	"github.com/aristath/rateintel/internal/modules/forecasting"
	"github.com/aristath/rateintel/internal/modules/rates"
	"github.com/aristath/rateintel/internal/modules/registry"
	"github.com/aristath/rateintel/internal/reliability"
	"github.com/aristath/rateintel/internal/scheduler"
	"github.com/aristath/rateintel/internal/services"
	"github.com/aristath/rateintel/internal/work"
)

// Container holds all initialized dependencies
type Container struct {
	// Databases
	RatesDB *database.DB

	// Repositories
	RatesRepo *rates.Repository

	// Model storage
	BlobStore     registry.BlobStore
	ModelRegistry *registry.Registry

	// Events
	EventBus     *events.Bus
	EventManager *events.Manager

	// Forecasting
	Catalog         *forecasting.Catalog
	ForecastService *services.ForecastService

	// Reliability
	BackupService *reliability.BackupService

	// Background work
	WorkRegistry   *work.Registry
	WorkCompletion *work.CompletionTracker
	WorkProcessor  *work.Processor
	Scheduler      *scheduler.Scheduler

	closers []io.Closer
}

// Close releases databases and stores in reverse order of creation
func (c *Container) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

func (c *Container) addCloser(cl io.Closer) {
	c.closers = append(c.closers, cl)
}
