package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/aristath/rateintel/internal/di"
	"github.com/aristath/rateintel/internal/events"
)

// CLI is the command tree.
type CLI struct {
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"warn" env:"LOG_LEVEL"`

	Train    TrainCmd    `cmd:"" help:"Train every model variant for hotels (all own hotels when none are given)."`
	Forecast ForecastCmd `cmd:"" help:"Forecast daily rates for a hotel."`
	Insight  InsightCmd  `cmd:"" help:"Compare a hotel's rates with its market."`
	Status   StatusCmd   `cmd:"" help:"Show the model state of each variant for a hotel."`
	Import   ImportCmd   `cmd:"" help:"Bulk load rate observations from a CSV file."`
}

// App carries what every command needs.
type App struct {
	Ctx       context.Context
	Container *di.Container
	Out       io.Writer
}

func (a *App) print(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(a.Out, string(data))
	return err
}

// TrainCmd trains models.
type TrainCmd struct {
	Hotels []string `arg:"" optional:"" name:"hotel" help:"Hotel ids."`
}

// Run executes the command.
func (c *TrainCmd) Run(app *App) error {
	svc := app.Container.ForecastService
	if len(c.Hotels) == 0 {
		batch, err := svc.TrainOwnHotels(app.Ctx)
		if err != nil {
			return err
		}
		return app.print(batch)
	}
	if len(c.Hotels) == 1 {
		report, err := svc.TrainEntity(app.Ctx, c.Hotels[0])
		if err != nil {
			return err
		}
		return app.print(report)
	}
	return app.print(svc.TrainAll(app.Ctx, c.Hotels))
}

// ForecastCmd forecasts one hotel.
type ForecastCmd struct {
	Hotel string `arg:"" help:"Hotel id."`
	Days  int    `short:"d" default:"30" help:"Forecast horizon in days (1-365)."`
}

// Run executes the command.
func (c *ForecastCmd) Run(app *App) error {
	result, err := app.Container.ForecastService.Forecast(app.Ctx, c.Hotel, c.Days)
	if err != nil {
		return err
	}
	return app.print(result)
}

// InsightCmd prints the market insight of one hotel.
type InsightCmd struct {
	Hotel string `arg:"" help:"Hotel id."`
}

// Run executes the command.
func (c *InsightCmd) Run(app *App) error {
	insight, err := app.Container.ForecastService.MarketInsight(app.Ctx, c.Hotel)
	if err != nil {
		return err
	}
	if insight == nil {
		return fmt.Errorf("no competitor data for hotel %s", c.Hotel)
	}
	return app.print(insight)
}

// StatusCmd prints model states.
type StatusCmd struct {
	Hotel string `arg:"" help:"Hotel id."`
}

// Run executes the command.
func (c *StatusCmd) Run(app *App) error {
	status, err := app.Container.ForecastService.Status(app.Ctx, c.Hotel)
	if err != nil {
		return err
	}
	return app.print(status)
}

// ImportCmd loads observations from CSV.
type ImportCmd struct {
	File string `arg:"" type:"existingfile" help:"CSV with hotel_id, date and rate columns."`
}

// Run executes the command.
func (c *ImportCmd) Run(app *App) error {
	f, err := os.Open(c.File)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", c.File, err)
	}
	defer f.Close()

	result, err := app.Container.RatesRepo.ImportCSV(app.Ctx, f)
	if err != nil {
		return err
	}
	app.Container.EventManager.EmitTyped("cli", &events.RatesImportedData{
		Hotels:       result.Hotels,
		Observations: result.Observations,
	})
	return app.print(result)
}
