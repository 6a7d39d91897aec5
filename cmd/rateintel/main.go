// Command rateintel trains, forecasts and inspects hotel rate models from the command line
// against the same database and model registry as the server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/aristath/rateintel/internal/config"
	"github.com/aristath/rateintel/internal/di"
	"github.com/aristath/rateintel/pkg/logger"
)

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("rateintel"),
		kong.Description("Hotel rate forecasting and competitive insight."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	kctx.FatalIfErrorf(err)

	log := logger.New(logger.Config{Level: cli.LogLevel, Pretty: true, Output: os.Stderr})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	container, _, err := di.Wire(ctx, cfg, log)
	kctx.FatalIfErrorf(err)
	defer container.Close()

	kctx.FatalIfErrorf(kctx.Run(&App{Ctx: ctx, Container: container, Out: os.Stdout}))
}
