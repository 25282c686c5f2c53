package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nutrishelf/backend/config"
	"github.com/nutrishelf/backend/internal/app"
	httpDelivery "github.com/nutrishelf/backend/internal/delivery/http"
	"github.com/nutrishelf/backend/internal/infrastructure/logging"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("NUTRISHELF_CONFIG"))
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	app.InitLogging(cfg)

	logging.Info().
		Str("version", httpDelivery.Version).
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Str("cache", cfg.Cache.Type).
		Str("dataset", cfg.Dataset.Path).
		Msg("starting nutrishelf backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Serve(ctx, cfg, time.Minute); err != nil {
		logging.Fatal().Err(err).Msg("server failed")
	}
	logging.Info().Msg("server stopped")
}
