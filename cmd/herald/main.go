package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/herald-labs/herald/internal/chat"
	"github.com/herald-labs/herald/internal/config"
	"github.com/herald-labs/herald/internal/engine"
	"github.com/herald-labs/herald/internal/logging"
	"github.com/herald-labs/herald/internal/storage/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel)

	store, err := postgres.New(cfg.Storage.PostgresURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage init failed")
	}
	defer store.Close()

	// The platform SDK binding plugs in here; without credentials the
	// dry-run adapter logs every outbound action.
	adapter := chat.NewLogAdapter(logging.Component(logger, "chat"))

	eng, err := engine.New(cfg, store, adapter, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine init failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("ops", cfg.Ops.Addr).Msg("herald starting")
	if err := eng.Run(ctx); err != nil && err != context.Canceled {
		logger.Error().Err(err).Msg("engine stopped with error")
	}
	logger.Info().Msg("bye")
}
