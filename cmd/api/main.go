package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/markdave123-py/citedoc/internal/app"
	"github.com/markdave123-py/citedoc/internal/config"
	"github.com/markdave123-py/citedoc/internal/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	for _, w := range cfg.Warnings {
		log.Warn().Msg(w)
	}

	// SIGINT/SIGTERM cancel ctx and drain the server.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer application.Close()

	log.Info().Str("port", cfg.Port).Str("index", cfg.IndexBackend).Msg("citedoc is running")
	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		return
	}
	log.Info().Msg("shut down cleanly")
}
