package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/apiary/apiary/cmd/apiary/commands"
	"github.com/rs/zerolog/log"

	"github.com/apiary/apiary/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	// Create context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, shutting down...")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		os.Exit(1)
	}
}

// setupLogging configures zerolog for structured logging
func setupLogging() {
	cfg := telemetry.DefaultConfig().Logging
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = format
	}

	logger, err := telemetry.NewLogger(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to configure logging")
		return
	}
	log.Logger = logger.Zerolog()
}
