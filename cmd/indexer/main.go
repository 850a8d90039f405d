package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coldbell/mango/backend/internal/config"
	"github.com/coldbell/mango/backend/internal/indexer"
	"github.com/coldbell/mango/backend/internal/logging"
	_ "github.com/joho/godotenv/autoload"
)

func main() {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadIndexerConfig()
	if err != nil {
		bootstrapLogger.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := run(cfg, bootstrapLogger); err != nil {
		bootstrapLogger.Error("indexer stopped", "err", err)
		os.Exit(1)
	}
}

// run returns instead of exiting so the log file is flushed on failure.
func run(cfg config.IndexerConfig, bootstrapLogger *slog.Logger) error {
	logger, closeLogger, err := logging.New("indexer", cfg.Log)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		if closeErr := closeLogger(); closeErr != nil {
			bootstrapLogger.Error("failed to close logger", "err", closeErr)
		}
	}()

	if source, sourceErr := config.CurrentConfigSource(); sourceErr == nil {
		logger.Info("configuration loaded", "phase", source.Phase, "path", source.Path, "loaded", source.Loaded)
	}
	logger.Debug("indexer settings",
		"markets", cfg.Markets,
		"poll_interval", cfg.PollInterval.String(),
		"websocket", cfg.EnableWS,
	)

	svc, err := indexer.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize indexer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return svc.Run(ctx)
}
