// Command scraper streams market data from crypto exchanges into a
// time-series store. It loads configuration, validates it, wires
// dependencies, sets up signal handling, and runs one pipeline per feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/tickscraper/internal/app"
	"github.com/alanyoungcy/tickscraper/internal/config"
	"github.com/alanyoungcy/tickscraper/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	// Bootstrap logger until the configured one is available.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg)
	if err != nil {
		slog.Error("failed to build logger", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("tick scraper starting",
		slog.String("config", *configPath),
		slog.Any("settings", cfg.Redacted()),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		_ = logCloser.Close()
		os.Exit(1)
	}

	logger.Info("tick scraper stopped")
}
