// Package app wires the scraper's dependencies (time-series stores, feeds,
// pipelines, optional audit database, replay journal and HTTP API) and runs
// them until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tickscraper/internal/config"
	"github.com/alanyoungcy/tickscraper/internal/pipeline"
	"github.com/alanyoungcy/tickscraper/internal/server"
	"github.com/alanyoungcy/tickscraper/internal/server/handler"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts one pipeline per configured feed plus
// the optional journal, auditor and HTTP server, and blocks until ctx is
// cancelled or a pipeline fails fatally. Sinks (journal, auditor) are
// stopped only after every pipeline has returned so late records are still
// flushed.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.Int("feeds", len(a.cfg.Feeds)),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	sinkCtx, stopSinks := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSinks()
	var sinks errgroup.Group
	if deps.Journal != nil {
		sinks.Go(func() error { return deps.Journal.Run(sinkCtx) })
	}
	if deps.Auditor != nil {
		sinks.Go(func() error { return deps.Auditor.Run(sinkCtx) })
	}

	orch := pipeline.NewOrchestrator(deps.Pipelines, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(gctx)
	})
	if a.cfg.Server.Enabled {
		a.startHTTPServer(gctx, g, deps, orch)
	}

	runErr := g.Wait()
	stopSinks()
	if err := sinks.Wait(); err != nil {
		a.logger.Error("sink stopped with error", slog.String("error", err.Error()))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return ctx.Err()
}

// startHTTPServer adds the HTTP server to g. The server is shut down
// gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, orch *pipeline.Orchestrator) {
	extras := map[string]func() any{}
	if deps.Journal != nil {
		extras["replay"] = func() any { return deps.Journal.Stats() }
	}
	if deps.Auditor != nil {
		extras["audit"] = func() any { return deps.Auditor.Stats() }
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.Checks, a.logger),
		Status: handler.NewStatusHandler(orch, extras),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{Port: a.cfg.Server.Port}, handlers, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
