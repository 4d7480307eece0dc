package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs every configured pipeline concurrently. Pipelines share
// nothing; each owns its connection and store handle.
type Orchestrator struct {
	pipelines []*Pipeline
	logger    *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(pipelines []*Pipeline, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		pipelines: pipelines,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run starts all pipelines as concurrent goroutines using an errgroup. If any
// pipeline returns a non-context error (a failed initial connection), the
// errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting", slog.Int("pipelines", len(o.pipelines)))

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range o.pipelines {
		g.Go(func() error {
			err := p.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}

// Statuses returns the status of every pipeline in configuration order.
func (o *Orchestrator) Statuses() []Status {
	out := make([]Status, 0, len(o.pipelines))
	for _, p := range o.pipelines {
		out = append(out, p.Status())
	}
	return out
}
