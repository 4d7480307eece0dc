package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/tickscraper/internal/book"
	"github.com/alanyoungcy/tickscraper/internal/config"
	"github.com/alanyoungcy/tickscraper/internal/domain"
	"github.com/alanyoungcy/tickscraper/internal/feed"
	"github.com/alanyoungcy/tickscraper/internal/pipeline"
	"github.com/alanyoungcy/tickscraper/internal/platform/ws"
	"github.com/alanyoungcy/tickscraper/internal/series"
	"github.com/alanyoungcy/tickscraper/internal/store/redis"
)

// pipelineSinks are the optional shared recorders handed to every pipeline.
// Fields stay nil interfaces when a feature is disabled.
type pipelineSinks struct {
	journal interface {
		series.FailureSink
		pipeline.FrameJournal
	}
	events interface {
		pipeline.EventRecorder
		book.EventRecorder
	}
}

type builtPipeline struct {
	pipeline *pipeline.Pipeline
	store    *redis.Client
	close    func()
}

// buildPipeline resolves the feed and gives it a dedicated store connection
// so no mutable state is shared between exchange/feed pairs.
func buildPipeline(ctx context.Context, cfg *config.Config, fc config.FeedConfig, sinks pipelineSinks, logger *slog.Logger) (*builtPipeline, error) {
	kind, err := domain.ParseFeedKind(fc.Kind)
	if err != nil {
		return nil, fmt.Errorf("wire: feed %s:%s:%s: %w", fc.Exchange, fc.Kind, fc.Symbol, err)
	}
	spec := feed.Spec{
		Exchange:  strings.ToLower(fc.Exchange),
		Kind:      kind,
		Symbol:    fc.Symbol,
		KeySymbol: fc.KeySymbol,
		Endpoint:  fc.Endpoint,
	}
	f, err := feed.New(spec)
	if err != nil {
		return nil, fmt.Errorf("wire: %w", err)
	}

	client, err := redis.New(ctx, redis.ClientConfig{
		URL:         cfg.Redis.URL(),
		PoolSize:    cfg.Redis.PoolSize,
		MaxRetries:  cfg.Redis.MaxRetries,
		DialTimeout: cfg.Redis.DialTimeout.Duration,
		TLSEnabled:  cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: redis for %s: %w", spec.Name(), err)
	}

	var sink series.FailureSink
	var frames pipeline.FrameJournal
	if sinks.journal != nil {
		sink = sinks.journal
		frames = sinks.journal
	}
	var pipeEvents pipeline.EventRecorder
	var bookEvents book.EventRecorder
	if sinks.events != nil {
		pipeEvents = sinks.events
		bookEvents = sinks.events
	}

	writer := series.NewWriter(redis.NewSeriesStore(client), series.Config{
		Namespace:       cfg.Series.Namespace,
		Retention:       cfg.Series.Retention.Duration,
		DuplicatePolicy: cfg.Series.DuplicatePolicy,
	}, sink, logger)

	var applier pipeline.BookApplier
	if kind == domain.FeedBook {
		mode := series.ResetMode(strings.ToLower(cfg.Series.SnapshotReset))
		applier = book.NewReconciler(writer, mode, bookEvents, logger)
	}

	p := pipeline.New(f, writer, applier, pipeline.Options{
		Name: spec.Name(),
		Transport: ws.Options{
			IdleTimeout:       cfg.Transport.IdleTimeout.Duration,
			HandshakeTimeout:  cfg.Transport.HandshakeTimeout.Duration,
			WriteWait:         cfg.Transport.WriteWait.Duration,
			ReconnectDelay:    cfg.Transport.ReconnectDelay.Duration,
			MaxReconnectDelay: cfg.Transport.MaxReconnectDelay.Duration,
			ReadLimit:         cfg.Transport.ReadLimit,
		},
		Journal: frames,
		Events:  pipeEvents,
	}, logger)

	return &builtPipeline{
		pipeline: p,
		store:    client,
		close:    func() { _ = client.Close() },
	}, nil
}
