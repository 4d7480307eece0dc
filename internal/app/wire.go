package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tickscraper/internal/blob/s3"
	"github.com/alanyoungcy/tickscraper/internal/config"
	"github.com/alanyoungcy/tickscraper/internal/domain"
	"github.com/alanyoungcy/tickscraper/internal/pipeline"
	"github.com/alanyoungcy/tickscraper/internal/replay"
	"github.com/alanyoungcy/tickscraper/internal/server/handler"
	"github.com/alanyoungcy/tickscraper/internal/store/postgres"
)

// Dependencies bundles everything Run needs. It is constructed by Wire and
// torn down by the returned cleanup function. Journal, Auditor and
// AuditStore are nil when their features are disabled.
type Dependencies struct {
	Pipelines []*pipeline.Pipeline

	Journal    *replay.Journal
	Auditor    *postgres.Auditor
	AuditStore domain.AuditStore

	// Checks are pinged by GET /api/health.
	Checks map[string]handler.Pinger
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Any store that cannot be
// reached at startup is a fatal error.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: map[string]handler.Pinger{}}
	var sinks pipelineSinks

	// --- PostgreSQL audit log (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		store := postgres.NewAuditStore(pgClient.Pool())
		deps.AuditStore = store
		deps.Auditor = postgres.NewAuditor(store, cfg.Postgres.QueueSize, logger)
		deps.Checks["postgres"] = pgClient
		sinks.events = deps.Auditor
	}

	// --- S3 replay journal (optional) ---
	if cfg.Replay.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Journal = replay.NewJournal(s3blob.NewWriter(s3Client, 0), replay.Options{
			Prefix:        cfg.Replay.Prefix,
			MaxEntries:    cfg.Replay.MaxEntries,
			FlushInterval: cfg.Replay.FlushInterval.Duration,
		}, logger)
		deps.Checks["s3"] = pingFunc(s3Client.Health)
		sinks.journal = deps.Journal
	}

	// --- Feeds: one store connection and pipeline per feed ---
	for _, fc := range cfg.Feeds {
		built, err := buildPipeline(ctx, cfg, fc, sinks, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, built.close)
		deps.Pipelines = append(deps.Pipelines, built.pipeline)
		deps.Checks["redis:"+built.pipeline.Name()] = built.store
	}

	return deps, cleanup, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
