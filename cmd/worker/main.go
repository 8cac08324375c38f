// Command worker fetches wave and wind observations for the configured surf
// sites, scores every forecast hour, and upserts the rows into the store.
//
// With RUN_INTERVAL unset it performs one run and exits non-zero on failure.
// With RUN_INTERVAL set it runs on a schedule and serves /healthz, /readyz,
// /runs/last, and /metrics on HTTP_ADDR.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/surf-forecast-etl/internal/adapter/cache"
	"github.com/couchcryptid/surf-forecast-etl/internal/adapter/fixture"
	httpadapter "github.com/couchcryptid/surf-forecast-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/surf-forecast-etl/internal/adapter/kafka"
	"github.com/couchcryptid/surf-forecast-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/surf-forecast-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/surf-forecast-etl/internal/adapter/stub"
	"github.com/couchcryptid/surf-forecast-etl/internal/adapter/supabase"
	"github.com/couchcryptid/surf-forecast-etl/internal/config"
	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/couchcryptid/surf-forecast-etl/internal/observability"
	"github.com/couchcryptid/surf-forecast-etl/internal/pipeline"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

func main() {
	// A .env file is optional; real environment variables take precedence.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err == nil {
		err = cfg.ValidateSink()
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("forecast worker failed", "error", err)
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	sites, err := config.LoadSites(cfg.SitesFile)
	if err != nil {
		return err
	}
	// Fail on unknown keys before building any network client.
	if _, err := sites.Select(cfg.Sites); err != nil {
		return err
	}

	source, err := newSource(cfg, clock, metrics, logger)
	if err != nil {
		return err
	}

	loader, closeLoader, err := newLoader(cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer closeLoader()

	opts := []pipeline.Option{
		pipeline.WithSiteKeys(cfg.Sites),
		pipeline.WithPolicy(pipeline.Policy(cfg.SiteFailurePolicy)),
		pipeline.WithDryRun(cfg.DryRun),
		pipeline.WithClock(clock),
		pipeline.WithProgress(os.Stdout),
	}
	if cfg.KafkaEnabled() {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		opts = append(opts, pipeline.WithPublisher(writer))
		logger.Info("kafka publication enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	p := pipeline.New(sites, source, loader, logger, metrics, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Scheduled() {
		return runOnce(ctx, cfg, p, metrics, logger)
	}
	return runScheduled(ctx, cfg, p, logger)
}

func runOnce(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, metrics *observability.Metrics, logger *slog.Logger) error {
	_, runErr := p.RunOnce(ctx)

	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := observability.Push(pushCtx, cfg.PushgatewayURL, metrics); err != nil {
			logger.Warn("pushgateway push failed", "error", err)
		}
	}
	return runErr
}

func runScheduled(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, logger *slog.Logger) error {
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runErr := p.Run(ctx, cfg.RunInterval)
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
	return runErr
}

func newSource(cfg *config.Config, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) (domain.ObservationSource, error) {
	var source domain.ObservationSource
	switch cfg.Source {
	case config.SourceOpenMeteo:
		source = openmeteo.NewClient(cfg.OpenMeteoMarineURL, cfg.OpenMeteoForecastURL,
			cfg.Horizon, cfg.SourceTimeout, clock, metrics, logger)
	case config.SourceFixture:
		src, err := fixture.Load(cfg.FixtureFile, cfg.Horizon, clock)
		if err != nil {
			return nil, err
		}
		source = src
	default:
		source = stub.New(clock, cfg.Horizon)
	}

	if cfg.SourceCacheSize > 0 {
		source = cache.NewCachedSource(source, cfg.SourceCacheSize, clock, metrics)
		logger.Info("observation cache enabled", "max_entries", cfg.SourceCacheSize)
	}
	logger.Info("observation source selected", "source", source.Name(), "horizon", cfg.Horizon)
	return source, nil
}

func newLoader(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (pipeline.Loader, func(), error) {
	if cfg.Sink == config.SinkSQLite {
		store, err := sqlite.Open(cfg.SQLitePath, metrics, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", domain.ErrSink, err)
		}
		logger.Info("sqlite sink selected", "path", cfg.SQLitePath)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("sqlite close error", "error", err)
			}
		}, nil
	}

	client := supabase.NewClient(supabase.Config{
		URL:        cfg.SupabaseURL,
		Key:        cfg.SupabaseKey,
		Table:      cfg.SupabaseTable,
		OnConflict: cfg.SupabaseOnConflict,
		Timeout:    cfg.SinkTimeout,
	}, metrics, logger)
	logger.Info("supabase sink selected", "table", cfg.SupabaseTable)
	return client, func() {}, nil
}
