// Command genfixture captures wave and wind observations for every selected
// site and writes them as a replayable snapshot for SOURCE=fixture.
//
// Usage:
//
//	go run ./cmd/genfixture -out testdata/snapshot.json
//	SITES=lawrencetown go run ./cmd/genfixture -source stub -out /tmp/stub.json
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/surf-forecast-etl/internal/adapter/fixture"
	"github.com/couchcryptid/surf-forecast-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/surf-forecast-etl/internal/adapter/stub"
	"github.com/couchcryptid/surf-forecast-etl/internal/config"
	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/couchcryptid/surf-forecast-etl/internal/observability"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	out := flag.String("out", "", "output path for the snapshot (- for stdout)")
	sourceName := flag.String("source", config.SourceOpenMeteo, "live source to capture: openmeteo or stub")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	registry, err := config.LoadSites(cfg.SitesFile)
	if err != nil {
		return err
	}
	sites, err := registry.Select(cfg.Sites)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg)
	clock := clockwork.NewRealClock()

	var source domain.ObservationSource
	switch *sourceName {
	case config.SourceOpenMeteo:
		source = openmeteo.NewClient(cfg.OpenMeteoMarineURL, cfg.OpenMeteoForecastURL,
			cfg.Horizon, cfg.SourceTimeout, clock, observability.NewMetricsForTesting(), logger)
	case config.SourceStub:
		source = stub.New(clock, cfg.Horizon)
	default:
		return fmt.Errorf("invalid -source %q (must be openmeteo or stub)", *sourceName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snap, err := capture(ctx, source, sites, clock, logger)
	if err != nil {
		return err
	}

	if *out == "-" {
		err = fixture.Write(os.Stdout, snap)
	} else {
		err = writeSnapshot(*out, snap)
	}
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	logger.Info("snapshot written", "path", *out, "sites", len(snap.Sites), "source", source.Name())
	return nil
}

// writeSnapshot writes snap to path. A failed close is reported, since the
// file may be incomplete.
func writeSnapshot(path string, snap fixture.Snapshot) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fixture.Write(f, snap)
}

func capture(ctx context.Context, source domain.ObservationSource, sites []domain.Site, clock clockwork.Clock, logger *slog.Logger) (fixture.Snapshot, error) {
	snap := fixture.Snapshot{
		CapturedAt: clock.Now().UTC(),
		Source:     source.Name(),
		Sites:      make(map[string]fixture.SiteSnapshot, len(sites)),
	}
	for _, s := range sites {
		waves, err := source.FetchWave(ctx, s)
		if err != nil {
			return fixture.Snapshot{}, err
		}
		wind, err := source.FetchWind(ctx, s)
		if err != nil {
			return fixture.Snapshot{}, err
		}
		snap.Sites[s.Key] = fixture.SiteSnapshot{Wave: waves, Wind: wind}
		logger.Debug("captured site", "site", s.Key, "samples", len(waves))
	}
	return snap, nil
}
