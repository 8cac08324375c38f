// Command validate checks the worker configuration without touching the
// network: environment settings, sink settings, the sites document, and the
// requested site selection. With SOURCE=fixture it also replays the snapshot
// for every selected site and scores what it returns.
//
// Usage:
//
//	go run ./cmd/validate
//	SITES=lawrencetown,cow-bay go run ./cmd/validate -sites-file config/sites.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/surf-forecast-etl/internal/adapter/fixture"
	"github.com/couchcryptid/surf-forecast-etl/internal/config"
	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

// phase tracks pass/fail for a validation phase. A phase with skipped set did
// not run and counts as neither.
type phase struct {
	name    string
	skipped string
	errors  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	_ = godotenv.Load()

	sitesFile := flag.String("sites-file", "", "sites document (overrides SITES_FILE)")
	flag.Parse()

	os.Exit(run(*sitesFile))
}

func run(sitesFileOverride string) int {
	fmt.Println("=== Surf Forecast Configuration Check ===")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: environment: %v\n", err)
		return 1
	}
	if sitesFileOverride != "" {
		cfg.SitesFile = sitesFileOverride
	}

	registry, err := config.LoadSites(cfg.SitesFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: sites document: %v\n", err)
		return 1
	}

	sink := &phase{name: "Sink settings"}
	if err := cfg.ValidateSink(); err != nil {
		sink.errorf("%v", err)
	}

	selection := &phase{name: "Site selection"}
	sites, err := registry.Select(cfg.Sites)
	if err != nil {
		selection.errorf("%v", err)
	}

	phases := []*phase{
		sink,
		selection,
		validateFixture(context.Background(), cfg, sites),
	}

	fmt.Printf("Sites file: %s (%d sites, %d selected)\n", cfg.SitesFile, registry.Len(), len(sites))
	fmt.Printf("Source: %s, sink: %s, horizon: %dh, policy: %s\n\n", cfg.Source, cfg.Sink, cfg.Horizon, cfg.SiteFailurePolicy)
	for _, s := range sites {
		fmt.Printf("  %-16s %s  (%.4f, %.4f)  %s\n", s.Key, s.DestinationID, s.Lat, s.Lon, s.Name)
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if p.skipped != "" {
			status = "SKIP (" + p.skipped + ")"
		} else if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll checks passed.")
		return 0
	}
	fmt.Println("\nConfiguration check FAILED.")
	return 1
}

// validateFixture replays the snapshot for every selected site and scores the
// result. Only a fixture can be checked offline.
func validateFixture(ctx context.Context, cfg *config.Config, sites []domain.Site) *phase {
	p := &phase{name: "Fixture observations"}
	if cfg.Source != config.SourceFixture {
		p.skipped = "SOURCE=" + cfg.Source
		return p
	}
	src, err := fixture.Load(cfg.FixtureFile, cfg.Horizon, clockwork.NewRealClock())
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	checkObservations(ctx, p, src, sites, clockwork.NewRealClock().Now())
	return p
}

// checkObservations fetches each site from src and records every fetch error,
// non-finite observation, and out-of-range score on p.
func checkObservations(ctx context.Context, p *phase, src domain.ObservationSource, sites []domain.Site, runTime time.Time) {
	for _, s := range sites {
		waves, err := src.FetchWave(ctx, s)
		if err != nil {
			p.errorf("%v", err)
			continue
		}
		wind, err := src.FetchWind(ctx, s)
		if err != nil {
			p.errorf("%v", err)
			continue
		}
		if !finite(wind.U10, wind.V10) {
			p.errorf("%s: wind (%v, %v) is not finite", s.Key, wind.U10, wind.V10)
		}
		for _, w := range waves {
			if !finite(w.Hs, w.Tp, w.Dp) || w.Hs < 0 {
				p.errorf("%s %s: wave hs=%v tp=%v dp=%v is not a valid observation",
					s.Key, w.ValidTime.Format(time.RFC3339), w.Hs, w.Tp, w.Dp)
			}
		}
		for _, row := range domain.AssembleSite(s, runTime, waves, wind) {
			if !inRange(row.PredictedQuality, domain.MinQuality, domain.MaxQuality) {
				p.errorf("%s %s: quality %v out of range", s.Key, row.ValidTime.Format(time.RFC3339), row.PredictedQuality)
			}
			if !inRange(row.PredictedStoke, domain.MinStoke, domain.MaxStoke) {
				p.errorf("%s %s: stoke %v out of range", s.Key, row.ValidTime.Format(time.RFC3339), row.PredictedStoke)
			}
		}
	}
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// inRange is false for NaN.
func inRange(v, lo, hi float64) bool { return v >= lo && v <= hi }
