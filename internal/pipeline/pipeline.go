// Package pipeline runs the fetch, score, and upsert cycle over the configured sites.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/couchcryptid/surf-forecast-etl/internal/observability"
	"github.com/jonboulle/clockwork"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// SiteResolver turns the requested site keys into sites. An unknown key must
// fail with an error wrapping domain.ErrConfig.
type SiteResolver interface {
	Select(keys []string) ([]domain.Site, error)
}

// Loader writes a batch of rows to the store in one call, merging duplicates,
// and returns the number of rows the store acknowledged.
type Loader interface {
	Upsert(ctx context.Context, rows []domain.ForecastRow) (int, error)
}

// Publisher forwards stored rows to a secondary consumer.
type Publisher interface {
	Publish(ctx context.Context, rows []domain.ForecastRow) (int, error)
}

// Policy decides what happens when one site's observations cannot be fetched.
type Policy string

const (
	// AbortRun fails the whole run on the first site error. Nothing is written.
	AbortRun Policy = "abort"
	// SkipSite logs the failure and continues with the remaining sites.
	SkipSite Policy = "skip"
)

// Pipeline orchestrates one forecast run, or a schedule of them.
type Pipeline struct {
	sites     SiteResolver
	keys      []string
	source    domain.ObservationSource
	loader    Loader
	publisher Publisher
	policy    Policy
	dryRun    bool
	clock     clockwork.Clock
	progress  io.Writer
	logger    *slog.Logger
	metrics   *observability.Metrics

	ready   atomic.Bool
	lastRun atomic.Pointer[domain.RunReport]
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSiteKeys restricts runs to the given site keys, in that order.
func WithSiteKeys(keys []string) Option {
	return func(p *Pipeline) { p.keys = keys }
}

// WithPolicy sets the per-site failure policy. The default is AbortRun.
func WithPolicy(policy Policy) Option {
	return func(p *Pipeline) { p.policy = policy }
}

// WithDryRun builds rows without writing them.
func WithDryRun(dryRun bool) Option {
	return func(p *Pipeline) { p.dryRun = dryRun }
}

// WithPublisher publishes rows after the store acknowledges them.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithClock sets the clock used for run times and scheduling.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = clock }
}

// WithProgress sets where the operator-facing progress lines are printed.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) { p.progress = w }
}

// New creates a Pipeline reading from source and writing to loader.
func New(sites SiteResolver, source domain.ObservationSource, loader Loader, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		sites:    sites,
		source:   source,
		loader:   loader,
		policy:   AbortRun,
		clock:    clockwork.NewRealClock(),
		progress: io.Discard,
		logger:   logger,
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once a run has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a successful run yet")
	}
	return nil
}

// LastRun returns the report of the most recent run, if any.
func (p *Pipeline) LastRun() (domain.RunReport, bool) {
	r := p.lastRun.Load()
	if r == nil {
		return domain.RunReport{}, false
	}
	return *r, true
}

// RunOnce performs a single run: resolve every site, fetch and score each one
// in order, then write all rows in one bulk call. Site resolution happens
// before any network call, so a configuration error never reaches the source.
func (p *Pipeline) RunOnce(ctx context.Context) (domain.RunReport, error) {
	start := p.clock.Now()
	report, err := p.runOnce(ctx)
	report.Duration = p.clock.Since(start)

	outcome := "success"
	if err != nil {
		outcome = "error"
		report.Error = err.Error()
	}
	p.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	p.metrics.RunDuration.Observe(report.Duration.Seconds())
	p.lastRun.Store(&report)
	return report, err
}

func (p *Pipeline) runOnce(ctx context.Context) (domain.RunReport, error) {
	var report domain.RunReport

	sites, err := p.sites.Select(p.keys)
	if err != nil {
		return report, err
	}
	report.Sites = len(sites)

	// One run time for the whole batch.
	runTime := p.clock.Now().UTC()
	report.RunTime = runTime

	var rows []domain.ForecastRow
	for _, site := range sites {
		siteRows, err := p.processSite(ctx, site, runTime)
		if err != nil {
			if p.policy != SkipSite || ctx.Err() != nil {
				return report, err
			}
			p.logger.Warn("skipping site", "site", site.Key, "error", err)
			report.Skipped = append(report.Skipped, site.Key)
			continue
		}
		rows = append(rows, siteRows...)
	}
	if len(sites) > 0 && len(report.Skipped) == len(sites) {
		return report, fmt.Errorf("%w: all %d sites failed", domain.ErrSourceUnavailable, len(sites))
	}

	report.Rows = len(rows)
	p.metrics.RowsAssembled.Add(float64(len(rows)))

	if p.dryRun {
		report.DryRun = true
		attrs := []any{"rows", len(rows), "sites", len(sites) - len(report.Skipped)}
		if len(rows) > 0 {
			attrs = append(attrs, "first_summary", rows[0].TextSummary)
		}
		p.logger.Info("dry run, skipping upsert", attrs...)
		p.markSuccess()
		return report, nil
	}

	p.logger.Info("inserting forecast rows", "rows", len(rows), "run_time", runTime)
	fmt.Fprintf(p.progress, "Inserting %d forecast rows...\n", len(rows))

	n, err := p.loader.Upsert(ctx, rows)
	if err != nil {
		return report, fmt.Errorf("upsert forecast rows: %w", err)
	}
	report.Upserted = n
	p.metrics.RowsUpserted.Add(float64(n))
	p.markSuccess()

	report.Published = p.publish(ctx, rows)

	p.logger.Info("forecast run complete", "upserted", n, "published", report.Published, "skipped", len(report.Skipped))
	fmt.Fprintln(p.progress, "Done.")
	return report, nil
}

// processSite fetches wave then wind observations for one site and builds its rows.
func (p *Pipeline) processSite(ctx context.Context, site domain.Site, runTime time.Time) ([]domain.ForecastRow, error) {
	waves, err := p.source.FetchWave(ctx, site)
	if err != nil {
		p.metrics.SiteErrors.WithLabelValues(site.Key, "wave").Inc()
		return nil, err
	}
	wind, err := p.source.FetchWind(ctx, site)
	if err != nil {
		p.metrics.SiteErrors.WithLabelValues(site.Key, "wind").Inc()
		return nil, err
	}
	rows := domain.AssembleSite(site, runTime, waves, wind)
	p.logger.Debug("site assembled", "site", site.Key, "rows", len(rows), "source", p.source.Name())
	return rows, nil
}

// publish forwards rows to the optional publisher. The store is the system of
// record, so failures are only logged and counted.
func (p *Pipeline) publish(ctx context.Context, rows []domain.ForecastRow) int {
	if p.publisher == nil || len(rows) == 0 {
		return 0
	}
	n, err := p.publisher.Publish(ctx, rows)
	if err != nil {
		p.metrics.PublishErrors.Inc()
		p.logger.Warn("publish forecast rows failed", "rows", len(rows), "error", err)
		return 0
	}
	p.metrics.RowsPublished.Add(float64(n))
	return n
}

func (p *Pipeline) markSuccess() {
	p.ready.Store(true)
	p.metrics.LastSuccessTime.Set(float64(p.clock.Now().Unix()))
}

// Run executes a run immediately and then on every tick of interval until the
// context is cancelled. Failed runs are retried with exponential backoff, never
// waiting longer than interval. Configuration errors stop the loop.
func (p *Pipeline) Run(ctx context.Context, interval time.Duration) error {
	p.logger.Info("pipeline started", "interval", interval, "source", p.source.Name(), "policy", p.policy)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	ticker := p.clock.NewTicker(interval)
	defer ticker.Stop()

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}

		if _, err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				p.logger.Info("pipeline stopping", "reason", ctx.Err())
				return nil
			}
			if errors.Is(err, domain.ErrConfig) {
				return err
			}
			p.logger.Error("forecast run failed", "error", err, "retry_in", min(backoff, interval))
			if !sleepWithContext(ctx, p.clock, min(backoff, interval)) {
				return nil
			}
			backoff = retry.NextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = initialBackoff

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// sleepWithContext waits on the injected clock so tests can advance it.
func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
