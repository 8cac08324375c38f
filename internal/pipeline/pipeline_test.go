package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/surf-forecast-etl/internal/adapter/stub"
	"github.com/couchcryptid/surf-forecast-etl/internal/config"
	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/couchcryptid/surf-forecast-etl/internal/observability"
	"github.com/couchcryptid/surf-forecast-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sitesYAML = `
sites:
  lawrencetown:
    destination_id: 6f1c2b0e-3a4d-4c5e-9f70-8a1b2c3d4e5f
    lat: 44.6445
    lon: -63.3484
  cow-bay:
    destination_id: 0b7e3c52-1f0a-4d5b-8a61-2d9f4c7e8b13
    lat: 44.6063
    lon: -63.4310
`

var now = time.Date(2025, time.September, 14, 9, 37, 12, 0, time.UTC)

// --- mocks ---

// recordingSource wraps the stub source, counting calls and failing chosen sites.
type recordingSource struct {
	inner    domain.ObservationSource
	mu       sync.Mutex
	calls    []string
	failWave map[string]bool
	failWind map[string]bool
}

func (s *recordingSource) Name() string { return "recording" }

func (s *recordingSource) FetchWave(ctx context.Context, site domain.Site) ([]domain.WaveObservation, error) {
	s.record("wave:" + site.Key)
	if s.failWave[site.Key] {
		return nil, domain.SourceError(site.Key, "fetch wave", errors.New("status 503"))
	}
	return s.inner.FetchWave(ctx, site)
}

func (s *recordingSource) FetchWind(ctx context.Context, site domain.Site) (domain.WindVector, error) {
	s.record("wind:" + site.Key)
	if s.failWind[site.Key] {
		return domain.WindVector{}, domain.SourceError(site.Key, "fetch wind", errors.New("timeout"))
	}
	return s.inner.FetchWind(ctx, site)
}

func (s *recordingSource) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingSource) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

type mockLoader struct {
	mu      sync.Mutex
	batches [][]domain.ForecastRow
	errs    []error // returned in order, then nil
	onCall  func()
}

func (m *mockLoader) Upsert(_ context.Context, rows []domain.ForecastRow) (int, error) {
	m.mu.Lock()
	m.batches = append(m.batches, rows)
	var err error
	if len(m.errs) > 0 {
		err, m.errs = m.errs[0], m.errs[1:]
	}
	onCall := m.onCall
	m.mu.Unlock()

	if onCall != nil {
		onCall()
	}
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (m *mockLoader) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

type mockPublisher struct {
	rows []domain.ForecastRow
	err  error
}

func (m *mockPublisher) Publish(_ context.Context, rows []domain.ForecastRow) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.rows = append(m.rows, rows...)
	return len(rows), nil
}

// --- helpers ---

type fixture struct {
	source  *recordingSource
	loader  *mockLoader
	metrics *observability.Metrics
	out     *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(now)
	return &fixture{
		source: &recordingSource{
			inner:    stub.New(clock, domain.DefaultHorizon),
			failWave: map[string]bool{},
			failWind: map[string]bool{},
		},
		loader:  &mockLoader{},
		metrics: observability.NewMetricsForTesting(),
		out:     &bytes.Buffer{},
	}
}

func (f *fixture) pipeline(t *testing.T, opts ...pipeline.Option) *pipeline.Pipeline {
	t.Helper()
	registry, err := config.ParseSites([]byte(sitesYAML))
	require.NoError(t, err)
	opts = append([]pipeline.Option{
		pipeline.WithClock(clockwork.NewFakeClockAt(now)),
		pipeline.WithProgress(f.out),
	}, opts...)
	return pipeline.New(registry, f.source, f.loader, slog.New(slog.NewTextHandler(io.Discard, nil)), f.metrics, opts...)
}

// --- RunOnce ---

func TestRunOnce_AllSitesOneBulkCall(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, f.loader.Calls(), "rows must be written in a single bulk call")
	rows := f.loader.batches[0]
	require.Len(t, rows, 2*domain.DefaultHorizon)

	// Site then hour order, one shared run time.
	assert.Equal(t, "6f1c2b0e-3a4d-4c5e-9f70-8a1b2c3d4e5f", rows[0].SpotID)
	assert.Equal(t, "0b7e3c52-1f0a-4d5b-8a61-2d9f4c7e8b13", rows[domain.DefaultHorizon].SpotID)
	for i, row := range rows {
		assert.Equal(t, now, row.RunTime)
		want := time.Date(2025, time.September, 14, 9, 0, 0, 0, time.UTC).Add(time.Duration(i%domain.DefaultHorizon) * time.Hour)
		assert.Equal(t, want, row.ValidTime)
	}

	assert.Equal(t, "Inserting 48 forecast rows...\nDone.\n", f.out.String())
	assert.Equal(t, []string{"wave:lawrencetown", "wind:lawrencetown", "wave:cow-bay", "wind:cow-bay"}, f.source.Calls())

	want := domain.RunReport{RunTime: now, Sites: 2, Rows: 48, Upserted: 48}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	assert.NoError(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 48, testutil.ToFloat64(f.metrics.RowsUpserted), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("success")), 0)
}

func TestRunOnce_FirstRowMatchesStubScenario(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline(t, pipeline.WithSiteKeys([]string{"lawrencetown"})).RunOnce(context.Background())
	require.NoError(t, err)

	first := f.loader.batches[0][0]
	wave := domain.WaveObservation{ValidTime: time.Date(2025, time.September, 14, 9, 0, 0, 0, time.UTC), Hs: 1.0, Tp: 10, Dp: 120}
	wind := domain.WindVector{U10: 5, V10: 2}
	want := domain.ForecastRow{
		SpotID:           "6f1c2b0e-3a4d-4c5e-9f70-8a1b2c3d4e5f",
		RunTime:          now,
		ValidTime:        wave.ValidTime,
		SrcRaw:           domain.SourcePayload{Wave: wave, Wind: wind},
		Features:         domain.BuildFeatures(wave, wind),
		PredictedQuality: 73.07,
		PredictedStoke:   2,
		TextSummary:      "1.0m @ 10s, wind 5.4 m/s",
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("first row mismatch (-want +got):\n%s", diff)
	}
}

func TestRunOnce_UnknownSiteFailsBeforeAnyFetch(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, pipeline.WithSiteKeys([]string{"lawrencetown", "nonexistent"}))

	_, err := p.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrUnknownSite)
	require.ErrorIs(t, err, domain.ErrConfig)
	assert.Contains(t, err.Error(), `"nonexistent"`)

	assert.Empty(t, f.source.Calls(), "no source call may happen on a configuration error")
	assert.Zero(t, f.loader.Calls())
	assert.Empty(t, f.out.String())

	last, ok := p.LastRun()
	require.True(t, ok)
	assert.False(t, last.Succeeded())
}

func TestRunOnce_AbortPolicyWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.source.failWave["cow-bay"] = true
	p := f.pipeline(t)

	_, err := p.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "cow-bay")
	assert.Zero(t, f.loader.Calls())
	assert.Error(t, p.CheckReadiness(context.Background()))
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.SiteErrors.WithLabelValues("cow-bay", "wave")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("error")), 0)
}

func TestRunOnce_SkipPolicyContinues(t *testing.T) {
	f := newFixture(t)
	f.source.failWind["lawrencetown"] = true
	p := f.pipeline(t, pipeline.WithPolicy(pipeline.SkipSite))

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"lawrencetown"}, report.Skipped)
	require.Equal(t, 1, f.loader.Calls())
	require.Len(t, f.loader.batches[0], domain.DefaultHorizon)
	assert.Equal(t, "0b7e3c52-1f0a-4d5b-8a61-2d9f4c7e8b13", f.loader.batches[0][0].SpotID)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.SiteErrors.WithLabelValues("lawrencetown", "wind")), 0)
}

func TestRunOnce_SkipPolicyAllSitesFailed(t *testing.T) {
	f := newFixture(t)
	f.source.failWave["lawrencetown"] = true
	f.source.failWave["cow-bay"] = true
	p := f.pipeline(t, pipeline.WithPolicy(pipeline.SkipSite))

	_, err := p.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Contains(t, err.Error(), "all 2 sites failed")
	assert.Zero(t, f.loader.Calls())
}

func TestRunOnce_SinkErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.loader.errs = []error{domain.NewSinkStatusError(401, "Invalid API key")}
	pub := &mockPublisher{}
	p := f.pipeline(t, pipeline.WithPublisher(pub))

	_, err := p.RunOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrSink)
	assert.False(t, domain.IsRetryable(err))
	assert.Contains(t, err.Error(), "status 401")

	assert.Equal(t, "Inserting 48 forecast rows...\n", f.out.String(), "Done. is only printed on success")
	assert.Empty(t, pub.rows, "nothing is published when the store rejects the batch")
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestRunOnce_DryRunSkipsSink(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, pipeline.WithDryRun(true))

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 48, report.Rows)
	assert.Zero(t, report.Upserted)
	assert.Zero(t, f.loader.Calls())
	assert.Empty(t, f.out.String())
}

func TestRunOnce_PublishesStoredRows(t *testing.T) {
	f := newFixture(t)
	pub := &mockPublisher{}
	p := f.pipeline(t, pipeline.WithPublisher(pub))

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 48, report.Published)
	assert.Len(t, pub.rows, 48)
	assert.InDelta(t, 48, testutil.ToFloat64(f.metrics.RowsPublished), 0)
}

func TestRunOnce_PublishFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, pipeline.WithPublisher(&mockPublisher{err: errors.New("broker unreachable")}))

	report, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Published)
	assert.Equal(t, 48, report.Upserted)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.PublishErrors), 0)
}

func TestCheckReadiness_BeforeFirstRun(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)

	assert.Error(t, p.CheckReadiness(context.Background()))
	_, ok := p.LastRun()
	assert.False(t, ok)
}

// --- Run ---

func TestRun_RetriesAfterFailureThenStops(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f.loader.errs = []error{domain.NewSinkStatusError(503, "unavailable")}
	f.loader.onCall = func() {
		if f.loader.Calls() == 2 {
			cancel()
		}
	}

	registry, err := config.ParseSites([]byte(sitesYAML))
	require.NoError(t, err)
	p := pipeline.New(registry, f.source, f.loader, slog.New(slog.NewTextHandler(io.Discard, nil)), f.metrics)

	require.NoError(t, p.Run(ctx, time.Hour))
	assert.Equal(t, 2, f.loader.Calls(), "a failed run is retried after a short backoff")
	assert.InDelta(t, 0, testutil.ToFloat64(f.metrics.PipelineRunning), 0)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f.loader.onCall = func() {
		if f.loader.Calls() == 3 {
			cancel()
		}
	}

	registry, err := config.ParseSites([]byte(sitesYAML))
	require.NoError(t, err)
	p := pipeline.New(registry, f.source, f.loader, slog.New(slog.NewTextHandler(io.Discard, nil)), f.metrics)

	require.NoError(t, p.Run(ctx, 20*time.Millisecond))
	assert.Equal(t, 3, f.loader.Calls())
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestRun_ConfigErrorStopsLoop(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, pipeline.WithSiteKeys([]string{"nonexistent"}))

	err := p.Run(context.Background(), time.Hour)
	require.ErrorIs(t, err, domain.ErrConfig)
	assert.Empty(t, f.source.Calls())
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx, time.Hour))
	assert.Zero(t, f.loader.Calls())
}
