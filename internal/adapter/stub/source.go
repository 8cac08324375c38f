// Package stub provides a deterministic observation source for development and tests.
package stub

import (
	"context"
	"time"

	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Name identifies the source in logs and metrics.
const Name = "stub"

// Placeholder values. Height ramps by 0.1 m per hour so rows differ.
const (
	baseHs  = 1.0
	hsStep  = 0.1
	stubTp  = 10.0
	stubDp  = 120.0
	stubU10 = 5.0
	stubV10 = 2.0
)

// Source implements domain.ObservationSource with synthetic data.
type Source struct {
	clock   clockwork.Clock
	horizon int
}

// New creates a stub source producing horizon hourly samples per site.
func New(clock clockwork.Clock, horizon int) *Source {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Source{clock: clock, horizon: horizon}
}

func (s *Source) Name() string { return Name }

// FetchWave returns the synthetic horizon starting at the top of the current hour.
func (s *Source) FetchWave(_ context.Context, _ domain.Site) ([]domain.WaveObservation, error) {
	start := domain.TopOfHour(s.clock.Now())
	out := make([]domain.WaveObservation, s.horizon)
	for h := range out {
		out[h] = domain.WaveObservation{
			ValidTime: start.Add(time.Duration(h) * time.Hour),
			Hs:        baseHs + hsStep*float64(h),
			Tp:        stubTp,
			Dp:        stubDp,
		}
	}
	return out, nil
}

// FetchWind returns a constant light onshore breeze.
func (s *Source) FetchWind(_ context.Context, _ domain.Site) (domain.WindVector, error) {
	return domain.WindVector{U10: stubU10, V10: stubV10}, nil
}
