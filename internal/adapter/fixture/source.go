// Package fixture replays observation snapshots written by cmd/genfixture.
package fixture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Name identifies the source in logs and metrics.
const Name = "fixture"

var errNotInFixture = errors.New("site not in fixture")

// Snapshot is the on-disk fixture format.
type Snapshot struct {
	CapturedAt time.Time               `json:"captured_at"`
	Source     string                  `json:"source"`
	Sites      map[string]SiteSnapshot `json:"sites"`
}

// SiteSnapshot holds the raw observations captured for one site.
type SiteSnapshot struct {
	Wave []domain.WaveObservation `json:"wave"`
	Wind domain.WindVector        `json:"wind"`
}

// Source implements domain.ObservationSource from a Snapshot.
//
// Wave times are shifted so the first sample falls on the current top of hour;
// the hourly spacing of the snapshot is kept.
type Source struct {
	snap    Snapshot
	horizon int
	clock   clockwork.Clock
}

// Load reads a snapshot file.
func Load(path string, horizon int, clock clockwork.Clock) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open fixture: %w", domain.ErrConfig, err)
	}
	defer f.Close()
	return Read(f, horizon, clock)
}

// Read decodes a snapshot from r.
func Read(r io.Reader, horizon int, clock clockwork.Clock) (*Source, error) {
	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: decode fixture: %w", domain.ErrConfig, err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Source{snap: snap, horizon: horizon, clock: clock}, nil
}

func (s *Source) Name() string { return Name }

func (s *Source) FetchWave(_ context.Context, site domain.Site) ([]domain.WaveObservation, error) {
	snap, ok := s.snap.Sites[site.Key]
	if !ok {
		return nil, domain.SourceError(site.Key, "fetch wave", errNotInFixture)
	}
	if len(snap.Wave) < s.horizon {
		return nil, domain.SourceError(site.Key, "fetch wave",
			fmt.Errorf("fixture has %d samples, need %d", len(snap.Wave), s.horizon))
	}

	start := domain.TopOfHour(s.clock.Now())
	shift := start.Sub(snap.Wave[0].ValidTime.UTC())

	out := make([]domain.WaveObservation, s.horizon)
	for i := range out {
		w := snap.Wave[i]
		w.ValidTime = w.ValidTime.UTC().Add(shift)
		out[i] = w
	}
	if err := domain.CheckSeries(out, start, s.horizon); err != nil {
		return nil, domain.SourceError(site.Key, "fetch wave", err)
	}
	return out, nil
}

func (s *Source) FetchWind(_ context.Context, site domain.Site) (domain.WindVector, error) {
	snap, ok := s.snap.Sites[site.Key]
	if !ok {
		return domain.WindVector{}, domain.SourceError(site.Key, "fetch wind", errNotInFixture)
	}
	return snap.Wind, nil
}

// Write encodes snap as indented JSON.
func Write(w io.Writer, snap Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
