package domain

import (
	"fmt"
	"time"
)

// DefaultHorizon is the number of hourly samples per site.
const DefaultHorizon = 24

// CheckSeries verifies that waves is a complete hourly horizon starting at start.
func CheckSeries(waves []WaveObservation, start time.Time, horizon int) error {
	if len(waves) != horizon {
		return fmt.Errorf("expected %d hourly samples, got %d", horizon, len(waves))
	}
	for i, w := range waves {
		want := start.Add(time.Duration(i) * time.Hour)
		if !w.ValidTime.Equal(want) {
			return fmt.Errorf("sample %d valid at %s, want %s", i, w.ValidTime.Format(time.RFC3339), want.Format(time.RFC3339))
		}
	}
	return nil
}
