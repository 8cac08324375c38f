package domain

import (
	"fmt"
	"time"
)

// AssembleRow builds the persisted row for one site and wave sample.
// runTime must be the instant shared by the whole batch.
func AssembleRow(site Site, runTime time.Time, wave WaveObservation, wind WindVector) ForecastRow {
	features := BuildFeatures(wave, wind)
	return ForecastRow{
		SpotID:           site.DestinationID,
		RunTime:          runTime.UTC(),
		ValidTime:        wave.ValidTime.UTC(),
		SrcRaw:           SourcePayload{Wave: wave, Wind: wind},
		Features:         features,
		PredictedQuality: round2(PredictQuality(features)),
		PredictedStoke:   round2(PredictStoke(features)),
		TextSummary:      Summary(features),
	}
}

// AssembleSite builds one row per wave sample of a site, in sample order.
func AssembleSite(site Site, runTime time.Time, waves []WaveObservation, wind WindVector) []ForecastRow {
	rows := make([]ForecastRow, 0, len(waves))
	for _, w := range waves {
		rows = append(rows, AssembleRow(site, runTime, w, wind))
	}
	return rows
}

// Summary renders a one-line human-readable description, e.g.
// "1.0m @ 10s, wind 5.4 m/s".
func Summary(f FeatureRecord) string {
	return fmt.Sprintf("%.1fm @ %.0fs, wind %.1f m/s", f.Hs, f.Tp, f.WindSpeed)
}

// TopOfHour truncates t to the start of its UTC hour.
func TopOfHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
