package domain

import (
	"context"
	"time"
)

// Site is a configured surf spot.
type Site struct {
	Key           string  `json:"key" yaml:"-"`
	DestinationID string  `json:"destination_id" yaml:"destination_id"` // spot UUID in the store
	Name          string  `json:"name,omitempty" yaml:"name"`
	Lat           float64 `json:"lat,omitempty" yaml:"lat"`
	Lon           float64 `json:"lon,omitempty" yaml:"lon"`
	Notes         string  `json:"notes,omitempty" yaml:"notes"`
}

// WaveObservation is one hourly deep-water wave sample.
type WaveObservation struct {
	ValidTime time.Time `json:"valid_time"`
	Hs        float64   `json:"hs"` // significant height, m
	Tp        float64   `json:"tp"` // peak period, s
	Dp        float64   `json:"dp"` // peak direction, degrees
}

// WindVector holds the 10 m wind components in m/s.
type WindVector struct {
	U10 float64 `json:"u10"` // eastward
	V10 float64 `json:"v10"` // northward
}

// FeatureRecord is the flat input to the scoring functions.
type FeatureRecord struct {
	Hs        float64 `json:"hs"`
	Tp        float64 `json:"tp"`
	Dp        float64 `json:"dp"`
	WindSpeed float64 `json:"wind_speed"`
}

// SourcePayload keeps the raw inputs a row was derived from.
type SourcePayload struct {
	Wave WaveObservation `json:"wave"`
	Wind WindVector      `json:"wind"`
}

// ForecastRow is the persisted record for one site and forecast hour.
type ForecastRow struct {
	SpotID           string        `json:"spot_id"`
	RunTime          time.Time     `json:"run_time"`
	ValidTime        time.Time     `json:"valid_time"`
	SrcRaw           SourcePayload `json:"src_raw"`
	Features         FeatureRecord `json:"features"`
	PredictedQuality float64       `json:"predicted_quality"`
	PredictedStoke   float64       `json:"predicted_stoke"`
	TextSummary      string        `json:"text_summary"`
}

// ObservationSource supplies raw wave and wind data for a site.
//
// FetchWave returns exactly horizon hourly samples starting at the top of the
// current UTC hour. Both methods wrap ErrSourceUnavailable when upstream data
// cannot be retrieved.
type ObservationSource interface {
	Name() string
	FetchWave(ctx context.Context, site Site) ([]WaveObservation, error)
	FetchWind(ctx context.Context, site Site) (WindVector, error)
}
