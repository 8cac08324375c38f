package domain

import "math"

// Score bounds.
const (
	MinQuality = 0.0
	MaxQuality = 100.0
	MinStoke   = 1.0
	MaxStoke   = 5.0

	// qualityWindPenalty is the quality lost per m/s of wind.
	qualityWindPenalty = 5.0
)

// BuildFeatures combines one wave sample and the site's wind vector.
func BuildFeatures(wave WaveObservation, wind WindVector) FeatureRecord {
	return FeatureRecord{
		Hs:        wave.Hs,
		Tp:        wave.Tp,
		Dp:        wave.Dp,
		WindSpeed: math.Hypot(wind.U10, wind.V10),
	}
}

// PredictQuality scores surface conditions from 0 (blown out) to 100 (glassy).
func PredictQuality(f FeatureRecord) float64 {
	return clamp(MaxQuality-qualityWindPenalty*f.WindSpeed, MinQuality, MaxQuality)
}

// PredictStoke scores size from 1 to 5.
func PredictStoke(f FeatureRecord) float64 {
	return clamp(1.0+f.Hs, MinStoke, MaxStoke)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
