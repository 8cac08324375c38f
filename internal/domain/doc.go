// Package domain models surf forecast data and the baseline scoring heuristics.
//
// # Observations
//
// Wave observations are deep-water (offshore) summary statistics for one hour:
//
//	Hs  significant wave height, metres
//	Tp  peak period, seconds
//	Dp  peak direction, degrees in [0, 360), direction the swell comes from
//
// A wave source returns one observation per forecast hour. The first sample is
// valid at the top of the current UTC hour and each following sample is one
// hour later.
//
// Wind is a single vector per site and run, expressed as the u (eastward) and
// v (northward) components at 10 m in m/s. The same vector is applied to every
// hour of a site's horizon.
//
// # Features and scores
//
//	wind_speed        = hypot(u10, v10)
//	predicted_quality = clamp(100 - 5*wind_speed, 0, 100)
//	predicted_stoke   = clamp(1 + hs, 1, 5)
//
// Scores are rounded half away from zero to two decimals before they are
// stored. Inputs are never validated: out-of-range heights or speeds pass
// through the features untouched and are absorbed by the clamps.
//
// # Rows
//
// One [ForecastRow] is produced per (site, hour). All rows of a run share the
// same run_time. The store is expected to merge duplicates on its own unique
// key (spot_id, valid_time), which makes reruns idempotent.
package domain
