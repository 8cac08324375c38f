package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSpotID = "6f1c2b0e-3a4d-4c5e-9f70-8a1b2c3d4e5f"

var (
	testSite    = Site{Key: "lawrencetown", DestinationID: testSpotID, Name: "Lawrencetown Beach"}
	testRunTime = time.Date(2025, time.September, 14, 9, 37, 12, 0, time.UTC)
	testValid   = time.Date(2025, time.September, 14, 9, 0, 0, 0, time.UTC)
)

func TestAssembleRow(t *testing.T) {
	t.Run("typical conditions", func(t *testing.T) {
		wave := WaveObservation{ValidTime: testValid, Hs: 1.0, Tp: 10.0, Dp: 120.0}
		wind := WindVector{U10: 5.0, V10: 2.0}

		row := AssembleRow(testSite, testRunTime, wave, wind)

		assert.Equal(t, testSpotID, row.SpotID)
		assert.Equal(t, testRunTime, row.RunTime)
		assert.Equal(t, testValid, row.ValidTime)
		assert.InDelta(t, 5.385, row.Features.WindSpeed, 0.001)
		assert.Equal(t, 73.07, row.PredictedQuality)
		assert.Equal(t, 2.0, row.PredictedStoke)
		assert.Equal(t, "1.0m @ 10s, wind 5.4 m/s", row.TextSummary)
		assert.Equal(t, SourcePayload{Wave: wave, Wind: wind}, row.SrcRaw)
	})

	t.Run("calm wind gives full quality", func(t *testing.T) {
		row := AssembleRow(testSite, testRunTime, WaveObservation{ValidTime: testValid, Hs: 0.8, Tp: 8}, WindVector{})
		assert.Equal(t, 100.0, row.PredictedQuality)
		assert.Equal(t, "0.8m @ 8s, wind 0.0 m/s", row.TextSummary)
	})

	t.Run("large swell clamps stoke", func(t *testing.T) {
		row := AssembleRow(testSite, testRunTime, WaveObservation{ValidTime: testValid, Hs: 10.0, Tp: 16}, WindVector{U10: 1})
		assert.Equal(t, 5.0, row.PredictedStoke)
	})

	t.Run("height survives the round trip", func(t *testing.T) {
		for _, hs := range []float64{0, 0.1, 1.2345678, 3.3, 12.75} {
			row := AssembleRow(testSite, testRunTime, WaveObservation{ValidTime: testValid, Hs: hs}, WindVector{})
			assert.Equal(t, hs, row.Features.Hs)
		}
	})

	t.Run("times are normalized to UTC", func(t *testing.T) {
		halifax := time.FixedZone("ADT", -3*3600)
		row := AssembleRow(testSite, testRunTime.In(halifax), WaveObservation{ValidTime: testValid.In(halifax)}, WindVector{})
		assert.Equal(t, time.UTC, row.RunTime.Location())
		assert.True(t, row.RunTime.Equal(testRunTime))
		assert.True(t, row.ValidTime.Equal(testValid))
	})
}

func TestAssembleSite(t *testing.T) {
	waves := []WaveObservation{
		{ValidTime: testValid, Hs: 1.0, Tp: 10, Dp: 120},
		{ValidTime: testValid.Add(time.Hour), Hs: 1.1, Tp: 10, Dp: 120},
		{ValidTime: testValid.Add(2 * time.Hour), Hs: 1.2, Tp: 10, Dp: 120},
	}
	wind := WindVector{U10: 5, V10: 2}

	rows := AssembleSite(testSite, testRunTime, waves, wind)

	require.Len(t, rows, 3)
	for i, row := range rows {
		assert.Equal(t, waves[i].ValidTime, row.ValidTime)
		assert.Equal(t, testRunTime, row.RunTime)
		assert.Equal(t, wind, row.SrcRaw.Wind, "wind is applied uniformly")
	}
}

func TestForecastRow_JSONShape(t *testing.T) {
	row := AssembleRow(testSite, testRunTime, WaveObservation{ValidTime: testValid, Hs: 1.0, Tp: 10, Dp: 120}, WindVector{U10: 5, V10: 2})

	data, err := json.Marshal(row)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	assert.Equal(t, testSpotID, m["spot_id"])
	assert.Equal(t, "2025-09-14T09:37:12Z", m["run_time"])
	assert.Equal(t, "2025-09-14T09:00:00Z", m["valid_time"])
	assert.Equal(t, "1.0m @ 10s, wind 5.4 m/s", m["text_summary"])

	src := m["src_raw"].(map[string]any)
	assert.Equal(t, map[string]any{"u10": 5.0, "v10": 2.0}, src["wind"])
	wave := src["wave"].(map[string]any)
	assert.Equal(t, 1.0, wave["hs"])
	assert.Equal(t, "2025-09-14T09:00:00Z", wave["valid_time"])

	features := m["features"].(map[string]any)
	assert.Contains(t, features, "wind_speed")
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "2.3m @ 12s, wind 11.2 m/s", Summary(FeatureRecord{Hs: 2.34, Tp: 12.2, WindSpeed: 11.21}))
	assert.Equal(t, "0.0m @ 0s, wind 0.0 m/s", Summary(FeatureRecord{}))
}

func TestTopOfHour(t *testing.T) {
	assert.Equal(t, testValid, TopOfHour(testRunTime))
}

func TestCheckSeries(t *testing.T) {
	start := testValid
	series := func(n int) []WaveObservation {
		out := make([]WaveObservation, n)
		for i := range out {
			out[i] = WaveObservation{ValidTime: start.Add(time.Duration(i) * time.Hour)}
		}
		return out
	}

	require.NoError(t, CheckSeries(series(24), start, 24))

	err := CheckSeries(series(23), start, 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 23")

	gap := series(24)
	gap[5].ValidTime = gap[5].ValidTime.Add(30 * time.Minute)
	err = CheckSeries(gap, start, 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sample 5")

	require.Error(t, CheckSeries(series(24), start.Add(time.Hour), 24))
}
