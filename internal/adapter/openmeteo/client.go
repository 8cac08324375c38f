// Package openmeteo implements domain.ObservationSource on top of the public
// Open-Meteo Marine and Forecast APIs.
package openmeteo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/couchcryptid/surf-forecast-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"
)

// Name identifies the source in logs and metrics.
const Name = "openmeteo"

const (
	hourFormat  = "2006-01-02T15:04"
	waveVars    = "wave_height,wave_peak_period,wave_direction"
	currentWind = "wind_speed_10m,wind_direction_10m"
)

// Client fetches wave and wind observations from Open-Meteo.
type Client struct {
	marineURL   string
	forecastURL string
	horizon     int
	httpClient  *http.Client
	clock       clockwork.Clock
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// NewClient creates an Open-Meteo client. marineURL and forecastURL are the
// /v1/marine and /v1/forecast endpoints.
func NewClient(marineURL, forecastURL string, horizon int, timeout time.Duration, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Client{
		marineURL:   marineURL,
		forecastURL: forecastURL,
		horizon:     horizon,
		httpClient:  &http.Client{Timeout: timeout},
		clock:       clock,
		metrics:     metrics,
		logger:      logger,
	}
}

func (c *Client) Name() string { return Name }

// FetchWave requests hourly wave statistics for the horizon starting at the
// top of the current UTC hour.
func (c *Client) FetchWave(ctx context.Context, site domain.Site) ([]domain.WaveObservation, error) {
	start := domain.TopOfHour(c.clock.Now())
	end := start.Add(time.Duration(c.horizon-1) * time.Hour)

	params := coordinates(site)
	params.Set("hourly", waveVars)
	params.Set("timeformat", "unixtime")
	params.Set("timezone", "GMT")
	params.Set("start_hour", start.Format(hourFormat))
	params.Set("end_hour", end.Format(hourFormat))

	body, err := c.get(ctx, c.marineURL+"?"+params.Encode(), "wave")
	if err != nil {
		return nil, domain.SourceError(site.Key, "fetch wave", err)
	}

	waves, err := parseWave(body, start, c.horizon)
	if err != nil {
		return nil, domain.SourceError(site.Key, "fetch wave", err)
	}
	return waves, nil
}

// FetchWind requests the current 10 m wind and converts it to u/v components.
func (c *Client) FetchWind(ctx context.Context, site domain.Site) (domain.WindVector, error) {
	params := coordinates(site)
	params.Set("current", currentWind)
	params.Set("wind_speed_unit", "ms")
	params.Set("timezone", "GMT")

	body, err := c.get(ctx, c.forecastURL+"?"+params.Encode(), "wind")
	if err != nil {
		return domain.WindVector{}, domain.SourceError(site.Key, "fetch wind", err)
	}

	wind, err := parseWind(body)
	if err != nil {
		return domain.WindVector{}, domain.SourceError(site.Key, "fetch wind", err)
	}
	return wind, nil
}

func (c *Client) get(ctx context.Context, fullURL, kind string) ([]byte, error) {
	start := time.Now()
	body, err := c.doRequest(ctx, fullURL)
	c.metrics.SourceAPIDuration.WithLabelValues(Name, kind).Observe(time.Since(start).Seconds())

	outcome := "success"
	if err != nil {
		outcome = "error"
		c.logger.Warn("open-meteo request failed", "kind", kind, "error", err)
	}
	c.metrics.SourceRequests.WithLabelValues(Name, kind, outcome).Inc()
	return body, err
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open-meteo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		reason := gjson.GetBytes(body, "reason").String()
		if reason == "" {
			reason = string(body)
		}
		return nil, fmt.Errorf("open-meteo API error: status %d: %s", resp.StatusCode, reason)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("decode response: invalid JSON")
	}
	return body, nil
}

// parseWave extracts the hourly arrays and keeps the horizon starting at start.
func parseWave(body []byte, start time.Time, horizon int) ([]domain.WaveObservation, error) {
	times := gjson.GetBytes(body, "hourly.time").Array()
	hs := gjson.GetBytes(body, "hourly.wave_height").Array()
	tp := gjson.GetBytes(body, "hourly.wave_peak_period").Array()
	dp := gjson.GetBytes(body, "hourly.wave_direction").Array()

	if len(times) == 0 {
		return nil, errors.New("response has no hourly data")
	}
	if len(hs) != len(times) || len(tp) != len(times) || len(dp) != len(times) {
		return nil, fmt.Errorf("hourly arrays differ in length: time=%d hs=%d tp=%d dp=%d", len(times), len(hs), len(tp), len(dp))
	}

	waves := make([]domain.WaveObservation, 0, horizon)
	for i, ts := range times {
		valid := time.Unix(ts.Int(), 0).UTC()
		if valid.Before(start) {
			continue
		}
		if len(waves) == horizon {
			break
		}
		if hs[i].Type == gjson.Null || tp[i].Type == gjson.Null || dp[i].Type == gjson.Null {
			return nil, fmt.Errorf("missing wave data at %s (site may be inland)", valid.Format(time.RFC3339))
		}
		waves = append(waves, domain.WaveObservation{
			ValidTime: valid,
			Hs:        hs[i].Float(),
			Tp:        tp[i].Float(),
			Dp:        dp[i].Float(),
		})
	}

	if err := domain.CheckSeries(waves, start, horizon); err != nil {
		return nil, err
	}
	return waves, nil
}

// parseWind converts speed and meteorological direction (the bearing the wind
// blows from) into eastward and northward components.
func parseWind(body []byte) (domain.WindVector, error) {
	speed := gjson.GetBytes(body, "current.wind_speed_10m")
	dir := gjson.GetBytes(body, "current.wind_direction_10m")
	if !speed.Exists() || speed.Type == gjson.Null || !dir.Exists() || dir.Type == gjson.Null {
		return domain.WindVector{}, errors.New("response has no current wind")
	}

	rad := dir.Float() * math.Pi / 180
	s := speed.Float()
	return domain.WindVector{
		U10: -s * math.Sin(rad),
		V10: -s * math.Cos(rad),
	}, nil
}

func coordinates(site domain.Site) url.Values {
	return url.Values{
		"latitude":  {strconv.FormatFloat(site.Lat, 'f', 4, 64)},
		"longitude": {strconv.FormatFloat(site.Lon, 'f', 4, 64)},
	}
}
