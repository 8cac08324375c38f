// Package supabase upserts forecast rows through the PostgREST interface of a
// Supabase project.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/surf-forecast-etl/internal/domain"
	"github.com/couchcryptid/surf-forecast-etl/internal/observability"
	"github.com/tidwall/gjson"
)

const (
	preferUpsert = "resolution=merge-duplicates,return=representation"
	maxErrorBody = 512
)

// Config holds the connection settings for the table endpoint.
type Config struct {
	URL        string // project URL, without trailing slash
	Key        string // service key, sent as apikey and bearer token
	Table      string
	OnConflict string // optional comma-separated conflict columns
	Timeout    time.Duration
}

// Client writes batches of forecast rows with merge-on-duplicate semantics.
type Client struct {
	endpoint   string
	key        string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a table client for cfg.Table.
func NewClient(cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Client {
	endpoint := strings.TrimRight(cfg.URL, "/") + "/rest/v1/" + url.PathEscape(cfg.Table)
	if cfg.OnConflict != "" {
		endpoint += "?" + url.Values{"on_conflict": {cfg.OnConflict}}.Encode()
	}
	return &Client{
		endpoint:   endpoint,
		key:        cfg.Key,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    metrics,
		logger:     logger,
	}
}

// Upsert sends every row in a single request and returns the number of rows
// the store echoed back. An empty batch is a no-op.
func (c *Client) Upsert(ctx context.Context, rows []domain.ForecastRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()
	n, err := c.upsert(ctx, rows)
	c.metrics.SinkRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		class := "permanent"
		if domain.IsRetryable(err) {
			class = "transient"
		}
		c.metrics.SinkErrors.WithLabelValues(class).Inc()
		c.logger.Error("supabase upsert failed", "rows", len(rows), "class", class, "error", err)
		return 0, err
	}
	return n, nil
}

func (c *Client) upsert(ctx context.Context, rows []domain.ForecastRow) (int, error) {
	payload, err := json.Marshal(rows)
	if err != nil {
		return 0, fmt.Errorf("%w: encode rows: %w", domain.ErrSink, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("%w: create request: %w", domain.ErrSink, err)
	}
	req.Header.Set("apikey", c.key)
	req.Header.Set("Authorization", "Bearer "+c.key)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", preferUpsert)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, domain.NewSinkTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, domain.NewSinkTransportError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, domain.NewSinkStatusError(resp.StatusCode, errorBody(body))
	}

	// return=representation echoes the stored rows; some proxies strip the body.
	if len(bytes.TrimSpace(body)) == 0 {
		return len(rows), nil
	}
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("%w: invalid JSON in response", domain.ErrSink)
	}
	return int(gjson.GetBytes(body, "#").Int()), nil
}

func errorBody(body []byte) string {
	msg := gjson.GetBytes(body, "message").String()
	if msg != "" {
		return msg
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
