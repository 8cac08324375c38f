package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushJob is the Pushgateway job name for one-shot runs.
const PushJob = "surf_forecast_worker"

// Push sends the worker metrics to a Pushgateway. One-shot runs exit before any
// scrape could happen, so this is how their metrics reach Prometheus.
func Push(ctx context.Context, url string, m *Metrics) error {
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("register metrics for push: %w", err)
	}
	if err := push.New(url, PushJob).Gatherer(reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
