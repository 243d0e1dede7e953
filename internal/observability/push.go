package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus/push"
)

// Push sends every metric in the registry to a Pushgateway, grouped by
// cluster. Single-shot runs have no scrape window, so this is how their
// results reach Prometheus.
func (m *Metrics) Push(ctx context.Context, url, job, cluster string) error {
	err := push.New(url, job).
		Gatherer(m.Registry).
		Grouping("cluster", cluster).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
