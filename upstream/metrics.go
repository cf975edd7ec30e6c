package upstream

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Stattrackrr/stattrackr-sub010/metric"
)

// clientMetrics holds Prometheus metrics for upstream fetches.
type clientMetrics struct {
	latency    prometheus.Histogram
	rateLimits prometheus.Counter
}

func newClientMetrics(registry *metric.Registry) (*clientMetrics, error) {
	m := &clientMetrics{
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "stattrackr",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream request latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		rateLimits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stattrackr",
			Subsystem: "upstream",
			Name:      "rate_limited_total",
			Help:      "Total number of 429 responses from providers",
		}),
	}

	if err := registry.Register("upstream", "request_duration_seconds", m.latency); err != nil {
		return nil, err
	}
	if err := registry.Register("upstream", "rate_limited_total", m.rateLimits); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *clientMetrics) observeLatency(d time.Duration) { m.latency.Observe(d.Seconds()) }
func (m *clientMetrics) recordRateLimit()               { m.rateLimits.Inc() }
