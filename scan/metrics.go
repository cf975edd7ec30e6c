package scan

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Stattrackrr/stattrackr-sub010/metric"
)

// scanMetrics holds Prometheus metrics for scanner runs.
type scanMetrics struct {
	runs      *prometheus.CounterVec
	processed prometheus.Counter
	failures  prometheus.Counter
	duration  prometheus.Histogram
}

// newScanMetrics creates and registers scanner metrics with the registry.
func newScanMetrics(registry *metric.Registry, scanID string) (*scanMetrics, error) {
	m := &scanMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "stattrackr",
			Subsystem:   "scan",
			Name:        "runs_total",
			ConstLabels: prometheus.Labels{"scan": scanID},
			Help:        "Total scanner invocations by terminal state",
		}, []string{"state"}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "stattrackr",
			Subsystem:   "scan",
			Name:        "entities_processed_total",
			ConstLabels: prometheus.Labels{"scan": scanID},
			Help:        "Total entities processed across all runs",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "stattrackr",
			Subsystem:   "scan",
			Name:        "entity_failures_total",
			ConstLabels: prometheus.Labels{"scan": scanID},
			Help:        "Total per-entity refresh failures",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "stattrackr",
			Subsystem:   "scan",
			Name:        "run_duration_seconds",
			ConstLabels: prometheus.Labels{"scan": scanID},
			Help:        "Wall-clock duration of scanner runs",
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	if err := registry.Register(scanID, "scan_runs", m.runs); err != nil {
		return nil, err
	}
	if err := registry.Register(scanID, "scan_processed", m.processed); err != nil {
		return nil, err
	}
	if err := registry.Register(scanID, "scan_failures", m.failures); err != nil {
		return nil, err
	}
	if err := registry.Register(scanID, "scan_duration", m.duration); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *scanMetrics) recordRun(state State, report Report) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(state)).Inc()
	m.processed.Add(float64(report.Processed))
	m.duration.Observe(report.Elapsed.Seconds())
}

func (m *scanMetrics) recordFailure() {
	if m == nil {
		return
	}
	m.failures.Inc()
}
