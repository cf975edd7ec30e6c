package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Stattrackrr/stattrackr-sub010/metric"
)

// storeMetrics holds Prometheus metrics for cache operations.
type storeMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	deletes   prometheus.Counter
	evictions prometheus.Counter
	size      prometheus.Gauge
}

// newStoreMetrics creates and registers cache metrics with the registry.
func newStoreMetrics(registry *metric.Registry, prefix string) (*storeMetrics, error) {
	m := &storeMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "stattrackr",
			Subsystem:   "cache",
			Name:        "hits_total",
			ConstLabels: prometheus.Labels{"tier": prefix},
			Help:        "Total number of cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "stattrackr",
			Subsystem:   "cache",
			Name:        "misses_total",
			ConstLabels: prometheus.Labels{"tier": prefix},
			Help:        "Total number of cache misses",
		}),
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "stattrackr",
			Subsystem:   "cache",
			Name:        "sets_total",
			ConstLabels: prometheus.Labels{"tier": prefix},
			Help:        "Total number of cache set operations",
		}),
		deletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "stattrackr",
			Subsystem:   "cache",
			Name:        "deletes_total",
			ConstLabels: prometheus.Labels{"tier": prefix},
			Help:        "Total number of cache delete operations",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "stattrackr",
			Subsystem:   "cache",
			Name:        "evictions_total",
			ConstLabels: prometheus.Labels{"tier": prefix},
			Help:        "Total number of expired entries reclaimed",
		}),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "stattrackr",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"tier": prefix},
			Help:        "Current number of entries in cache",
		}),
	}

	if err := registry.Register(prefix, "cache_hits", m.hits); err != nil {
		return nil, err
	}
	if err := registry.Register(prefix, "cache_misses", m.misses); err != nil {
		return nil, err
	}
	if err := registry.Register(prefix, "cache_sets", m.sets); err != nil {
		return nil, err
	}
	if err := registry.Register(prefix, "cache_deletes", m.deletes); err != nil {
		return nil, err
	}
	if err := registry.Register(prefix, "cache_evictions", m.evictions); err != nil {
		return nil, err
	}
	if err := registry.Register(prefix, "cache_size", m.size); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *storeMetrics) recordHit()      { m.hits.Inc() }
func (m *storeMetrics) recordMiss()     { m.misses.Inc() }
func (m *storeMetrics) recordSet()      { m.sets.Inc() }
func (m *storeMetrics) recordDelete()   { m.deletes.Inc() }
func (m *storeMetrics) recordEviction() { m.evictions.Inc() }

func (m *storeMetrics) updateSize(size int) { m.size.Set(float64(size)) }
