package cache

import (
	"time"

	"github.com/Stattrackrr/stattrackr-sub010/metric"
)

// Option configures store behavior using the functional options pattern.
type Option[V any] func(*storeOptions[V])

// storeOptions holds internal configuration for store instances.
// Stats are always collected; Prometheus export is opt-in.
type storeOptions[V any] struct {
	metricsReg    *metric.Registry
	metricsPrefix string
	now           func() time.Time
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// If registry is nil, this option is ignored.
func WithMetrics[V any](registry *metric.Registry, prefix string) Option[V] {
	return func(opts *storeOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithClock overrides the time source, used by tests to control expiry.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(opts *storeOptions[V]) {
		if now != nil {
			opts.now = now
		}
	}
}

// applyOptions applies functional options to build the store configuration.
func applyOptions[V any](options ...Option[V]) *storeOptions[V] {
	opts := &storeOptions[V]{}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
