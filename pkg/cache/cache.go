// Package cache provides the in-process ephemeral cache tier.
//
// Values carry a per-entry TTL. Reads treat expired entries as misses
// without removing them; a background sweep reclaims space on a loose
// interval so read-miss decisions never depend on the sweep having run.
// The cache is thread-safe with always-on statistics and optional
// Prometheus metrics via functional options.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Stattrackrr/stattrackr-sub010/errors"
)

// entry is a stored value with its expiry.
type entry[V any] struct {
	key       string
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// Counts is a point-in-time breakdown of cache occupancy.
type Counts struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
}

// Store is a thread-safe in-process key/value cache with per-entry TTL.
type Store[V any] struct {
	mu            sync.RWMutex
	items         map[string]*entry[V]
	sweepInterval time.Duration
	stats         *Statistics
	metrics       *storeMetrics
	now           func() time.Time

	// Background sweep coordination
	shutdown chan struct{}
	done     chan struct{}
}

// New creates a Store and starts its background sweep goroutine. The
// goroutine exits when ctx is cancelled or Close is called.
func New[V any](ctx context.Context, sweepInterval time.Duration, options ...Option[V]) (*Store[V], error) {
	opts := applyOptions(options...)

	var metrics *storeMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newStoreMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapFatal(err, "cache", "New", "metrics registration")
		}
	}

	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}

	s := &Store[V]{
		items:         make(map[string]*entry[V]),
		sweepInterval: sweepInterval,
		stats:         NewStatistics(),
		metrics:       metrics,
		now:           opts.now,
		shutdown:      make(chan struct{}),
		done:          make(chan struct{}),
	}
	if s.now == nil {
		s.now = time.Now
	}

	go s.sweep(ctx)

	return s, nil
}

// Get retrieves a value by key. An entry past its expiry is a miss; it is
// left in place for the background sweep to reclaim.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	ent, exists := s.items[key]
	s.mu.RUnlock()

	if !exists || s.now().After(ent.expiresAt) {
		var zero V
		s.stats.Miss()
		if s.metrics != nil {
			s.metrics.recordMiss()
		}
		return zero, false
	}

	s.stats.Hit()
	if s.metrics != nil {
		s.metrics.recordHit()
	}
	return ent.value, true
}

// GetStale retrieves a value even if it has expired. The second return
// reports presence, the third whether the entry is past its expiry. Used
// for degraded serving when the upstream is down.
func (s *Store[V]) GetStale(key string) (V, bool, bool) {
	s.mu.RLock()
	ent, exists := s.items[key]
	s.mu.RUnlock()

	if !exists {
		var zero V
		return zero, false, false
	}
	return ent.value, true, s.now().After(ent.expiresAt)
}

// Set stores a value with the given TTL. Returns true if a new entry was
// created, false if an existing one was replaced.
func (s *Store[V]) Set(key string, value V, ttl time.Duration) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, errors.WrapPermanent(
			fmt.Errorf("ttl must be positive, got %v", ttl),
			"cache", "Set", "ttl validation")
	}

	now := s.now()
	s.mu.Lock()
	_, exists := s.items[key]
	s.items[key] = &entry[V]{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
	size := len(s.items)
	s.mu.Unlock()

	s.stats.Set()
	s.stats.UpdateSize(int64(size))
	if s.metrics != nil {
		s.metrics.recordSet()
		s.metrics.updateSize(size)
	}

	return !exists, nil
}

// Delete removes an entry by key. Returns true if the key existed.
func (s *Store[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	s.mu.Lock()
	_, exists := s.items[key]
	if exists {
		delete(s.items, key)
	}
	size := len(s.items)
	s.mu.Unlock()

	if exists {
		s.stats.Delete()
		s.stats.UpdateSize(int64(size))
		if s.metrics != nil {
			s.metrics.recordDelete()
			s.metrics.updateSize(size)
		}
	}

	return exists, nil
}

// Clear removes all entries.
func (s *Store[V]) Clear() error {
	s.mu.Lock()
	s.items = make(map[string]*entry[V])
	s.mu.Unlock()

	s.stats.UpdateSize(0)
	if s.metrics != nil {
		s.metrics.updateSize(0)
	}
	return nil
}

// Keys returns all keys currently held, including expired but unswept ones.
func (s *Store[V]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	return keys
}

// KeysWithPrefix returns all keys sharing the given prefix, including
// expired but unswept ones. An empty prefix matches every key.
func (s *Store[V]) KeysWithPrefix(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Len returns the current number of entries, expired included.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Counts reports total, valid, and expired entry counts.
func (s *Store[V]) Counts() Counts {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	c := Counts{Total: len(s.items)}
	for _, ent := range s.items {
		if now.After(ent.expiresAt) {
			c.Expired++
		} else {
			c.Valid++
		}
	}
	return c
}

// Stats returns the always-on statistics tracker.
func (s *Store[V]) Stats() *Statistics {
	return s.stats
}

// Close stops the background sweep goroutine.
func (s *Store[V]) Close() error {
	select {
	case <-s.shutdown:
		// Already shutting down
	default:
		close(s.shutdown)
	}

	select {
	case <-s.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for sweep goroutine to finish")
	}
}

// sweep periodically removes expired entries.
func (s *Store[V]) sweep(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

// removeExpired removes all expired entries from the store.
func (s *Store[V]) removeExpired() {
	now := s.now()
	removed := 0

	s.mu.Lock()
	for key, ent := range s.items {
		if now.After(ent.expiresAt) {
			delete(s.items, key)
			removed++
		}
	}
	size := len(s.items)
	s.mu.Unlock()

	if removed > 0 {
		for i := 0; i < removed; i++ {
			s.stats.Eviction()
		}
		s.stats.UpdateSize(int64(size))
		if s.metrics != nil {
			for i := 0; i < removed; i++ {
				s.metrics.recordEviction()
			}
			s.metrics.updateSize(size)
		}
	}
}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapPermanent(fmt.Errorf("key cannot be empty"), "cache", "validateKey", "key validation")
	}
	return nil
}
