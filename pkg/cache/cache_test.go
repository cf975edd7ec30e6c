package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a controllable time source for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, clock *fakeClock) *Store[string] {
	t.Helper()
	opts := []Option[string]{}
	if clock != nil {
		opts = append(opts, WithClock[string](clock.Now))
	}
	s, err := New[string](context.Background(), time.Hour, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_BasicOperations(t *testing.T) {
	s := newTestStore(t, nil)

	_, exists := s.Get("key1")
	assert.False(t, exists, "expected miss on empty store")

	isNew, err := s.Set("key1", "value1", time.Minute)
	require.NoError(t, err)
	assert.True(t, isNew)

	value, exists := s.Get("key1")
	require.True(t, exists)
	assert.Equal(t, "value1", value)

	isNew, err = s.Set("key1", "value1_updated", time.Minute)
	require.NoError(t, err)
	assert.False(t, isNew, "expected existing entry update")

	deleted, err := s.Delete("key1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete("key1")
	require.NoError(t, err)
	assert.False(t, deleted, "expected deletion failure for missing key")
}

func TestStore_RejectsInvalidInput(t *testing.T) {
	s := newTestStore(t, nil)

	_, err := s.Set("", "value", time.Minute)
	assert.Error(t, err, "empty key must be rejected")

	_, err = s.Set("key", "value", 0)
	assert.Error(t, err, "non-positive ttl must be rejected")
}

func TestStore_TTLBoundary(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	ttl := 10 * time.Minute
	_, err := s.Set("odds:bulk", "snapshot", ttl)
	require.NoError(t, err)

	// Just before expiry: hit.
	clock.Advance(ttl - time.Millisecond)
	value, exists := s.Get("odds:bulk")
	require.True(t, exists, "expected hit at t0 + T - eps")
	assert.Equal(t, "snapshot", value)

	// Just after expiry: miss, and the entry stays until the sweep runs.
	clock.Advance(2 * time.Millisecond)
	_, exists = s.Get("odds:bulk")
	assert.False(t, exists, "expected miss at t0 + T + eps")
	assert.Equal(t, 1, s.Len(), "expired entry must not be removed on read")
}

func TestStore_CountsValidVsExpired(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	_, _ = s.Set("short", "a", time.Minute)
	_, _ = s.Set("long", "b", time.Hour)

	clock.Advance(5 * time.Minute)

	counts := s.Counts()
	assert.Equal(t, 2, counts.Total)
	assert.Equal(t, 1, counts.Valid)
	assert.Equal(t, 1, counts.Expired)
}

func TestStore_RemoveExpired(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	_, _ = s.Set("a", "1", time.Minute)
	_, _ = s.Set("b", "2", time.Hour)

	clock.Advance(10 * time.Minute)
	s.removeExpired()

	assert.Equal(t, 1, s.Len())
	_, exists := s.Get("b")
	assert.True(t, exists)
	assert.Equal(t, int64(1), s.Stats().Evictions())
}

func TestStore_KeysWithPrefix(t *testing.T) {
	s := newTestStore(t, nil)

	_, _ = s.Set("odds:nba:game1", "x", time.Minute)
	_, _ = s.Set("odds:nba:game2", "y", time.Minute)
	_, _ = s.Set("stats:player:9", "z", time.Minute)

	assert.ElementsMatch(t,
		[]string{"odds:nba:game1", "odds:nba:game2"},
		s.KeysWithPrefix("odds:"))
	assert.Len(t, s.Keys(), 3)
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t, nil)

	_, _ = s.Set("a", "1", time.Minute)
	_, _ = s.Set("b", "2", time.Minute)
	require.NoError(t, s.Clear())

	assert.Equal(t, 0, s.Len())
	_, exists := s.Get("a")
	assert.False(t, exists)
}

func TestStore_StatsTracking(t *testing.T) {
	s := newTestStore(t, nil)

	_, _ = s.Set("k", "v", time.Minute)
	s.Get("k")
	s.Get("missing")

	summary := s.Stats().Summary()
	assert.Equal(t, int64(1), summary.Hits)
	assert.Equal(t, int64(1), summary.Misses)
	assert.Equal(t, int64(1), summary.Sets)
	assert.InDelta(t, 0.5, summary.HitRatio, 0.001)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := newTestStore(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := string(rune('a' + n))
				_, _ = s.Set(key, "v", time.Minute)
				s.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, s.Len())
}
