package tiercache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Stattrackrr/stattrackr-sub010/cachekey"
	"github.com/Stattrackrr/stattrackr-sub010/errors"
	"github.com/Stattrackrr/stattrackr-sub010/pkg/cache"
)

// Source identifies which tier answered a read.
type Source string

// Read sources.
const (
	SourceMemory   Source = "memory"
	SourceDurable  Source = "durable"
	SourceUpstream Source = "upstream"
	SourceStale    Source = "stale"
)

// Result is a read-path answer. Degraded marks a stale value served
// because the upstream was unreachable.
type Result struct {
	Value    []byte `json:"value"`
	Source   Source `json:"source"`
	Degraded bool   `json:"degraded"`
}

// Producer fetches a value from upstream on a full cache miss.
type Producer func(ctx context.Context) ([]byte, error)

// Service is the tiered cache: ephemeral in front, durable behind,
// coalesced fetch-through on full miss. One Service is constructed at
// process start and passed to every consumer; there is no package-level
// instance.
type Service struct {
	mem     *cache.Store[[]byte]
	durable *Durable
	group   singleflight.Group
	logger  *slog.Logger
}

// NewService builds the tiered cache service.
func NewService(mem *cache.Store[[]byte], durable *Durable, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{mem: mem, durable: durable, logger: logger}
}

// GetOrFetch answers a read for key: ephemeral hit, else durable hit
// (promoting into the ephemeral tier), else a coalesced upstream fetch
// populating both tiers. When the fetch fails and any cached value exists,
// even an expired one, the stale value is returned flagged as degraded
// rather than failing the request.
func (s *Service) GetOrFetch(ctx context.Context, key string, entity cachekey.EntityType, producer Producer) (Result, error) {
	ttl := cachekey.TTLFor(entity)

	if value, ok := s.mem.Get(key); ok {
		return Result{Value: value, Source: SourceMemory}, nil
	}

	if value, ok := s.durable.Get(ctx, key); ok {
		if _, err := s.mem.Set(key, value, ttl); err != nil {
			s.logger.Warn("ephemeral promote failed", "key", key, "error", err)
		}
		return Result{Value: value, Source: SourceDurable}, nil
	}

	// Full miss: at most one upstream fetch per key at a time. The
	// singleflight entry is forgotten on completion, so a failure is
	// retried by the next caller instead of being replayed.
	fetched, err, _ := s.group.Do(key, func() (any, error) {
		value, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		s.populate(ctx, key, entity, ttl, value)
		return value, nil
	})
	if err == nil {
		return Result{Value: fetched.([]byte), Source: SourceUpstream}, nil
	}

	if value, found, _ := s.mem.GetStale(key); found {
		s.logger.Warn("serving stale value after upstream failure", "key", key, "error", err)
		return Result{Value: value, Source: SourceStale, Degraded: true}, nil
	}
	if value, _, ok := s.durable.GetWithStale(ctx, key); ok {
		s.logger.Warn("serving stale durable value after upstream failure", "key", key, "error", err)
		return Result{Value: value, Source: SourceStale, Degraded: true}, nil
	}

	return Result{}, errors.Wrap(err, "Service", "GetOrFetch", "no cached value to degrade to")
}

// Put writes a value into both tiers. Used by the sync engine, which owns
// its own fetching.
func (s *Service) Put(ctx context.Context, key string, entity cachekey.EntityType, value []byte) {
	s.populate(ctx, key, entity, cachekey.TTLFor(entity), value)
}

// Get reads through the tiers without a fetch-through producer.
func (s *Service) Get(ctx context.Context, key string, entity cachekey.EntityType) ([]byte, bool) {
	if value, ok := s.mem.Get(key); ok {
		return value, true
	}
	if value, ok := s.durable.Get(ctx, key); ok {
		if _, err := s.mem.Set(key, value, cachekey.TTLFor(entity)); err != nil {
			s.logger.Warn("ephemeral promote failed", "key", key, "error", err)
		}
		return value, true
	}
	return nil, false
}

// Delete removes a key from both tiers.
func (s *Service) Delete(ctx context.Context, key string) {
	if _, err := s.mem.Delete(key); err != nil {
		s.logger.Warn("ephemeral delete failed", "key", key, "error", err)
	}
	s.durable.Delete(ctx, key)
}

// Durable exposes the durable tier for components that persist their own
// state through it (checkpoints, scan markers).
func (s *Service) Durable() *Durable {
	return s.durable
}

// Memory exposes the ephemeral tier.
func (s *Service) Memory() *cache.Store[[]byte] {
	return s.mem
}

func (s *Service) populate(ctx context.Context, key string, entity cachekey.EntityType, ttl time.Duration, value []byte) {
	if _, err := s.mem.Set(key, value, ttl); err != nil {
		s.logger.Warn("ephemeral write failed", "key", key, "error", err)
	}
	// Bulk snapshots are large; compress them at rest.
	compress := entity == cachekey.EntityBulkOdds
	s.durable.Set(ctx, key, string(entity), value, ttl, compress)
}
