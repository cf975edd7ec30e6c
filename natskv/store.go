package natskv

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Stattrackrr/stattrackr-sub010/errors"
)

// Default per-operation timeout. Short, because the read path falls
// through this tier on the way to answering a client request.
const defaultOpTimeout = 2 * time.Second

// Store wraps a JetStream KV bucket with per-operation timeouts and
// classified errors.
type Store struct {
	bucket    jetstream.KeyValue
	opTimeout time.Duration
	logger    *slog.Logger
}

func newStore(bucket jetstream.KeyValue, logger *slog.Logger) *Store {
	return &Store{
		bucket:    bucket,
		opTimeout: defaultOpTimeout,
		logger:    logger,
	}
}

// WithTimeout returns a copy of the store using the given per-op timeout.
func (s *Store) WithTimeout(d time.Duration) *Store {
	if d <= 0 {
		return s
	}
	out := *s
	out.opTimeout = d
	return &out
}

func (s *Store) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Get retrieves a raw value. Returns errors.ErrKeyNotFound on miss.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	entry, err := s.bucket.Get(ctx, key)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.ErrKeyNotFound
		}
		return nil, errors.WrapTransient(err, "natskv", "Get", key)
	}
	return entry.Value(), nil
}

// Put creates or updates a key, last writer wins.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	if _, err := s.bucket.Put(ctx, key, value); err != nil {
		return errors.WrapTransient(err, "natskv", "Put", key)
	}
	return nil
}

// Delete removes a key. Returns whether the key existed.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	if _, err := s.bucket.Get(ctx, key); err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "natskv", "Delete", key)
	}

	if err := s.bucket.Delete(ctx, key); err != nil {
		return false, errors.WrapTransient(err, "natskv", "Delete", key)
	}
	return true, nil
}

// Keys lists all keys in the bucket. An empty bucket is not an error.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "natskv", "Keys", "list")
	}
	return keys, nil
}

// Status returns a printable bucket status line for diagnostics.
func (s *Store) Status(ctx context.Context) (string, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	status, err := s.bucket.Status(ctx)
	if err != nil {
		return "", errors.WrapTransient(err, "natskv", "Status", "bucket status")
	}
	return fmt.Sprintf("bucket=%s values=%d bytes=%d", status.Bucket(), status.Values(), status.Bytes()), nil
}
