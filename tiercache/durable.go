// Package tiercache combines the ephemeral and durable cache tiers behind
// one service: tiered reads, coalesced fetch-through, degraded-stale
// serving, and the admin surface (stats, clear, dry run).
package tiercache

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Stattrackrr/stattrackr-sub010/errors"
)

// Backend is the raw key/value transport under the durable tier,
// satisfied by *natskv.Store. A miss is errors.ErrKeyNotFound.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// PersistedRecord is the envelope stored in the durable tier. UpdatedAt
// feeds staleness diagnostics; ExpiresAt drives read-time validity.
type PersistedRecord struct {
	Category   string    `json:"category"`
	Value      []byte    `json:"value"`
	Compressed bool      `json:"compressed"`
	StoredAt   time.Time `json:"storedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Durable is the network-backed cache tier. Every operation fails soft:
// on transport error it returns a miss or no-op and logs, never an error.
// The ephemeral tier stays authoritative for hot reads.
type Durable struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

// NewDurable wraps a backend in fail-soft durable-tier semantics.
func NewDurable(backend Backend, logger *slog.Logger) *Durable {
	if logger == nil {
		logger = slog.Default()
	}
	return &Durable{backend: backend, logger: logger, now: time.Now}
}

// NATS KV keys cannot contain ':'; cache keys are mapped onto '.' which
// the key policy never emits.
func encodeKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

func decodeKey(key string) string {
	return strings.ReplaceAll(key, ".", ":")
}

// Get returns a non-expired value, or a miss. Transport errors are misses.
func (d *Durable) Get(ctx context.Context, key string) ([]byte, bool) {
	value, stale, ok := d.GetWithStale(ctx, key)
	if !ok || stale {
		return nil, false
	}
	return value, true
}

// GetWithStale returns the stored value even when expired, reporting
// staleness so the caller can annotate a degraded response.
func (d *Durable) GetWithStale(ctx context.Context, key string) (value []byte, stale bool, ok bool) {
	raw, err := d.backend.Get(ctx, encodeKey(key))
	if err != nil {
		d.logMiss("Get", key, err)
		return nil, false, false
	}

	var rec PersistedRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		d.logger.Warn("durable record corrupt, treating as miss", "key", key, "error", err)
		return nil, false, false
	}

	payload := rec.Value
	if rec.Compressed {
		payload, err = gunzip(payload)
		if err != nil {
			d.logger.Warn("durable record decompress failed, treating as miss", "key", key, "error", err)
			return nil, false, false
		}
	}

	return payload, d.now().After(rec.ExpiresAt), true
}

// Set writes a value under a category tag with the given TTL, optionally
// gzip-compressed. Failure is logged and swallowed.
func (d *Durable) Set(ctx context.Context, key, category string, value []byte, ttl time.Duration, compress bool) {
	if err := d.SetStrict(ctx, key, category, value, ttl, compress); err != nil {
		d.logger.Warn("durable write failed", "key", key, "category", category, "error", err)
	}
}

// SetStrict is Set for writers that must know the write landed, such as
// scan checkpoints.
func (d *Durable) SetStrict(ctx context.Context, key, category string, value []byte, ttl time.Duration, compress bool) error {
	now := d.now()
	rec := PersistedRecord{
		Category:  category,
		Value:     value,
		StoredAt:  now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	if compress {
		compressed, err := gzipBytes(value)
		if err != nil {
			d.logger.Warn("durable compress failed, storing raw", "key", key, "error", err)
		} else {
			rec.Value = compressed
			rec.Compressed = true
		}
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapPermanent(err, "Durable", "SetStrict", "record marshal")
	}

	if err := d.backend.Put(ctx, encodeKey(key), raw); err != nil {
		return errors.WrapTransient(err, "Durable", "SetStrict", "backend write")
	}
	return nil
}

// Delete removes a row, reporting whether one existed. Transport errors
// read as "nothing there".
func (d *Durable) Delete(ctx context.Context, key string) bool {
	existed, err := d.backend.Delete(ctx, encodeKey(key))
	if err != nil {
		d.logMiss("Delete", key, err)
		return false
	}
	return existed
}

// EntryInfo describes one durable row for the admin surface.
type EntryInfo struct {
	Key      string `json:"key"`
	Category string `json:"category"`
	Expired  bool   `json:"expired"`
}

// Entries lists all rows with their category and expiry state. Fails soft
// to an empty listing.
func (d *Durable) Entries(ctx context.Context) []EntryInfo {
	keys, err := d.backend.Keys(ctx)
	if err != nil {
		d.logMiss("Entries", "*", err)
		return nil
	}

	now := d.now()
	infos := make([]EntryInfo, 0, len(keys))
	for _, encoded := range keys {
		raw, err := d.backend.Get(ctx, encoded)
		if err != nil {
			continue
		}
		var rec PersistedRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		infos = append(infos, EntryInfo{
			Key:      decodeKey(encoded),
			Category: rec.Category,
			Expired:  now.After(rec.ExpiresAt),
		})
	}
	return infos
}

func (d *Durable) logMiss(op, key string, err error) {
	d.logger.Warn("durable tier unavailable, treating as miss",
		"op", op, "key", key, "error", err)
}

func gzipBytes(value []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(value); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzip(value []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(value))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
