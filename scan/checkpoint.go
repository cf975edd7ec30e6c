// Package scan walks the tracked entity set in budgeted, resumable
// passes: a checkpointed batch scanner, the refresh logic each pass
// runs per entity, and the two-speed scheduler that drives both.
package scan

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Stattrackrr/stattrackr-sub010/cachekey"
	"github.com/Stattrackrr/stattrackr-sub010/errors"
	"github.com/Stattrackrr/stattrackr-sub010/tiercache"
)

// Checkpoint marks where a paused scan resumes. NextIndex is the first
// unprocessed position in the ordered entity list.
type Checkpoint struct {
	NextIndex int
	Timestamp time.Time
}

// checkpointRecord is the persisted form.
type checkpointRecord struct {
	NextIndex int    `json:"nextIndex"`
	Timestamp string `json:"timestamp"`
}

const defaultStaleness = 26 * time.Hour

// CheckpointStore persists scan progress in the durable tier under a
// scan-specific key. A checkpoint whose timestamp is older than the
// staleness window is discarded on read, so a scan never resumes from
// a position recorded against a previous day's entity list.
type CheckpointStore struct {
	durable   *tiercache.Durable
	scanID    string
	staleness time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewCheckpointStore builds a store for one scan type. A non-positive
// staleness falls back to 26 hours.
func NewCheckpointStore(durable *tiercache.Durable, scanID string, staleness time.Duration, logger *slog.Logger) *CheckpointStore {
	if staleness <= 0 {
		staleness = defaultStaleness
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckpointStore{
		durable:   durable,
		scanID:    scanID,
		staleness: staleness,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *CheckpointStore) key() string {
	return cachekey.BuildKey(cachekey.EntityCheckpoint, cachekey.P("scan", s.scanID))
}

func (s *CheckpointStore) markerKey() string {
	return cachekey.BuildKey(cachekey.EntityCheckpoint,
		cachekey.P("scan", s.scanID), cachekey.P("marker", "last_full_scan"))
}

// Load returns the active checkpoint, or nil when none exists. Stale or
// unreadable checkpoints are cleared and reported as absent.
func (s *CheckpointStore) Load(ctx context.Context) *Checkpoint {
	raw, _, ok := s.durable.GetWithStale(ctx, s.key())
	if !ok {
		return nil
	}

	var rec checkpointRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("checkpoint corrupt, discarding", "scan", s.scanID, "error", err)
		s.durable.Delete(ctx, s.key())
		return nil
	}
	stamp, err := time.Parse(time.RFC3339, rec.Timestamp)
	if err != nil || rec.NextIndex < 0 {
		s.logger.Warn("checkpoint malformed, discarding", "scan", s.scanID, "error", err)
		s.durable.Delete(ctx, s.key())
		return nil
	}

	if s.now().Sub(stamp) > s.staleness {
		s.logger.Info("checkpoint stale, restarting from zero",
			"scan", s.scanID, "age", s.now().Sub(stamp).String())
		s.durable.Delete(ctx, s.key())
		return nil
	}

	return &Checkpoint{NextIndex: rec.NextIndex, Timestamp: stamp}
}

// Save persists a checkpoint. Unlike regular durable writes this one
// reports failure, since a lost checkpoint means lost scan progress.
func (s *CheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	raw, err := json.Marshal(checkpointRecord{
		NextIndex: cp.NextIndex,
		Timestamp: cp.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return errors.WrapPermanent(err, "CheckpointStore", "Save", "checkpoint marshal")
	}
	return s.durable.SetStrict(ctx, s.key(), string(cachekey.EntityCheckpoint), raw, s.staleness, false)
}

// Clear removes the checkpoint, if any.
func (s *CheckpointStore) Clear(ctx context.Context) {
	s.durable.Delete(ctx, s.key())
}

// LastFullScan returns when the last complete pass finished.
func (s *CheckpointStore) LastFullScan(ctx context.Context) (time.Time, bool) {
	raw, _, ok := s.durable.GetWithStale(ctx, s.markerKey())
	if !ok {
		return time.Time{}, false
	}
	stamp, err := time.Parse(time.RFC3339, string(raw))
	if err != nil {
		s.logger.Warn("last-full-scan marker malformed", "scan", s.scanID, "error", err)
		return time.Time{}, false
	}
	return stamp, true
}

// StampLastFullScan records the completion time of a full pass. Fails
// soft; the worst case is an extra full scan on the next trigger.
func (s *CheckpointStore) StampLastFullScan(ctx context.Context, at time.Time) {
	s.durable.Set(ctx, s.markerKey(), string(cachekey.EntityCheckpoint),
		[]byte(at.UTC().Format(time.RFC3339)), s.staleness, false)
}
