package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Stattrackrr/stattrackr-sub010/cachekey"
	"github.com/Stattrackrr/stattrackr-sub010/errors"
	"github.com/Stattrackrr/stattrackr-sub010/record"
	"github.com/Stattrackrr/stattrackr-sub010/tiercache"
	"github.com/Stattrackrr/stattrackr-sub010/upstream"
)

// Syncer runs the refresh work a scan pass is made of: the cheap bulk
// snapshot pull and the per-entity props pull, both merged leaf by leaf
// into the cached records.
type Syncer struct {
	cache   *tiercache.Service
	client  *upstream.Client
	baseURL string
	sport   string
	logger  *slog.Logger
	group   singleflight.Group
	now     func() time.Time
}

// NewSyncer wires the syncer over the cache service and upstream client.
func NewSyncer(cache *tiercache.Service, client *upstream.Client, baseURL, sport string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	if sport == "" {
		sport = "nba"
	}
	return &Syncer{
		cache:   cache,
		client:  client,
		baseURL: baseURL,
		sport:   sport,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Syncer) slateDate() string {
	return s.now().UTC().Format("2006-01-02")
}

// BulkKey is the cache key of the current slate's bulk snapshot.
func (s *Syncer) BulkKey() string {
	return cachekey.BuildKey(cachekey.EntityBulkOdds,
		cachekey.P("sport", s.sport), cachekey.P("date", s.slateDate()))
}

// PlayerKey is the cache key of one player's props record.
func (s *Syncer) PlayerKey(playerID string) string {
	return playerKey(playerID)
}

func playerKey(playerID string) string {
	return cachekey.BuildKey(cachekey.EntityPlayerProps, cachekey.P("player", playerID))
}

// RefreshBulk pulls the day's bulk odds snapshot, merges every player
// block into its cached record, and stores the assembled snapshot under
// the bulk key. Malformed pages are counted and skipped.
func (s *Syncer) RefreshBulk(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/v1/odds?sport=%s&date=%s",
		s.baseURL, url.QueryEscape(s.sport), s.slateDate())

	paged, err := s.client.FetchAllPages(ctx, endpoint)
	if err != nil {
		return errors.Wrap(err, "Syncer", "RefreshBulk", "bulk fetch")
	}
	if paged.Partial {
		s.logger.Warn("bulk snapshot truncated, merging pages in hand", "pages", len(paged.Pages))
	}

	var snapshot upstream.BulkOddsPayload
	var badPages int
	for _, page := range paged.Pages {
		payload, err := upstream.DecodeBulkOdds(page)
		if err != nil {
			badPages++
			s.logger.Warn("bulk page rejected", "error", err)
			continue
		}
		if snapshot.Sport == "" {
			snapshot.Sport = payload.Sport
			snapshot.Date = payload.Date
		}
		snapshot.Players = append(snapshot.Players, payload.Players...)
	}
	if len(snapshot.Players) == 0 {
		if badPages > 0 {
			return errors.WrapPermanent(errors.ErrMalformedPayload,
				"Syncer", "RefreshBulk", "every bulk page rejected")
		}
		s.logger.Info("bulk snapshot empty, nothing to merge")
		return nil
	}

	var updated, unchanged int
	for _, player := range snapshot.Players {
		result, err := s.mergePlayer(ctx, player, false)
		if err != nil {
			s.logger.Warn("bulk merge failed for player", "player", player.PlayerID, "error", err)
			continue
		}
		updated += result.Updated
		unchanged += result.Unchanged
	}

	if raw, err := json.Marshal(&snapshot); err == nil {
		s.cache.Put(ctx, s.BulkKey(), cachekey.EntityBulkOdds, raw)
	}

	s.logger.Info("bulk refresh merged",
		"players", len(snapshot.Players), "leavesUpdated", updated,
		"leavesUnchanged", unchanged, "badPages", badPages, "partial", paged.Partial)
	return nil
}

// RefreshEntity is the per-entity scan step: fetch one player's props
// and merge them. Concurrent refreshes of the same player collapse into
// one upstream fetch.
func (s *Syncer) RefreshEntity(ctx context.Context, playerID string) error {
	key := playerKey(playerID)
	_, err, _ := s.group.Do(key, func() (any, error) {
		endpoint := fmt.Sprintf("%s/v1/players/%s/props", s.baseURL, url.PathEscape(playerID))
		paged, err := s.client.FetchAllPages(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		for _, page := range paged.Pages {
			payload, err := upstream.DecodePlayerProps(page)
			if err != nil {
				return nil, err
			}
			if _, err := s.mergePlayer(ctx, *payload, true); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return errors.Wrap(err, "Syncer", "RefreshEntity", "player refresh")
	}
	return nil
}

// BulkSnapshot is the read-path producer for the bulk odds key: pull
// and merge the current snapshot, then hand back the assembled bytes.
func (s *Syncer) BulkSnapshot(ctx context.Context) ([]byte, error) {
	if err := s.RefreshBulk(ctx); err != nil {
		return nil, err
	}
	raw, ok := s.cache.Get(ctx, s.BulkKey(), cachekey.EntityBulkOdds)
	if !ok {
		return nil, errors.WrapTransient(errors.ErrNoCachedValue,
			"Syncer", "BulkSnapshot", "snapshot missing after refresh")
	}
	return raw, nil
}

// PlayerProps is the read-path producer for one player's record.
func (s *Syncer) PlayerProps(ctx context.Context, playerID string) ([]byte, error) {
	if err := s.RefreshEntity(ctx, playerID); err != nil {
		return nil, err
	}
	raw, ok := s.cache.Get(ctx, playerKey(playerID), cachekey.EntityPlayerProps)
	if !ok {
		return nil, errors.WrapTransient(errors.ErrNoCachedValue,
			"Syncer", "PlayerProps", "record missing after refresh")
	}
	return raw, nil
}

// EntityIDs returns the ordered entity list for a scan pass: every
// player in the current bulk snapshot, in snapshot order with
// duplicates dropped. Scan order must be deterministic so checkpoints
// resume against the same sequence.
func (s *Syncer) EntityIDs(ctx context.Context) ([]string, error) {
	raw, ok := s.cache.Get(ctx, s.BulkKey(), cachekey.EntityBulkOdds)
	if !ok {
		return nil, errors.WrapTransient(errors.ErrNoCachedValue,
			"Syncer", "EntityIDs", "bulk snapshot unavailable")
	}
	snapshot, err := upstream.DecodeBulkOdds(raw)
	if err != nil {
		return nil, errors.Wrap(err, "Syncer", "EntityIDs", "bulk snapshot decode")
	}

	seen := make(map[string]struct{}, len(snapshot.Players))
	ids := make([]string, 0, len(snapshot.Players))
	for _, player := range snapshot.Players {
		if _, dup := seen[player.PlayerID]; dup {
			continue
		}
		seen[player.PlayerID] = struct{}{}
		ids = append(ids, player.PlayerID)
	}
	return ids, nil
}

// mergePlayer diffs one player block against the cached record and
// writes the merged record back through both tiers.
func (s *Syncer) mergePlayer(ctx context.Context, player upstream.PlayerProps, fullScan bool) (record.MergeResult, error) {
	fresh := player.ToRecord()
	key := playerKey(player.PlayerID)

	var existing *record.EntityRecord
	if raw, ok := s.cache.Get(ctx, key, cachekey.EntityPlayerProps); ok {
		var rec record.EntityRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			s.logger.Warn("cached record corrupt, replacing", "key", key, "error", err)
		} else {
			existing = &rec
		}
	}

	now := s.now()
	result := record.Merge(existing, fresh, record.Incremental, now)
	if fullScan {
		result.Record.LastFullScanAt = now
	}
	// The props feed carries no stat averages; keep the snapshot the
	// stats refresh wrote.
	if existing != nil && result.Record.Stats == (record.StatsSnapshot{}) {
		result.Record.Stats = existing.Stats
	}

	raw, err := json.Marshal(result.Record)
	if err != nil {
		return record.MergeResult{}, errors.WrapPermanent(err, "Syncer", "mergePlayer", "record marshal")
	}
	s.cache.Put(ctx, key, cachekey.EntityPlayerProps, raw)
	return result, nil
}
