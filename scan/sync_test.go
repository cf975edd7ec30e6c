package scan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stattrackrr/stattrackr-sub010/cachekey"
	"github.com/Stattrackrr/stattrackr-sub010/pkg/cache"
	"github.com/Stattrackrr/stattrackr-sub010/record"
	"github.com/Stattrackrr/stattrackr-sub010/tiercache"
	"github.com/Stattrackrr/stattrackr-sub010/upstream"
)

func newSyncService(t *testing.T) *tiercache.Service {
	t.Helper()
	mem, err := cache.New[[]byte](context.Background(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	return tiercache.NewService(mem, tiercache.NewDurable(newMemBackend(), nil), nil)
}

func envelope(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": json.RawMessage(raw)})
}

func prop(bookmaker, stat string, line float64) upstream.PropLine {
	return upstream.PropLine{Bookmaker: bookmaker, Stat: stat, Line: line, OverOdds: -110, UnderOdds: -110}
}

func newSyncFixture(t *testing.T, handler http.HandlerFunc) (*Syncer, *tiercache.Service) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := upstream.New(upstream.Config{APIKey: "test-key"})
	require.NoError(t, err)

	svc := newSyncService(t)
	return NewSyncer(svc, client, server.URL, "nba", nil), svc
}

func loadRecord(t *testing.T, svc *tiercache.Service, playerID string) *record.EntityRecord {
	t.Helper()
	raw, ok := svc.Get(context.Background(), playerKey(playerID), cachekey.EntityPlayerProps)
	require.True(t, ok, "record for %s should be cached", playerID)
	var rec record.EntityRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	return &rec
}

func TestSyncer_RefreshBulkMergesLeafByLeaf(t *testing.T) {
	first := upstream.BulkOddsPayload{
		Sport: "nba", Date: "2026-01-15",
		Players: []upstream.PlayerProps{
			{PlayerID: "p1", Team: "BOS", Props: []upstream.PropLine{
				prop("fanduel", "pts", 25.5),
				prop("fanduel", "reb", 7.5),
			}},
			{PlayerID: "p2", Team: "MIL", Props: []upstream.PropLine{
				prop("draftkings", "ast", 6.5),
			}},
		},
	}
	second := upstream.BulkOddsPayload{
		Sport: "nba", Date: "2026-01-15",
		Players: []upstream.PlayerProps{
			{PlayerID: "p1", Team: "BOS", Props: []upstream.PropLine{
				prop("fanduel", "pts", 25.5), // unchanged
				prop("fanduel", "reb", 8.5),  // line moved
				prop("fanduel", "fg3m", 3.5), // new leaf
			}},
		},
	}

	var mu sync.Mutex
	payload := &first
	syncer, svc := newSyncFixture(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		current := payload
		mu.Unlock()
		envelope(t, w, current)
	})

	t0 := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(30 * time.Minute)

	syncer.now = func() time.Time { return t0 }
	require.NoError(t, syncer.RefreshBulk(context.Background()))

	rec := loadRecord(t, svc, "p1")
	assert.Equal(t, 2, rec.LeafCount())
	assert.True(t, rec.Leaves[record.LeafID("fanduel", "pts")].LastUpdated.Equal(t0))

	ids, err := syncer.EntityIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, ids)

	mu.Lock()
	payload = &second
	mu.Unlock()
	syncer.now = func() time.Time { return t1 }
	require.NoError(t, syncer.RefreshBulk(context.Background()))

	rec = loadRecord(t, svc, "p1")
	assert.Equal(t, 3, rec.LeafCount())
	assert.True(t, rec.Leaves[record.LeafID("fanduel", "pts")].LastUpdated.Equal(t0),
		"unchanged leaf keeps its original timestamp")
	assert.True(t, rec.Leaves[record.LeafID("fanduel", "reb")].LastUpdated.Equal(t1),
		"changed leaf takes a fresh stamp")
	assert.Equal(t, 3.5, rec.Leaves[record.LeafID("fanduel", "fg3m")].Line)
	assert.True(t, rec.LastUpdateScanAt.Equal(t1))

	// Player absent from the second snapshot keeps its record.
	rec = loadRecord(t, svc, "p2")
	assert.Equal(t, 1, rec.LeafCount())
}

func TestSyncer_RefreshBulkRejectsFullyMalformedSnapshot(t *testing.T) {
	bad := upstream.BulkOddsPayload{Date: "2026-01-15"} // missing sport
	syncer, _ := newSyncFixture(t, func(w http.ResponseWriter, r *http.Request) {
		envelope(t, w, &bad)
	})

	err := syncer.RefreshBulk(context.Background())
	require.Error(t, err, "a snapshot with every page rejected is an error")
}

func TestSyncer_RefreshEntityStampsFullScan(t *testing.T) {
	block := upstream.PlayerProps{
		PlayerID: "p9", Team: "DEN",
		Props: []upstream.PropLine{prop("fanduel", "pts", 29.5)},
	}
	syncer, svc := newSyncFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/players/p9/props", r.URL.Path)
		envelope(t, w, &block)
	})

	t0 := time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)
	syncer.now = func() time.Time { return t0 }
	require.NoError(t, syncer.RefreshEntity(context.Background(), "p9"))

	rec := loadRecord(t, svc, "p9")
	assert.Equal(t, 1, rec.LeafCount())
	assert.True(t, rec.LastFullScanAt.Equal(t0))
}

func TestSyncer_RefreshEntityUpstreamErrorPropagates(t *testing.T) {
	syncer, _ := newSyncFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	err := syncer.RefreshEntity(context.Background(), "missing")
	require.Error(t, err)
}

func TestSyncer_EntityIDsRequiresBulkSnapshot(t *testing.T) {
	syncer, _ := newSyncFixture(t, func(w http.ResponseWriter, r *http.Request) {
		envelope(t, w, &upstream.BulkOddsPayload{Sport: "nba"})
	})

	_, err := syncer.EntityIDs(context.Background())
	require.Error(t, err)
}
