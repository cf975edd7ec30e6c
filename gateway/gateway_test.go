package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stattrackrr/stattrackr-sub010/cachekey"
	stterrors "github.com/Stattrackrr/stattrackr-sub010/errors"
	"github.com/Stattrackrr/stattrackr-sub010/pkg/cache"
	"github.com/Stattrackrr/stattrackr-sub010/tiercache"
)

type memBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.data[key]
	if !ok {
		return nil, stterrors.ErrKeyNotFound
	}
	return value, nil
}

func (b *memBackend) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = value
	return nil
}

func (b *memBackend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	delete(b.data, key)
	return ok, nil
}

func (b *memBackend) Keys(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.data))
	for key := range b.data {
		keys = append(keys, key)
	}
	return keys, nil
}

type fakeSource struct {
	bulk      []byte
	bulkErr   error
	players   map[string][]byte
	playerErr error
	fetches   atomic.Int32
}

func (f *fakeSource) BulkKey() string {
	return "bulk_odds:date=2026-01-15:sport=nba"
}

func (f *fakeSource) BulkSnapshot(context.Context) ([]byte, error) {
	f.fetches.Add(1)
	return f.bulk, f.bulkErr
}

func (f *fakeSource) PlayerKey(playerID string) string {
	return "player_props:player=" + playerID
}

func (f *fakeSource) PlayerProps(_ context.Context, playerID string) ([]byte, error) {
	f.fetches.Add(1)
	if f.playerErr != nil {
		return nil, f.playerErr
	}
	value, ok := f.players[playerID]
	if !ok {
		return nil, stterrors.WrapPermanent(stterrors.ErrUpstreamStatus,
			"fakeSource", "PlayerProps", "unknown player")
	}
	return value, nil
}

func newGatewayFixture(t *testing.T, source *fakeSource) (*httptest.Server, *tiercache.Service) {
	t.Helper()
	mem, err := cache.New[[]byte](context.Background(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	svc := tiercache.NewService(mem,
		tiercache.NewDurable(&memBackend{data: make(map[string][]byte)}, nil), nil)

	server := httptest.NewServer(NewServer(0, svc, source, nil).Handler())
	t.Cleanup(server.Close)
	return server, svc
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, body
}

func TestOddsEndpoint_FetchThroughThenMemory(t *testing.T) {
	source := &fakeSource{bulk: []byte(`{"sport":"nba","players":[]}`)}
	server, _ := newGatewayFixture(t, source)

	resp, body := get(t, server.URL+"/api/odds")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "upstream", resp.Header.Get("X-Cache-Source"))
	assert.JSONEq(t, `{"sport":"nba","players":[]}`, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, _ = get(t, server.URL+"/api/odds")
	assert.Equal(t, "memory", resp.Header.Get("X-Cache-Source"))
	assert.Equal(t, int32(1), source.fetches.Load())
}

func TestPlayerPropsEndpoint(t *testing.T) {
	source := &fakeSource{players: map[string][]byte{
		"p1": []byte(`{"entityId":"p1"}`),
	}}
	server, _ := newGatewayFixture(t, source)

	resp, body := get(t, server.URL+"/api/players/p1/props")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"entityId":"p1"}`, string(body))

	// Unknown player maps the permanent upstream error to 502.
	resp, _ = get(t, server.URL+"/api/players/nobody/props")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestOddsEndpoint_TransientFailureMapsTo503(t *testing.T) {
	source := &fakeSource{bulkErr: stterrors.WrapTransient(stterrors.ErrRateLimited,
		"fakeSource", "BulkSnapshot", "rate limited")}
	server, _ := newGatewayFixture(t, source)

	resp, body := get(t, server.URL+"/api/odds")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(body), "upstream temporarily unavailable")
}

func TestOddsEndpoint_DegradedStaleServe(t *testing.T) {
	source := &fakeSource{bulkErr: stterrors.WrapTransient(stterrors.ErrUpstreamTimeout,
		"fakeSource", "BulkSnapshot", "timeout")}
	server, svc := newGatewayFixture(t, source)

	_, err := svc.Memory().Set(source.BulkKey(), []byte(`{"stale":true}`), time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	resp, body := get(t, server.URL+"/api/odds")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("X-Degraded"))
	assert.JSONEq(t, `{"stale":true}`, string(body))
}

func TestCacheStatsEndpoint(t *testing.T) {
	source := &fakeSource{bulk: []byte(`{}`)}
	server, svc := newGatewayFixture(t, source)
	svc.Put(context.Background(), "player_props:player=p1", cachekey.EntityPlayerProps, []byte("x"))

	resp, body := get(t, server.URL+"/admin/cache/stats")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Cache   tiercache.Stats   `json:"cache"`
		Gateway map[string]uint64 `json:"gateway"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, 1, payload.Cache.Ephemeral.Counts.Total)
	assert.Equal(t, 1, payload.Cache.Durable.ByCategory["player_props"].Valid)
	assert.Contains(t, payload.Gateway, "requestsTotal")
}

func TestCacheClearEndpoint(t *testing.T) {
	source := &fakeSource{}
	server, svc := newGatewayFixture(t, source)
	ctx := context.Background()
	svc.Put(ctx, "player_props:player=p1", cachekey.EntityPlayerProps, []byte("x"))
	svc.Put(ctx, "player_props:player=p2", cachekey.EntityPlayerProps, []byte("y"))

	// Dry run via query parameter removes nothing.
	resp, body := postJSON(t, server.URL+"/admin/cache/clear?dryRun=true",
		`{"prefix":"player_props:"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var report tiercache.ClearReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.True(t, report.DryRun)
	assert.Len(t, report.Keys, 2)
	_, ok := svc.Get(ctx, "player_props:player=p1", cachekey.EntityPlayerProps)
	assert.True(t, ok)

	// The real clear removes both.
	resp, body = postJSON(t, server.URL+"/admin/cache/clear", `{"prefix":"player_props:"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &report))
	assert.False(t, report.DryRun)
	_, ok = svc.Get(ctx, "player_props:player=p1", cachekey.EntityPlayerProps)
	assert.False(t, ok)

	// No selector is a client error.
	resp, _ = postJSON(t, server.URL+"/admin/cache/clear", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newGatewayFixture(t, &fakeSource{})
	resp, body := get(t, server.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, out
}
