package tiercache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stattrackrr/stattrackr-sub010/cachekey"
)

func seedAdmin(t *testing.T) (*Service, context.Context) {
	t.Helper()
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.Put(ctx, "player_props:player=1", cachekey.EntityPlayerProps, []byte("a"))
	svc.Put(ctx, "player_props:player=2", cachekey.EntityPlayerProps, []byte("b"))
	svc.Put(ctx, "bulk_odds:date=2026-01-15", cachekey.EntityBulkOdds, []byte("c"))
	return svc, ctx
}

func TestStatsReport(t *testing.T) {
	svc, ctx := seedAdmin(t)

	stats := svc.StatsReport(ctx)
	assert.Equal(t, 3, stats.Ephemeral.Counts.Total)
	assert.Equal(t, 2, stats.Durable.ByCategory["player_props"].Total)
	assert.Equal(t, 2, stats.Durable.ByCategory["player_props"].Valid)
	assert.Equal(t, 1, stats.Durable.ByCategory["bulk_odds"].Total)
}

func TestClear_RequiresSelector(t *testing.T) {
	svc, ctx := seedAdmin(t)

	_, err := svc.Clear(ctx, ClearRequest{})
	require.Error(t, err)
}

func TestClear_ExactKey(t *testing.T) {
	svc, ctx := seedAdmin(t)

	report, err := svc.Clear(ctx, ClearRequest{Key: "player_props:player=1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"player_props:player=1"}, report.Keys)

	_, ok := svc.Get(ctx, "player_props:player=1", cachekey.EntityPlayerProps)
	assert.False(t, ok)
	_, ok = svc.Get(ctx, "player_props:player=2", cachekey.EntityPlayerProps)
	assert.True(t, ok)
}

func TestClear_PrefixBothTiers(t *testing.T) {
	svc, ctx := seedAdmin(t)

	// A key present only in the durable tier must still match the prefix.
	svc.Memory().Delete("player_props:player=2")

	report, err := svc.Clear(ctx, ClearRequest{Prefix: "player_props:"})
	require.NoError(t, err)
	assert.Equal(t, []string{"player_props:player=1", "player_props:player=2"}, report.Keys)

	stats := svc.StatsReport(ctx)
	assert.Equal(t, 0, stats.Durable.ByCategory["player_props"].Total)
	assert.Equal(t, 1, stats.Durable.ByCategory["bulk_odds"].Total)
}

func TestClear_DryRunTouchesNothing(t *testing.T) {
	svc, ctx := seedAdmin(t)

	report, err := svc.Clear(ctx, ClearRequest{Prefix: "player_props:", DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Len(t, report.Keys, 2)

	_, ok := svc.Get(ctx, "player_props:player=1", cachekey.EntityPlayerProps)
	assert.True(t, ok)
	_, ok = svc.Get(ctx, "player_props:player=2", cachekey.EntityPlayerProps)
	assert.True(t, ok)
}
