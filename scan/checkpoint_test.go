package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Stattrackrr/stattrackr-sub010/tiercache"
)

func TestCheckpointStore_RoundTrip(t *testing.T) {
	store := newTestCheckpoints(newMemBackend())
	ctx := context.Background()

	assert.Nil(t, store.Load(ctx))

	stamp := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Save(ctx, Checkpoint{NextIndex: 17, Timestamp: stamp}))

	cp := store.Load(ctx)
	require.NotNil(t, cp)
	assert.Equal(t, 17, cp.NextIndex)
	assert.True(t, cp.Timestamp.Equal(stamp))

	store.Clear(ctx)
	assert.Nil(t, store.Load(ctx))
}

func TestCheckpointStore_StaleDiscardedOnLoad(t *testing.T) {
	store := newTestCheckpoints(newMemBackend())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx,
		Checkpoint{NextIndex: 9, Timestamp: time.Now().Add(-27 * time.Hour)}))
	assert.Nil(t, store.Load(ctx))
	// The stale row was removed, not just ignored.
	assert.Nil(t, store.Load(ctx))
}

func TestCheckpointStore_CorruptDiscardedOnLoad(t *testing.T) {
	backend := newMemBackend()
	store := newTestCheckpoints(backend)
	ctx := context.Background()

	durable := tiercache.NewDurable(backend, nil)
	durable.Set(ctx, store.key(), "checkpoint", []byte("not json"), time.Hour, false)

	assert.Nil(t, store.Load(ctx))
}

func TestCheckpointStore_SaveSurfacesBackendFailure(t *testing.T) {
	backend := newMemBackend()
	store := newTestCheckpoints(backend)

	backend.fail(true)
	err := store.Save(context.Background(), Checkpoint{NextIndex: 1, Timestamp: time.Now()})
	require.Error(t, err)
}

func TestCheckpointStore_LastFullScanMarker(t *testing.T) {
	store := newTestCheckpoints(newMemBackend())
	ctx := context.Background()

	_, ok := store.LastFullScan(ctx)
	assert.False(t, ok)

	stamp := time.Now().UTC().Truncate(time.Second)
	store.StampLastFullScan(ctx, stamp)

	got, ok := store.LastFullScan(ctx)
	require.True(t, ok)
	assert.True(t, got.Equal(stamp))
}
