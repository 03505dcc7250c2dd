package keys

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traybueno/watchtower-api/internal/v1/kv"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store := kv.NewServiceFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })

	return NewRegistry(store)
}

func TestPutAndGet(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	record, err := reg.Put(ctx, "wt_live_abc123", "space-miner", "proj_1")
	require.NoError(t, err)
	assert.Equal(t, types.GameID("space-miner"), record.GameID)
	assert.WithinDuration(t, time.Now(), record.CreatedAt, 5*time.Second)

	got, found, err := reg.Get(ctx, "wt_live_abc123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.GameID("space-miner"), got.GameID)
	assert.Equal(t, types.ProjectID("proj_1"), got.ProjectID)
}

func TestPutOverwrites(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Put(ctx, "wt_key", "game-a", "proj_a")
	require.NoError(t, err)
	_, err = reg.Put(ctx, "wt_key", "game-b", "proj_b")
	require.NoError(t, err)

	got, found, err := reg.Get(ctx, "wt_key")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.GameID("game-b"), got.GameID)
}

func TestPutValidation(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Put(ctx, "sk_wrong_prefix", "game", "proj")
	assert.ErrorIs(t, err, ErrBadKeyFormat)

	_, err = reg.Put(ctx, "wt_key", "", "proj")
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = reg.Put(ctx, "wt_key", "game", "")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestDeleteValidation(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.Delete(context.Background(), "sk_wrong_prefix")
	assert.ErrorIs(t, err, ErrBadKeyFormat)
}

func TestGetUnknownKey(t *testing.T) {
	reg := newTestRegistry(t)

	record, found, err := reg.Get(context.Background(), "wt_never_registered")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, record)
}

func TestDeleteIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Put(ctx, "wt_doomed", "game", "proj")
	require.NoError(t, err)

	require.NoError(t, reg.Delete(ctx, "wt_doomed"))
	require.NoError(t, reg.Delete(ctx, "wt_doomed"))

	_, found, err := reg.Get(ctx, "wt_doomed")
	require.NoError(t, err)
	assert.False(t, found)
}
