package kv

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// newTestService spins up an in-memory Redis and a Service wired to it.
func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewServiceFromClient(client)
	t.Cleanup(func() { svc.Close() })

	return svc, mr
}

func TestGetSet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Set(ctx, "greeting", []byte(`{"hello":"world"}`)))

	got, err := svc.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(got))
}

func TestSetWithTTL(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetWithTTL(ctx, "ephemeral", []byte("x"), time.Minute))

	mr.FastForward(2 * time.Minute)

	_, err := svc.Get(ctx, "ephemeral")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "doomed", []byte("x")))
	require.NoError(t, svc.Delete(ctx, "doomed"))
	// Deleting again must not error.
	require.NoError(t, svc.Delete(ctx, "doomed"))

	ok, err := svc.Exists(ctx, "doomed")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExists(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ok, err := svc.Exists(ctx, "nothing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.Set(ctx, "something", []byte("x")))

	ok, err = svc.Exists(ctx, "something")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScanKeys(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "g1:alice:slot1", []byte("a")))
	require.NoError(t, svc.Set(ctx, "g1:alice:slot2", []byte("b")))
	require.NoError(t, svc.Set(ctx, "g1:bob:slot1", []byte("c")))
	require.NoError(t, svc.Set(ctx, "g2:alice:slot1", []byte("d")))

	keys, err := svc.ScanKeys(ctx, "g1:alice:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"g1:alice:slot1", "g1:alice:slot2"}, keys)

	keys, err = svc.ScanKeys(ctx, "g9:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestHashOperations(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.HSet(ctx, "h", map[string]interface{}{"name": "ada", "score": 1}))

	n, err := svc.HIncrBy(ctx, "h", "score", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	wrote, err := svc.HSetNX(ctx, "h", "name", "grace")
	require.NoError(t, err)
	assert.False(t, wrote, "HSetNX must not overwrite an existing field")

	wrote, err = svc.HSetNX(ctx, "h", "firstSeen", "123")
	require.NoError(t, err)
	assert.True(t, wrote)

	all, err := svc.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "ada", "score": "5", "firstSeen": "123"}, all)
}

func TestHGetAllMissingHash(t *testing.T) {
	svc, _ := newTestService(t)

	all, err := svc.HGetAll(context.Background(), "no-such-hash")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDecrFloorZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.HSet(ctx, "counters", map[string]interface{}{"online": 2}))

	n, err := svc.DecrFloorZero(ctx, "counters", "online")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = svc.DecrFloorZero(ctx, "counters", "online")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Already at zero: clamp, never go negative.
	n, err = svc.DecrFloorZero(ctx, "counters", "online")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Absent field counts as zero.
	n, err = svc.DecrFloorZero(ctx, "counters", "inRooms")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSAddWithTTL(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()

	added, err := svc.SAddWithTTL(ctx, "uniques", "alice", time.Hour)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = svc.SAddWithTTL(ctx, "uniques", "alice", time.Hour)
	require.NoError(t, err)
	assert.False(t, added, "repeat member must report not-added")

	n, err := svc.SCard(ctx, "uniques")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mr.FastForward(2 * time.Hour)

	n, err = svc.SCard(ctx, "uniques")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestPing(t *testing.T) {
	svc, mr := newTestService(t)

	require.NoError(t, svc.Ping(context.Background()))

	mr.Close()
	assert.Error(t, svc.Ping(context.Background()))
}

func TestKeyLayout(t *testing.T) {
	game := types.GameID("space-miner")
	player := types.PlayerID("p_42")

	assert.Equal(t, "space-miner:p_42:slot1", SaveEntryKey(game, player, "slot1"))
	assert.Equal(t, "space-miner:p_42:*", SaveScanPattern(game, player))
	assert.Equal(t, "space-miner:p_42:", SavePrefix(game, player))
	assert.Equal(t, "apikey:wt_abc", APIKeyEntry("wt_abc"))
	assert.Equal(t, "stats:space-miner", StatsCounters(game))
	assert.Equal(t, "stats:space-miner:player:p_42", StatsPlayer(game, player))

	day := time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "stats:space-miner:daily:2025-03-09", StatsDaily(game, day))
	assert.Equal(t, "stats:space-miner:monthly:2025-03", StatsMonthly(game, day))

	assert.Equal(t, "roomstate:space-miner:ABCD", RoomState(game, types.RoomCode("abcd")))
}
