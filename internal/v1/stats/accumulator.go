// Package stats maintains per-game rolling counters and unique-player
// rollups. It is a sink: callers fire events and never learn about
// storage failures, which are logged and absorbed here.
package stats

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/traybueno/watchtower-api/internal/v1/kv"
	"github.com/traybueno/watchtower-api/internal/v1/logging"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// Rollup set retention. Each window keeps a grace period past its natural
// end so late readers still see the previous period.
const (
	DailyTTL   = 48 * time.Hour
	MonthlyTTL = 35 * 24 * time.Hour
)

// Counter hash fields.
const (
	fieldOnline    = "online"
	fieldInRooms   = "inRooms"
	fieldRooms     = "rooms"
	fieldTotal     = "total"
	fieldUpdatedAt = "updatedAt"
)

// Accumulator implements types.StatsSink on top of the shared store.
// Counter updates go through atomic primitives (HINCRBY and a clamped
// decrement script), so concurrent events for one game reach the same
// final state regardless of interleaving.
type Accumulator struct {
	kv *kv.Service
}

func NewAccumulator(store *kv.Service) *Accumulator {
	return &Accumulator{kv: store}
}

// Track records one lifecycle event. Unknown events are ignored.
func (a *Accumulator) Track(ctx context.Context, gameID types.GameID, playerID types.PlayerID, event types.StatsEvent) {
	counters := kv.StatsCounters(gameID)

	var err error
	switch event {
	case types.EventSessionStart:
		err = a.sessionStart(ctx, gameID, playerID)
	case types.EventSessionEnd:
		_, err = a.kv.DecrFloorZero(ctx, counters, fieldOnline)
	case types.EventRoomCreate:
		_, err = a.kv.HIncrBy(ctx, counters, fieldRooms, 1)
	case types.EventRoomClose:
		_, err = a.kv.DecrFloorZero(ctx, counters, fieldRooms)
	case types.EventRoomJoin:
		_, err = a.kv.HIncrBy(ctx, counters, fieldInRooms, 1)
	case types.EventRoomLeave:
		_, err = a.kv.DecrFloorZero(ctx, counters, fieldInRooms)
	default:
		return
	}
	if err != nil {
		logging.Warn(ctx, "Failed to track stats event",
			zap.Error(err),
			zap.String("event", string(event)),
			zap.String("game_id", string(gameID)))
		return
	}

	if err := a.touch(ctx, counters); err != nil {
		logging.Warn(ctx, "Failed to stamp stats record", zap.Error(err))
	}
}

// TrackPlaytime adds a finished session's duration, in whole seconds, to
// the player's lifetime total.
func (a *Accumulator) TrackPlaytime(ctx context.Context, gameID types.GameID, playerID types.PlayerID, d time.Duration) {
	seconds := int64(d.Seconds())
	if seconds <= 0 {
		return
	}
	if _, err := a.kv.HIncrBy(ctx, kv.StatsPlayer(gameID, playerID), "playtime", seconds); err != nil {
		logging.Warn(ctx, "Failed to track playtime",
			zap.Error(err),
			zap.String("game_id", string(gameID)),
			zap.String("player_id", string(playerID)))
	}
}

func (a *Accumulator) sessionStart(ctx context.Context, gameID types.GameID, playerID types.PlayerID) error {
	counters := kv.StatsCounters(gameID)
	now := time.Now()

	if _, err := a.kv.HIncrBy(ctx, counters, fieldOnline, 1); err != nil {
		return err
	}

	if _, err := a.kv.SAddWithTTL(ctx, kv.StatsDaily(gameID, now), string(playerID), DailyTTL); err != nil {
		return err
	}
	if _, err := a.kv.SAddWithTTL(ctx, kv.StatsMonthly(gameID, now), string(playerID), MonthlyTTL); err != nil {
		return err
	}

	// First session ever for this player bumps the lifetime total.
	playerKey := kv.StatsPlayer(gameID, playerID)
	firstEver, err := a.kv.HSetNX(ctx, playerKey, "firstSeen", now.UnixMilli())
	if err != nil {
		return err
	}
	if firstEver {
		if _, err := a.kv.HIncrBy(ctx, counters, fieldTotal, 1); err != nil {
			return err
		}
	}

	if err := a.kv.HSet(ctx, playerKey, map[string]interface{}{"lastSeen": now.UnixMilli()}); err != nil {
		return err
	}
	_, err = a.kv.HIncrBy(ctx, playerKey, "sessions", 1)
	return err
}

func (a *Accumulator) touch(ctx context.Context, counters string) error {
	return a.kv.HSet(ctx, counters, map[string]interface{}{fieldUpdatedAt: time.Now().UnixMilli()})
}

// GameStats is the public counter view of one game.
type GameStats struct {
	GameID    types.GameID `json:"gameId"`
	Online    int64        `json:"online"`
	InRooms   int64        `json:"inRooms"`
	Rooms     int64        `json:"rooms"`
	Total     int64        `json:"total"`
	Today     int64        `json:"today"`
	ThisMonth int64        `json:"thisMonth"`
	UpdatedAt int64        `json:"updatedAt"`
}

// PlayerStats is the public per-player view.
type PlayerStats struct {
	GameID    types.GameID   `json:"gameId"`
	PlayerID  types.PlayerID `json:"playerId"`
	FirstSeen int64          `json:"firstSeen"`
	LastSeen  int64          `json:"lastSeen"`
	Sessions  int64          `json:"sessions"`
	Playtime  int64          `json:"playtime"`
}

// Game reads the counter record. The unique-player windows are live set
// cardinalities, so TTL eviction and day rollover need no bookkeeping.
// Absent fields read as zero.
func (a *Accumulator) Game(ctx context.Context, gameID types.GameID) (GameStats, error) {
	record, err := a.kv.HGetAll(ctx, kv.StatsCounters(gameID))
	if err != nil {
		return GameStats{}, err
	}

	now := time.Now()
	today, err := a.kv.SCard(ctx, kv.StatsDaily(gameID, now))
	if err != nil {
		return GameStats{}, err
	}
	thisMonth, err := a.kv.SCard(ctx, kv.StatsMonthly(gameID, now))
	if err != nil {
		return GameStats{}, err
	}

	return GameStats{
		GameID:    gameID,
		Online:    fieldInt64(record, fieldOnline),
		InRooms:   fieldInt64(record, fieldInRooms),
		Rooms:     fieldInt64(record, fieldRooms),
		Total:     fieldInt64(record, fieldTotal),
		Today:     today,
		ThisMonth: thisMonth,
		UpdatedAt: fieldInt64(record, fieldUpdatedAt),
	}, nil
}

// Player reads one player's record. Unknown players read as all zeros.
func (a *Accumulator) Player(ctx context.Context, gameID types.GameID, playerID types.PlayerID) (PlayerStats, error) {
	record, err := a.kv.HGetAll(ctx, kv.StatsPlayer(gameID, playerID))
	if err != nil {
		return PlayerStats{}, err
	}

	return PlayerStats{
		GameID:    gameID,
		PlayerID:  playerID,
		FirstSeen: fieldInt64(record, "firstSeen"),
		LastSeen:  fieldInt64(record, "lastSeen"),
		Sessions:  fieldInt64(record, "sessions"),
		Playtime:  fieldInt64(record, "playtime"),
	}, nil
}

func fieldInt64(record map[string]string, field string) int64 {
	v, ok := record[field]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
