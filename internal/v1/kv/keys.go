package kv

import (
	"fmt"
	"time"

	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// Key layout for the shared namespace. Subsystems stay out of each other's
// way by prefix; saves use the bare <gameId>:<playerId>: form.
//
//	<gameId>:<playerId>:<saveKey>        save value (JSON)
//	apikey:<apiKey>                      key registry record
//	stats:<gameId>                       counter hash
//	stats:<gameId>:daily:<YYYY-MM-DD>    unique-player set (TTL ~2 days)
//	stats:<gameId>:monthly:<YYYY-MM>     unique-player set (TTL ~35 days)
//	stats:<gameId>:player:<playerId>     per-player hash
//	roomstate:<gameId>:<CODE>            room snapshot (JSON)
//	project:<projectId>:subdomain        hosting (reserved, written elsewhere)
//	subdomain:<subdomain>                hosting (reserved, written elsewhere)
const (
	PrefixAPIKey    = "apikey:"
	PrefixStats     = "stats:"
	PrefixRoomState = "roomstate:"
	PrefixProject   = "project:"
	PrefixSubdomain = "subdomain:"
)

// SaveEntryKey builds the composite key of one save slot.
func SaveEntryKey(gameID types.GameID, playerID types.PlayerID, saveKey types.SaveKey) string {
	return fmt.Sprintf("%s:%s:%s", gameID, playerID, saveKey)
}

// SaveScanPattern matches every save slot of one (game, player) pair.
func SaveScanPattern(gameID types.GameID, playerID types.PlayerID) string {
	return fmt.Sprintf("%s:%s:*", gameID, playerID)
}

// SavePrefix is the part of a save key that precedes the save slot name.
func SavePrefix(gameID types.GameID, playerID types.PlayerID) string {
	return fmt.Sprintf("%s:%s:", gameID, playerID)
}

// APIKeyEntry builds the registry key of one API key.
func APIKeyEntry(apiKey string) string {
	return PrefixAPIKey + apiKey
}

// StatsCounters is the per-game counter hash.
func StatsCounters(gameID types.GameID) string {
	return PrefixStats + string(gameID)
}

// StatsDaily is the unique-player set for one calendar day (UTC).
func StatsDaily(gameID types.GameID, day time.Time) string {
	return fmt.Sprintf("%s%s:daily:%s", PrefixStats, gameID, day.UTC().Format("2006-01-02"))
}

// StatsMonthly is the unique-player set for one calendar month (UTC).
func StatsMonthly(gameID types.GameID, month time.Time) string {
	return fmt.Sprintf("%s%s:monthly:%s", PrefixStats, gameID, month.UTC().Format("2006-01"))
}

// StatsPlayer is the per-player record hash.
func StatsPlayer(gameID types.GameID, playerID types.PlayerID) string {
	return fmt.Sprintf("%s%s:player:%s", PrefixStats, gameID, playerID)
}

// RoomState is the snapshot key of one room actor.
func RoomState(gameID types.GameID, code types.RoomCode) string {
	return fmt.Sprintf("%s%s:%s", PrefixRoomState, gameID, code.Canonical())
}
