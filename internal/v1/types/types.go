package types

import (
	"context"
	"strings"
	"time"
)

// --- Core Domain Types ---

// GameID identifies a registered game (one tenant).
type GameID string

// ProjectID identifies the dashboard project a game belongs to.
type ProjectID string

// PlayerID is the client-asserted identifier of a player. It is not
// authenticated; it only scopes saves, stats, and room membership.
type PlayerID string

// RoomCode is a short human-readable room identifier. Codes are
// case-insensitive; the uppercase form is canonical.
type RoomCode string

// SaveKey names one save slot within a (game, player) namespace.
type SaveKey string

// Canonical returns the uppercase form used for storage and actor lookup.
func (c RoomCode) Canonical() RoomCode {
	return RoomCode(strings.ToUpper(string(c)))
}

// APIKeyPrefix is the required prefix of every issued API key.
const APIKeyPrefix = "wt_"

// KeyRecord is the registry value an API key resolves to.
type KeyRecord struct {
	GameID    GameID    `json:"gameId"`
	ProjectID ProjectID `json:"projectId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity is the authenticated request context bound by the auth gate.
type Identity struct {
	GameID    GameID
	ProjectID ProjectID
	PlayerID  PlayerID
	APIKey    string
}

// --- Stats Events ---

// StatsEvent names a lifecycle transition tracked per game.
type StatsEvent string

const (
	EventSessionStart StatsEvent = "session_start"
	EventSessionEnd   StatsEvent = "session_end"
	EventRoomCreate   StatsEvent = "room_create"
	EventRoomClose    StatsEvent = "room_close"
	EventRoomJoin     StatsEvent = "room_join"
	EventRoomLeave    StatsEvent = "room_leave"
)

// KnownEvent reports whether e is one of the tracked lifecycle events.
func KnownEvent(e StatsEvent) bool {
	switch e {
	case EventSessionStart, EventSessionEnd, EventRoomCreate, EventRoomClose, EventRoomJoin, EventRoomLeave:
		return true
	}
	return false
}

// --- Shared Interfaces ---

// StatsSink receives lifecycle events from the transport and room layers.
// Implementations must tolerate concurrent calls for the same game.
type StatsSink interface {
	// Track records one lifecycle event for (gameID, playerID).
	Track(ctx context.Context, gameID GameID, playerID PlayerID, event StatsEvent)
	// TrackPlaytime adds a finished session's duration to the player's total.
	TrackPlaytime(ctx context.Context, gameID GameID, playerID PlayerID, d time.Duration)
}

// KeyLookup resolves an API key to its registry record.
// This keeps the auth gate independent of the registry implementation.
type KeyLookup interface {
	Get(ctx context.Context, apiKey string) (*KeyRecord, bool, error)
}

// NopStats is a StatsSink that discards all events. Used when the
// accumulator is unavailable and in tests.
type NopStats struct{}

func (NopStats) Track(context.Context, GameID, PlayerID, StatsEvent) {}

func (NopStats) TrackPlaytime(context.Context, GameID, PlayerID, time.Duration) {}
