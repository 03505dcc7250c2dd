package room

import (
	"encoding/json"

	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// Client frame types.
const (
	frameTypePlayerState  = "player_state"
	frameTypeGameState    = "game_state"
	frameTypeTransferHost = "transfer_host"
	frameTypeBroadcast    = "broadcast"
	frameTypeSend         = "send"
	frameTypePing         = "ping"
)

// Server frame types.
const (
	frameTypeConnected         = "connected"
	frameTypePlayersSync       = "players_sync"
	frameTypePlayerStateUpdate = "player_state_update"
	frameTypeGameStateSync     = "game_state_sync"
	frameTypePlayerJoined      = "player_joined"
	frameTypePlayerLeft        = "player_left"
	frameTypeHostChanged       = "host_changed"
	frameTypeMessage           = "message"
	frameTypePong              = "pong"
)

// clientFrame is the flat envelope every inbound message decodes into.
// Fields outside the frame's type are simply absent.
type clientFrame struct {
	Type        string          `json:"type"`
	State       json.RawMessage `json:"state"`
	NewHostID   string          `json:"newHostId"`
	To          string          `json:"to"`
	Data        json.RawMessage `json:"data"`
	ExcludeSelf bool            `json:"excludeSelf"`
}

// roomSummary is the room header embedded in the connected frame.
type roomSummary struct {
	GameID      types.GameID     `json:"gameId"`
	HostID      types.PlayerID   `json:"hostId"`
	Players     []types.PlayerID `json:"players"`
	PlayerCount int              `json:"playerCount"`
}

// Egress frames are marshaled once and fanned out as raw bytes, so a slow
// recipient never costs a second encode.

type connectedFrame struct {
	Type         string                             `json:"type"`
	PlayerID     types.PlayerID                     `json:"playerId"`
	Room         roomSummary                        `json:"room"`
	PlayerStates map[types.PlayerID]json.RawMessage `json:"playerStates"`
	GameState    json.RawMessage                    `json:"gameState"`
}

type playersSyncFrame struct {
	Type    string                             `json:"type"`
	Players map[types.PlayerID]json.RawMessage `json:"players"`
}

type playerStateUpdateFrame struct {
	Type     string          `json:"type"`
	PlayerID types.PlayerID  `json:"playerId"`
	State    json.RawMessage `json:"state"`
}

type gameStateSyncFrame struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

type playerJoinedFrame struct {
	Type        string         `json:"type"`
	PlayerID    types.PlayerID `json:"playerId"`
	PlayerCount int            `json:"playerCount"`
}

type playerLeftFrame struct {
	Type        string         `json:"type"`
	PlayerID    types.PlayerID `json:"playerId"`
	PlayerCount int            `json:"playerCount"`
}

type hostChangedFrame struct {
	Type   string         `json:"type"`
	HostID types.PlayerID `json:"hostId"`
}

type messageFrame struct {
	Type string          `json:"type"`
	From types.PlayerID  `json:"from"`
	Data json.RawMessage `json:"data"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// encodeFrame marshals an egress frame. Frames are built from values that
// cannot fail to marshal, so errors are swallowed into a nil slice the
// send path treats as a drop.
func encodeFrame(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
