package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/traybueno/watchtower-api/internal/v1/kv"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// emptyState is the zero value of an opaque state blob.
var emptyState = json.RawMessage(`{}`)

type rosterEntry struct {
	JoinedAt int64 `json:"joinedAt"`
}

// roomState is the durable shape of a room. The owning actor is the only
// reader and writer; it round-trips through the snapshot key verbatim.
type roomState struct {
	GameID       types.GameID                       `json:"gameId"`
	HostID       types.PlayerID                     `json:"hostId"`
	CreatedAt    int64                              `json:"createdAt"`
	Roster       map[types.PlayerID]rosterEntry     `json:"roster"`
	PlayerStates map[types.PlayerID]json.RawMessage `json:"playerStates"`
	GameState    json.RawMessage                    `json:"gameState"`
}

func newRoomState(gameID types.GameID, hostID types.PlayerID, nowMillis int64) *roomState {
	return &roomState{
		GameID:       gameID,
		HostID:       hostID,
		CreatedAt:    nowMillis,
		Roster:       map[types.PlayerID]rosterEntry{hostID: {JoinedAt: nowMillis}},
		PlayerStates: map[types.PlayerID]json.RawMessage{},
		GameState:    emptyState,
	}
}

// normalize fills fields a snapshot from an older build may lack.
func (r *roomState) normalize() {
	if r.Roster == nil {
		r.Roster = map[types.PlayerID]rosterEntry{}
	}
	if r.PlayerStates == nil {
		r.PlayerStates = map[types.PlayerID]json.RawMessage{}
	}
	if len(r.GameState) == 0 {
		r.GameState = emptyState
	}
}

// sortedPlayers orders the roster by join time, then lexicographically by
// playerId when two joins share a millisecond. Every surface that lists
// players uses this order, including host promotion.
func (r *roomState) sortedPlayers() []types.PlayerID {
	ids := make([]types.PlayerID, 0, len(r.Roster))
	for id := range r.Roster {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.Roster[ids[i]], r.Roster[ids[j]]
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return ids[i] < ids[j]
	})
	return ids
}

// nextHost picks the promotion candidate after the host leaves.
func (r *roomState) nextHost() (types.PlayerID, bool) {
	players := r.sortedPlayers()
	if len(players) == 0 {
		return "", false
	}
	return players[0], true
}

func (r *roomState) summary() roomSummary {
	return roomSummary{
		GameID:      r.GameID,
		HostID:      r.HostID,
		Players:     r.sortedPlayers(),
		PlayerCount: len(r.Roster),
	}
}

// loadRoomState reads a snapshot. An absent snapshot is (nil, nil): the
// room does not exist.
func loadRoomState(ctx context.Context, store *kv.Service, key string) (*roomState, error) {
	payload, err := store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state roomState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("decode room snapshot: %w", err)
	}
	state.normalize()
	return &state, nil
}

func saveRoomState(ctx context.Context, store *kv.Service, key string, state *roomState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode room snapshot: %w", err)
	}
	return store.Set(ctx, key, payload)
}

func deleteRoomState(ctx context.Context, store *kv.Service, key string) error {
	return store.Delete(ctx, key)
}
