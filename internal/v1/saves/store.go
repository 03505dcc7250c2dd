// Package saves is the per-player key-value surface. Values are opaque
// JSON blobs stored verbatim; the interesting part is the key layout and
// its co-tenancy with the other namespaces in the shared store.
package saves

import (
	"context"
	"sort"
	"strings"

	"github.com/traybueno/watchtower-api/internal/v1/kv"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

// MaxSaveSize caps a single save value at 25 MiB.
const MaxSaveSize = 25 << 20

// Store persists save entries scoped to an authenticated (game, player).
type Store struct {
	kv *kv.Service
}

func NewStore(store *kv.Service) *Store {
	return &Store{kv: store}
}

// Put stores data verbatim, overwriting any existing value.
func (s *Store) Put(ctx context.Context, gameID types.GameID, playerID types.PlayerID, saveKey types.SaveKey, data []byte) error {
	return s.kv.Set(ctx, kv.SaveEntryKey(gameID, playerID, saveKey), data)
}

// Get returns the stored bytes, or kv.ErrNotFound.
func (s *Store) Get(ctx context.Context, gameID types.GameID, playerID types.PlayerID, saveKey types.SaveKey) ([]byte, error) {
	return s.kv.Get(ctx, kv.SaveEntryKey(gameID, playerID, saveKey))
}

// List returns the player's save keys, sorted, with the namespace prefix
// stripped. A player with no saves gets an empty slice, never nil.
func (s *Store) List(ctx context.Context, gameID types.GameID, playerID types.PlayerID) ([]string, error) {
	full, err := s.kv.ScanKeys(ctx, kv.SaveScanPattern(gameID, playerID))
	if err != nil {
		return nil, err
	}

	prefix := kv.SavePrefix(gameID, playerID)
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes a save entry. Deleting an absent entry is a no-op.
func (s *Store) Delete(ctx context.Context, gameID types.GameID, playerID types.PlayerID, saveKey types.SaveKey) error {
	return s.kv.Delete(ctx, kv.SaveEntryKey(gameID, playerID, saveKey))
}
