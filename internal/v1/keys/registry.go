// Package keys stores API key registrations. Keys are minted by the
// dashboard; this service only validates shape and persists the mapping
// from key to game.
package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/traybueno/watchtower-api/internal/v1/kv"
	"github.com/traybueno/watchtower-api/internal/v1/types"
)

var (
	// ErrBadKeyFormat reports a key missing the required prefix.
	ErrBadKeyFormat = errors.New("keys: api key must start with " + types.APIKeyPrefix)
	// ErrMissingField reports an empty gameId or projectId.
	ErrMissingField = errors.New("keys: gameId and projectId are required")
)

// Registry persists API key records. It satisfies types.KeyLookup.
type Registry struct {
	store *kv.Service
}

func NewRegistry(store *kv.Service) *Registry {
	return &Registry{store: store}
}

// Put registers an API key. Registering the same key again replaces the
// record, so equal input is idempotent.
func (r *Registry) Put(ctx context.Context, apiKey string, gameID types.GameID, projectID types.ProjectID) (*types.KeyRecord, error) {
	if !strings.HasPrefix(apiKey, types.APIKeyPrefix) {
		return nil, ErrBadKeyFormat
	}
	if gameID == "" || projectID == "" {
		return nil, ErrMissingField
	}

	record := &types.KeyRecord{
		GameID:    gameID,
		ProjectID: projectID,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal key record: %w", err)
	}
	if err := r.store.Set(ctx, kv.APIKeyEntry(apiKey), payload); err != nil {
		return nil, err
	}
	return record, nil
}

// Delete revokes an API key. Revoking an unknown key is a no-op.
func (r *Registry) Delete(ctx context.Context, apiKey string) error {
	if !strings.HasPrefix(apiKey, types.APIKeyPrefix) {
		return ErrBadKeyFormat
	}
	return r.store.Delete(ctx, kv.APIKeyEntry(apiKey))
}

// Get resolves an API key to its record. The second return is false when
// the key is not registered.
func (r *Registry) Get(ctx context.Context, apiKey string) (*types.KeyRecord, bool, error) {
	payload, err := r.store.Get(ctx, kv.APIKeyEntry(apiKey))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var record types.KeyRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, false, fmt.Errorf("unmarshal key record: %w", err)
	}
	return &record, true, nil
}
