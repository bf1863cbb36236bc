package ledger

import (
	"context"
	"encoding/json"
	"strings"

	"baskt-core/internal/core"
)

const EngineSnapshotKey = "engine:last_snapshot"

// LoadEngineState restores the last persisted engine snapshot, if any.
func LoadEngineState(ctx context.Context, store Store) (core.State, bool, error) {
	if store == nil {
		return core.State{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, EngineSnapshotKey)
	if err != nil {
		return core.State{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return core.State{}, false, nil
	}
	var state core.State
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return core.State{}, false, err
	}
	return state, true, nil
}

// SaveEngineState persists an engine snapshot.
func SaveEngineState(ctx context.Context, store Store, state core.State) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return store.Set(ctx, EngineSnapshotKey, string(payload))
}
