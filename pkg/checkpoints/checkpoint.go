// Package checkpoints persists suspended and in-progress runs.
package checkpoints

import (
	"context"
	"errors"
	"fmt"

	"github.com/avi3tal/graphengine/pkg/types"
)

// Checkpointer adds run-level lookups on top of a CheckpointStore
type Checkpointer struct {
	store types.CheckpointStore
}

func NewCheckpointer(store types.CheckpointStore) *Checkpointer {
	return &Checkpointer{
		store: store,
	}
}

// Store returns the underlying store, for handing to an engine.
func (c *Checkpointer) Store() types.CheckpointStore {
	return c.store
}

func (c *Checkpointer) Save(ctx context.Context, cp *types.Checkpoint) error {
	if err := c.store.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint for GraphID %s and RunID %s: %w", cp.GraphID, cp.RunID, err)
	}
	return nil
}

func (c *Checkpointer) Load(ctx context.Context, graphID, runID string) (*types.Checkpoint, error) {
	key := types.CheckpointKey{GraphID: graphID, RunID: runID}
	cp, err := c.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint for GraphID %s and RunID %s: %w", graphID, runID, err)
	}
	return cp, nil
}

func (c *Checkpointer) Delete(ctx context.Context, graphID, runID string) error {
	key := types.CheckpointKey{GraphID: graphID, RunID: runID}
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete checkpoint for GraphID %s and RunID %s: %w", graphID, runID, err)
	}
	return nil
}

// Pending returns the suspended runs of graphID that wait for a resolution,
// ordered by run id. Progress checkpoints are left out.
func (c *Checkpointer) Pending(ctx context.Context, graphID string) ([]*types.Checkpoint, error) {
	keys, err := c.store.List(ctx, graphID)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for GraphID %s: %w", graphID, err)
	}

	pending := make([]*types.Checkpoint, 0, len(keys))
	for _, key := range keys {
		cp, err := c.store.Load(ctx, key)
		if errors.Is(err, types.ErrCheckpointNotFound) {
			// Resumed since it was listed.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load checkpoint %s: %w", key, err)
		}
		if !cp.IsProgress() {
			pending = append(pending, cp)
		}
	}
	return pending, nil
}
