package checkpoints

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/avi3tal/graphengine/pkg/types"
)

// MemoryStore keeps checkpoints in process. Checkpoints are stored encoded, so
// a loaded checkpoint never aliases the run that saved it.
type MemoryStore struct {
	checkpoints map[types.CheckpointKey][]byte
	mu          sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[types.CheckpointKey][]byte),
	}
}

func (m *MemoryStore) Save(_ context.Context, checkpoint *types.Checkpoint) error {
	data, err := checkpoint.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[checkpoint.Key()] = data
	return nil
}

func (m *MemoryStore) Load(_ context.Context, key types.CheckpointKey) (*types.Checkpoint, error) {
	m.mu.RLock()
	data, exists := m.checkpoints[key]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %v", types.ErrCheckpointNotFound, key)
	}
	return types.UnmarshalCheckpoint(data)
}

func (m *MemoryStore) Delete(_ context.Context, key types.CheckpointKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.checkpoints, key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, graphID string) ([]types.CheckpointKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]types.CheckpointKey, 0)
	for key := range m.checkpoints {
		if key.GraphID == graphID {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].RunID < keys[j].RunID })
	return keys, nil
}
