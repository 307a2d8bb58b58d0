package checkpoints

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/avi3tal/graphengine/pkg/types"
)

// RedisStore persists checkpoints in Redis. Each checkpoint is a JSON string;
// a per-graph set indexes the run ids.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) makeKey(key types.CheckpointKey) string {
	return fmt.Sprintf("graphengine:checkpoint:%s:%s", key.GraphID, key.RunID)
}

func (s *RedisStore) indexKey(graphID string) string {
	return fmt.Sprintf("graphengine:checkpoints:%s", graphID)
}

func (s *RedisStore) Save(ctx context.Context, checkpoint *types.Checkpoint) error {
	data, err := checkpoint.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	key := checkpoint.Key()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.makeKey(key), data, 0)
		pipe.SAdd(ctx, s.indexKey(key.GraphID), key.RunID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, key types.CheckpointKey) (*types.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.makeKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", types.ErrCheckpointNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", key, err)
	}
	return types.UnmarshalCheckpoint(data)
}

func (s *RedisStore) Delete(ctx context.Context, key types.CheckpointKey) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.makeKey(key))
		pipe.SRem(ctx, s.indexKey(key.GraphID), key.RunID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, graphID string) ([]types.CheckpointKey, error) {
	runIDs, err := s.client.SMembers(ctx, s.indexKey(graphID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	sort.Strings(runIDs)

	keys := make([]types.CheckpointKey, 0, len(runIDs))
	for _, id := range runIDs {
		keys = append(keys, types.CheckpointKey{GraphID: graphID, RunID: id})
	}
	return keys, nil
}
