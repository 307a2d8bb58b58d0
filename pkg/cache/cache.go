// Package cache stores successful node results so identical invocations can
// skip the handler.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is a cached success.
type Entry struct {
	Outputs     map[string]any         `json:"outputs"`
	Ports       []int                  `json:"ports,omitempty"`
	PortOutputs map[int]map[string]any `json:"port_outputs,omitempty"`
}

// Cache is a result cache with per-entry expiry.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
}

// Key derives the cache key of an invocation from the graph, node, handler and
// the JSON encoding of its inputs. encoding/json sorts map keys, so equal
// inputs give equal keys.
func Key(graphID, nodeID, handler string, inputs map[string]any) (string, error) {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("failed to encode inputs for cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s:%s:%s", graphID, nodeID, handler, hex.EncodeToString(sum[:])), nil
}
