package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCheckpointNotFound is returned by stores when no checkpoint exists for a key.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

type CheckpointKey struct {
	GraphID string `json:"graph_id"`
	RunID   string `json:"run_id"`
}

func (k CheckpointKey) String() string {
	return fmt.Sprintf("%s/%s", k.GraphID, k.RunID)
}

// Resolution is what the caller supplies to resume a suspended run.
type Resolution struct {
	Token    string         `json:"token"`
	Approved bool           `json:"approved"`
	Decision string         `json:"decision,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Approve returns an approving resolution for token.
func Approve(token string) Resolution {
	return Resolution{Token: token, Approved: true, Decision: "approved"}
}

// Deny returns a denying resolution for token.
func Deny(token string) Resolution {
	return Resolution{Token: token, Approved: false, Decision: "denied"}
}

// JoinState is the bookkeeping of the current readiness round of one node:
// which predecessors have reported, with which outcome, and whether the node
// already fired in this round.
type JoinState struct {
	Reports map[string]string `json:"reports,omitempty"`
	Fired   bool              `json:"fired,omitempty"`
}

// IsolatedFailure records a node that failed under an isolate error policy.
type IsolatedFailure struct {
	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

// Checkpoint is the serializable snapshot of a paused run. A checkpoint with an
// empty Token is a progress checkpoint and resumes without a resolution.
type Checkpoint struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	GraphID      string         `json:"graph_id"`
	GraphVersion string         `json:"graph_version"`
	NodeID       string         `json:"node_id,omitempty"`
	Token        string         `json:"token,omitempty"`
	Message      string         `json:"message,omitempty"`
	Kind         SuspensionKind `json:"kind,omitempty"`

	Channels   ChannelValues                  `json:"channels"`
	Executions map[string]int                 `json:"executions"`
	Statuses   map[string]NodeExecutionStatus `json:"statuses"`
	Ready      []string                       `json:"ready"`
	Joins      map[string]JoinState           `json:"joins,omitempty"`
	Iterations int                            `json:"iterations"`
	Isolated   []IsolatedFailure              `json:"isolated,omitempty"`

	// SubCheckpoints holds the checkpoints of suspended subgraph runs, keyed by
	// the id of the subgraph node in this graph.
	SubCheckpoints map[string]*Checkpoint `json:"sub_checkpoints,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (c *Checkpoint) Key() CheckpointKey {
	return CheckpointKey{GraphID: c.GraphID, RunID: c.RunID}
}

// IsProgress reports whether the checkpoint was taken at a progress point
// rather than at a suspension.
func (c *Checkpoint) IsProgress() bool {
	return c.Token == ""
}

func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

func UnmarshalCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, nil
}

// CheckpointStore interface defines persistent storage operations
type CheckpointStore interface {
	Save(ctx context.Context, checkpoint *Checkpoint) error
	Load(ctx context.Context, key CheckpointKey) (*Checkpoint, error)
	Delete(ctx context.Context, key CheckpointKey) error
	// List returns the keys of the checkpoints stored for graphID.
	List(ctx context.Context, graphID string) ([]CheckpointKey, error)
}
