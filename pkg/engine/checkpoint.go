package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/avi3tal/graphengine/pkg/graph"
	"github.com/avi3tal/graphengine/pkg/types"
)

// checkpoint captures the run state. With a suspension it records the
// suspended node first in the ready set, otherwise it is a progress checkpoint
// and nodes still running are recorded as ready to run again.
func (r *run) checkpoint(suspension *completion) *types.Checkpoint {
	cp := &types.Checkpoint{
		ID:           uuid.NewString(),
		RunID:        r.id,
		GraphID:      r.cg.ID(),
		GraphVersion: r.cg.Version(),
		Channels:     r.channels.Snapshot(),
		Executions:   copyMap(r.executions),
		Statuses:     copyMap(r.statuses),
		Joins:        make(map[string]types.JoinState, len(r.joins)),
		Iterations:   r.iterations,
		Isolated:     append([]types.IsolatedFailure(nil), r.isolated...),
		CreatedAt:    time.Now().UTC(),
	}
	for id, js := range r.joins {
		cp.Joins[id] = types.JoinState{Reports: copyMap(js.Reports), Fired: js.Fired}
	}

	var ready []string
	if suspension != nil {
		cp.NodeID = suspension.nodeID
		cp.Token = suspension.result.Token
		cp.Message = suspension.result.Message
		cp.Kind = suspension.result.SuspensionKind
		ready = append(ready, suspension.nodeID)
		ready = append(ready, r.requeue...)
	}
	ready = append(ready, r.ready...)

	running := make([]string, 0, len(r.running))
	for id := range r.running {
		running = append(running, id)
	}
	sort.Strings(running)
	for _, id := range running {
		cp.Executions[id]--
		cp.Iterations--
		cp.Statuses[id] = types.StatusReady
	}
	ready = append(ready, running...)

	seen := make(map[string]bool, len(ready))
	for _, id := range ready {
		if !seen[id] {
			seen[id] = true
			cp.Ready = append(cp.Ready, id)
		}
	}

	if len(r.subs) > 0 {
		cp.SubCheckpoints = copyMap(r.subs)
	}
	return cp
}

func (r *run) saveProgress(ctx context.Context) {
	cp := r.checkpoint(nil)
	if err := r.e.store.Save(context.WithoutCancel(ctx), cp); err != nil {
		r.logger.Warn("failed to save progress checkpoint", "error", err)
		return
	}
	r.savedProgress = true
	r.logger.Debug("progress checkpoint saved", "checkpoint_id", cp.ID, "ready", cp.Ready)
}

// clearCheckpoint removes the run's stored checkpoint once the run completed.
func (r *run) clearCheckpoint(ctx context.Context) {
	if r.e.store == nil || r.nested || !(r.resumed || r.savedProgress) {
		return
	}
	key := types.CheckpointKey{GraphID: r.cg.ID(), RunID: r.id}
	if err := r.e.store.Delete(context.WithoutCancel(ctx), key); err != nil && !errors.Is(err, types.ErrCheckpointNotFound) {
		r.logger.Warn("failed to delete checkpoint", "key", key.String(), "error", err)
	}
}

// restore loads cp into a fresh run. A suspension checkpoint requires res to
// carry its token; the suspended node is re-invoked with res.
func (r *run) restore(cp *types.Checkpoint, res *types.Resolution) error {
	if cp.GraphID != r.cg.ID() {
		return fmt.Errorf("%w: checkpoint graph %q, graph %q", ErrGraphMismatch, cp.GraphID, r.cg.ID())
	}
	if cp.GraphVersion != r.cg.Version() {
		return fmt.Errorf("%w: checkpoint version %q, graph version %q", ErrGraphVersionMismatch, cp.GraphVersion, r.cg.Version())
	}
	if !cp.IsProgress() && (res == nil || res.Token != cp.Token) {
		return ErrTokenMismatch
	}
	for _, id := range cp.Ready {
		if _, ok := r.cg.Node(id); !ok {
			return fmt.Errorf("%w: checkpoint node %q", graph.ErrNodeNotFound, id)
		}
	}

	r.channels.Restore(cp.Channels)
	for id, n := range cp.Executions {
		r.executions[id] = n
	}
	for id, s := range cp.Statuses {
		r.statuses[id] = s
	}
	for id, js := range cp.Joins {
		reports := make(map[string]string, len(js.Reports))
		for k, v := range js.Reports {
			reports[k] = v
		}
		r.joins[id] = &types.JoinState{Reports: reports, Fired: js.Fired}
	}
	r.iterations = cp.Iterations
	r.isolated = append(r.isolated, cp.Isolated...)
	for id, sub := range cp.SubCheckpoints {
		r.subs[id] = sub
	}

	for _, id := range cp.Ready {
		r.enqueue(id)
	}
	if !cp.IsProgress() {
		r.resolutions[cp.NodeID] = res
	}
	r.resumed = true
	r.logger.Info("run restored from checkpoint", "checkpoint_id", cp.ID, "node_id", cp.NodeID, "ready", cp.Ready)
	return nil
}
