package engine

import (
	"github.com/avi3tal/graphengine/pkg/graph"
	"github.com/avi3tal/graphengine/pkg/types"
)

// Outcomes a predecessor reports to its successors.
const (
	reportSuccess = "success"
	reportFailed  = "failed"
	reportSkipped = "skipped"
)

// propagate hands a successful node's outputs to the targets of its taken
// edges and reports to every successor whether it was reached.
func (r *run) propagate(node *graph.Node, res types.NodeExecutionResult) {
	reached := make(map[string]bool)
	// Lazy cloning shares each distinct output with the first consumer only.
	shared := make(map[int]bool)

	for _, e := range r.cg.Outgoing(node.ID) {
		if !res.Emits(e.FromPort) {
			continue
		}
		output := res.OutputFor(e.FromPort)
		taken, err := e.Taken(output)
		if err != nil {
			r.logger.Warn("edge condition failed, edge not taken", "edge", e.String(), "error", err)
			continue
		}
		if !taken {
			continue
		}

		identity := -1
		if _, ok := res.PortOutputs[e.FromPort]; ok {
			identity = e.FromPort
		}
		var value map[string]any
		switch r.cg.Cloning(e) {
		case graph.NeverClone:
			value = output
		case graph.AlwaysClone:
			value = graph.CopyValues(output)
		default:
			if shared[identity] {
				value = graph.CopyValues(output)
			} else {
				shared[identity] = true
				value = output
			}
		}
		if value == nil {
			value = make(map[string]any)
		}
		r.channels.Set(e.Channel(), value)
		reached[e.To] = true
	}

	for _, succ := range r.cg.Successors(node.ID) {
		if reached[succ] {
			r.signal(succ, node.ID, reportSuccess)
		} else {
			r.signal(succ, node.ID, reportSkipped)
		}
	}
}

// signal records that from finished with outcome and decides whether target
// becomes ready, stays waiting, or is skipped. A round ends once every distinct
// predecessor has reported; the next report starts a new one.
func (r *run) signal(target, from, outcome string) {
	js, ok := r.joins[target]
	if !ok {
		js = &types.JoinState{Reports: make(map[string]string)}
		r.joins[target] = js
	}
	js.Reports[from] = outcome

	preds := r.cg.Predecessors(target)
	complete := true
	for _, p := range preds {
		if _, ok := js.Reports[p]; !ok {
			complete = false
			break
		}
	}

	switch join := r.cg.JoinType(target); join {
	case graph.ConditionUpstreamAllDone, graph.ConditionUpstreamAllDoneOneSuccess:
		if !complete {
			return
		}
		delete(r.joins, target)
		for _, p := range preds {
			report := js.Reports[p]
			if report == reportSuccess || (join == graph.ConditionUpstreamAllDone && report == reportFailed) {
				r.enqueue(target)
				return
			}
		}
		r.skip(target)
		return

	case graph.ConditionUpstreamOneSuccess:
		if outcome == reportSuccess && !js.Fired {
			js.Fired = true
			r.enqueue(target)
		}

	default:
		if outcome == reportSuccess {
			js.Fired = true
			r.enqueue(target)
		}
	}

	if !complete {
		return
	}
	delete(r.joins, target)
	if !js.Fired {
		r.skip(target)
	}
}

// skip marks a node that was never reached and passes the skip on. Nodes that
// already ran have reported to their successors and are left alone.
func (r *run) skip(id string) {
	if r.statuses[id] != types.StatusPending {
		return
	}
	r.statuses[id] = types.StatusSkipped
	r.logger.Debug("node skipped", "node_id", id)
	for _, succ := range r.cg.Successors(id) {
		r.signal(succ, id, reportSkipped)
	}
}

// enqueue adds id to the ready queue unless it is already waiting there.
func (r *run) enqueue(id string) {
	if r.queued[id] {
		return
	}
	r.queued[id] = true
	r.ready = append(r.ready, id)
	r.statuses[id] = types.StatusReady
}
