package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avi3tal/graphengine/internal/ctxlog"
	"github.com/avi3tal/graphengine/pkg/channels"
	"github.com/avi3tal/graphengine/pkg/graph"
	"github.com/avi3tal/graphengine/pkg/types"
)

// completion is what a worker reports back to the coordinator.
type completion struct {
	nodeID   string
	result   types.NodeExecutionResult
	attempts int
	cached   bool
	// sub is the checkpoint of a suspended subgraph run.
	sub      *types.Checkpoint
	isolated []types.IsolatedFailure
}

// run is the state of one graph run. Every field except channels is owned by
// the coordinator goroutine running loop.
type run struct {
	e      *Engine
	cg     *graph.CompiledGraph
	id     string
	nested bool
	inputs map[string]any
	logger *slog.Logger

	channels    *channels.Set
	executions  map[string]int
	statuses    map[string]types.NodeExecutionStatus
	ready       []string
	queued      map[string]bool
	running     map[string]bool
	joins       map[string]*types.JoinState
	iterations  int
	isolated    []types.IsolatedFailure
	resolutions map[string]*types.Resolution
	subs        map[string]*types.Checkpoint

	inflight    int
	completions chan completion

	failErr      error
	failedNode   string
	suspension   *completion
	requeue      []string
	endReached   bool
	finalOutputs map[string]any
	ctxErr       error

	resumed       bool
	savedProgress bool
	started       time.Time
}

func (e *Engine) newRun(cg *graph.CompiledGraph, runID string, inputs map[string]any, nested bool) *run {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	r := &run{
		e:           e,
		cg:          cg,
		id:          runID,
		nested:      nested,
		inputs:      inputs,
		logger:      e.logger.With("graph_id", cg.ID(), "run_id", runID),
		channels:    channels.NewSet(),
		executions:  make(map[string]int),
		statuses:    make(map[string]types.NodeExecutionStatus),
		queued:      make(map[string]bool),
		running:     make(map[string]bool),
		joins:       make(map[string]*types.JoinState),
		resolutions: make(map[string]*types.Resolution),
		subs:        make(map[string]*types.Checkpoint),
		completions: make(chan completion),
	}
	for _, id := range cg.NodeIDs() {
		r.statuses[id] = types.StatusPending
	}
	return r
}

func (r *run) maxIterations() int {
	if n := r.cg.MaxIterations(); n > 0 {
		return n
	}
	return r.e.maxIterations
}

func (r *run) maxExecutions(node *graph.Node) int {
	if node.MaxExecutions > 0 {
		return node.MaxExecutions
	}
	return r.e.maxExecutions
}

func (r *run) timeout() time.Duration {
	if t := r.cg.ExecutionTimeout(); t > 0 {
		return t
	}
	return r.e.timeout
}

// execute drives the run until it is terminal or suspended.
func (r *run) execute(ctx context.Context) *types.RunOutcome {
	r.started = time.Now()

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if t := r.timeout(); t > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	runCtx = ctxlog.WithLogger(runCtx, r.logger)

	r.logger.Debug("run started", "resumed", r.resumed, "ready", r.ready)
	r.loop(runCtx)
	if r.ctxErr == nil && !r.endReached && r.failErr == nil && r.suspension == nil {
		// Workers may observe the deadline before the coordinator does.
		r.ctxErr = runCtx.Err()
	}

	out := r.outcome(ctx)
	r.e.metrics.observeRun(r.cg.ID(), out.Status)

	attrs := []any{"status", out.Status, "duration", out.Duration}
	if out.Err != nil {
		attrs = append(attrs, "error", out.Err, "node_id", out.FailedNodeID)
	}
	if out.Status == types.RunCompleted || out.Status == types.RunSuspended {
		r.logger.Info("run finished", attrs...)
	} else {
		r.logger.Warn("run finished", attrs...)
	}
	return out
}

func (r *run) loop(ctx context.Context) {
	for {
		r.dispatchReady(ctx)
		if r.inflight == 0 {
			return
		}

		select {
		case c := <-r.completions:
			r.inflight--
			delete(r.running, c.nodeID)
			r.handle(ctx, c)
		case <-ctx.Done():
			if r.ctxErr == nil {
				r.ctxErr = ctx.Err()
			}
			r.logger.Warn("run cancelled, abandoning running nodes", "error", r.ctxErr, "running", r.inflight)
			r.abandon()
			return
		}
	}
}

// abandon stops waiting for the nodes still running. Their completions are
// received and dropped in the background so the workers can exit.
func (r *run) abandon() {
	for id := range r.running {
		r.statuses[id] = types.StatusFailed
	}
	n, completions := r.inflight, r.completions
	r.inflight = 0
	go func() {
		for i := 0; i < n; i++ {
			<-completions
		}
	}()
}

// frozen reports whether no new node may be dispatched.
func (r *run) frozen() bool {
	return r.failErr != nil || r.suspension != nil || r.endReached || r.ctxErr != nil
}

func (r *run) dispatchReady(ctx context.Context) {
	for !r.frozen() && len(r.ready) > 0 {
		if err := ctx.Err(); err != nil {
			r.ctxErr = err
			return
		}
		if r.e.maxConcurrency > 0 && r.inflight >= r.e.maxConcurrency {
			return
		}

		id := r.ready[0]
		r.ready = r.ready[1:]
		delete(r.queued, id)
		r.dispatch(ctx, id)
	}
}

func (r *run) dispatch(ctx context.Context, id string) {
	node, ok := r.cg.Node(id)
	if !ok {
		r.fail(id, NewExecutionError("dispatch", id, fmt.Errorf("%w: unknown node", graph.ErrNodeNotFound)))
		return
	}

	r.iterations++
	if limit := r.maxIterations(); r.iterations > limit {
		r.fail(id, NewExecutionError("dispatch", id, fmt.Errorf("%w: limit %d", ErrMaxIterations, limit)))
		return
	}
	r.executions[id]++
	if limit := r.maxExecutions(node); r.executions[id] > limit {
		r.fail(id, NewExecutionError("dispatch", id, fmt.Errorf("%w: limit %d", ErrMaxExecutions, limit)))
		return
	}

	res := r.resolutions[id]
	delete(r.resolutions, id)
	in := r.resolveInputs(id, res)
	r.statuses[id] = types.StatusRunning
	r.logger.Debug("dispatching node", "node_id", id, "type", node.Type, "execution", r.executions[id])

	switch node.Type {
	case graph.NodeTypeStart:
		r.handle(ctx, completion{nodeID: id, result: types.Success(graph.CopyValues(r.inputs))})
		return
	case graph.NodeTypeEnd:
		r.handle(ctx, completion{nodeID: id, result: types.Success(in.All())})
		return
	}

	if err := node.InputSchema.Validate(in.All()); err != nil {
		r.handle(ctx, completion{nodeID: id, result: types.FatalFailure(err)})
		return
	}

	var (
		h   types.Handler
		sub *graph.CompiledGraph
	)
	switch node.Type {
	case graph.NodeTypeSubGraph:
		if sub = r.resolveSubGraph(node); sub == nil {
			r.fail(id, NewExecutionError("resolve subgraph", id, fmt.Errorf("%w: %q", ErrSubGraphNotFound, node.SubGraphRef)))
			return
		}
	default:
		if r.e.handlers != nil {
			h, ok = r.e.handlers.Resolve(node.HandlerName)
		}
		if h == nil || !ok {
			r.fail(id, NewExecutionError("resolve handler", id, fmt.Errorf("%w: %q", ErrHandlerNotFound, node.HandlerName)))
			return
		}
	}

	subCP := r.subs[id]
	delete(r.subs, id)

	r.inflight++
	r.running[id] = true
	go func() {
		r.completions <- r.work(ctx, node, h, sub, in, res, subCP)
	}()
}

func (r *run) resolveSubGraph(node *graph.Node) *graph.CompiledGraph {
	if sub, ok := r.cg.SubGraph(node.ID); ok {
		return sub
	}
	if node.SubGraphRef == "" || r.e.graphs == nil {
		return nil
	}
	sub, ok := r.e.graphs.GetGraph(node.SubGraphRef)
	if !ok {
		return nil
	}
	return sub
}

// resolveInputs merges the values delivered on id's incoming edges in edge
// order, so later edges win on key collisions.
func (r *run) resolveInputs(id string, res *types.Resolution) types.Inputs {
	b := types.NewInputsBuilder()
	for _, e := range r.cg.Incoming(id) {
		v, ok := r.channels.Get(e.Channel())
		if !ok {
			continue
		}
		values, _ := v.(map[string]any)
		b.Add(e.From, e.ToPort, values)
	}
	b.WithResolution(res)
	return b.Build()
}

func (r *run) handle(ctx context.Context, c completion) {
	node, _ := r.cg.Node(c.nodeID)
	r.isolated = append(r.isolated, c.isolated...)

	if r.endReached {
		r.statuses[c.nodeID] = statusOf(c.result)
		r.logger.Debug("node finished after exit", "node_id", c.nodeID, "result", c.result.Kind)
		return
	}

	switch c.result.Kind {
	case types.ResultSuccess:
		r.succeed(ctx, node, c.result)
	case types.ResultFailure:
		r.failNode(ctx, node, c.result)
	case types.ResultSuspended:
		r.suspend(node, c)
	}
}

func statusOf(res types.NodeExecutionResult) types.NodeExecutionStatus {
	switch res.Kind {
	case types.ResultSuccess:
		return types.StatusCompleted
	case types.ResultSuspended:
		return types.StatusSuspended
	default:
		return types.StatusFailed
	}
}

func (r *run) succeed(ctx context.Context, node *graph.Node, res types.NodeExecutionResult) {
	for _, p := range res.EmittedPorts() {
		if p < 0 || p >= node.Ports() {
			r.failNode(ctx, node, types.FatalFailure(fmt.Errorf("%w: port %d of %d", ErrInvalidPort, p, node.Ports())))
			return
		}
	}

	outputs := res.Outputs
	if outputs == nil {
		outputs = make(map[string]any)
	}
	r.statuses[node.ID] = types.StatusCompleted
	r.channels.Set(nodeChannel(node.ID), outputs)

	if node.ID == r.cg.ExitNodeID() {
		r.endReached = true
		r.finalOutputs = outputs
		return
	}

	r.propagate(node, res)

	if node.EnableCheckpointing && r.e.store != nil && !r.nested && !r.frozen() {
		r.saveProgress(ctx)
	}
}

// failNode applies the node's error policy to a failure that will not be retried.
func (r *run) failNode(ctx context.Context, node *graph.Node, res types.NodeExecutionResult) {
	if r.ctxErr != nil || ctx.Err() != nil {
		r.statuses[node.ID] = types.StatusFailed
		return
	}

	switch node.ErrorPolicy {
	case graph.ErrorSuppress:
		r.logger.Warn("node failure suppressed", "node_id", node.ID, "error", res.Err)
		r.succeed(ctx, node, types.Success(map[string]any{}))
	case graph.ErrorIsolate:
		r.logger.Warn("node failure isolated", "node_id", node.ID, "error", res.Err)
		r.statuses[node.ID] = types.StatusFailed
		r.isolated = append(r.isolated, types.IsolatedFailure{NodeID: node.ID, Error: res.Err.Error()})
		for _, succ := range r.cg.Successors(node.ID) {
			r.signal(succ, node.ID, reportFailed)
		}
	default:
		r.fail(node.ID, NewExecutionError("execute", node.ID, res.Err))
	}
}

// fail stops dispatching and records the first run failure.
func (r *run) fail(id string, err error) {
	r.statuses[id] = types.StatusFailed
	if r.failErr != nil {
		return
	}
	r.failErr = err
	r.failedNode = id
	r.logger.Error("node failed, halting run", "node_id", id, "error", err)
}

func (r *run) suspend(node *graph.Node, c completion) {
	// The resumed run invokes the node again; the suspended invocation does
	// not count against the bounds.
	r.executions[node.ID]--
	r.iterations--

	if r.suspension == nil {
		r.suspension = &c
		r.statuses[node.ID] = types.StatusSuspended
		if c.sub != nil {
			r.subs[node.ID] = c.sub
		}
		r.logger.Info("node suspended", "node_id", node.ID, "token", c.result.Token, "kind", c.result.SuspensionKind)
		return
	}

	r.statuses[node.ID] = types.StatusReady
	r.requeue = append(r.requeue, node.ID)
	r.logger.Debug("node suspended while run is suspending, requeued", "node_id", node.ID)
}

func (r *run) outcome(ctx context.Context) *types.RunOutcome {
	out := &types.RunOutcome{
		RunID:          r.id,
		GraphID:        r.cg.ID(),
		Isolated:       r.isolated,
		NodeStatuses:   copyMap(r.statuses),
		NodeExecutions: copyMap(r.executions),
		Duration:       time.Since(r.started),
	}

	switch {
	case r.endReached:
		out.Status = types.RunCompleted
		out.Outputs = r.finalOutputs
		r.clearCheckpoint(ctx)
	case r.failErr != nil:
		out.Status = types.RunFailed
		out.Err = r.failErr
		out.FailedNodeID = r.failedNode
	case r.suspension != nil:
		out.Status = types.RunSuspended
		out.Checkpoint = r.checkpoint(r.suspension)
		if r.e.store != nil && !r.nested {
			// Saved even when the caller already cancelled.
			if err := r.e.store.Save(context.WithoutCancel(ctx), out.Checkpoint); err != nil {
				out.Err = fmt.Errorf("failed to save checkpoint: %w", err)
				r.logger.Error("failed to save checkpoint", "error", err)
			}
		}
	case r.ctxErr != nil:
		if ctx.Err() == nil && errors.Is(r.ctxErr, context.DeadlineExceeded) {
			out.Status = types.RunTimedOut
			out.Err = NewExecutionError("run", "", fmt.Errorf("%w after %s", ErrTimeout, r.timeout()))
		} else {
			out.Status = types.RunFailed
			out.Err = NewExecutionError("run", "", r.ctxErr)
		}
	default:
		out.Status = types.RunFailed
		out.Err = NewExecutionError("run", "", ErrExitNotReached)
	}
	return out
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func nodeChannel(id string) string {
	return "node:" + id
}
