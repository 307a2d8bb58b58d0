package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/avi3tal/graphengine/pkg/cache"
	"github.com/avi3tal/graphengine/pkg/graph"
	"github.com/avi3tal/graphengine/pkg/types"
)

// work runs one dispatched node to a final result. It runs on its own
// goroutine and must not touch coordinator state.
func (r *run) work(ctx context.Context, node *graph.Node, h types.Handler, sub *graph.CompiledGraph,
	in types.Inputs, res *types.Resolution, subCP *types.Checkpoint) completion {
	start := time.Now()

	var c completion
	if sub != nil {
		c = r.runSubGraph(ctx, node, sub, in, res, subCP)
	} else {
		c = r.runHandler(ctx, node, h, in)
	}
	c.nodeID = node.ID

	r.e.metrics.observeNode(r.cg.ID(), node.ID, c.result.Kind, time.Since(start))
	r.logger.Debug("node finished",
		"node_id", node.ID,
		"result", c.result.Kind,
		"attempts", c.attempts,
		"cached", c.cached,
		"duration", time.Since(start))
	return c
}

func (r *run) runHandler(ctx context.Context, node *graph.Node, h types.Handler, in types.Inputs) completion {
	key := r.cacheKey(node, in)
	if key != "" {
		entry, ok, err := r.e.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn("result cache lookup failed", "node_id", node.ID, "error", err)
		} else if ok {
			result := types.SuccessOnPorts(entry.Outputs, entry.Ports...)
			result.PortOutputs = entry.PortOutputs
			return completion{result: result, cached: true}
		}
	}

	result, attempts := r.retry(ctx, node, h, in)

	if key != "" && result.IsSuccess() {
		entry := &cache.Entry{Outputs: result.Outputs, Ports: result.Ports, PortOutputs: result.PortOutputs}
		if err := r.e.cache.Set(ctx, key, entry, node.Cache.TTL); err != nil {
			r.logger.Warn("result cache store failed", "node_id", node.ID, "error", err)
		}
	}
	return completion{result: result, attempts: attempts}
}

// cacheKey returns the result cache key of an invocation, or "" when the node
// is not cached.
func (r *run) cacheKey(node *graph.Node, in types.Inputs) string {
	if r.e.cache == nil || !node.Cache.Enabled() {
		return ""
	}
	if _, resumed := in.Resolution(); resumed {
		return ""
	}
	key, err := cache.Key(r.cg.ID(), node.ID, node.HandlerName, in.All())
	if err != nil {
		r.logger.Warn("inputs are not cacheable", "node_id", node.ID, "error", err)
		return ""
	}
	return key
}

// retry invokes h until it succeeds, suspends, fails fatally or runs out of
// attempts.
func (r *run) retry(ctx context.Context, node *graph.Node, h types.Handler, in types.Inputs) (types.NodeExecutionResult, int) {
	attempts := node.RetryPolicy.Attempts()
	for attempt := 1; ; attempt++ {
		result := r.invoke(ctx, node, h, in, attempt)
		if result.IsSuspended() && node.Suspension.Mode == graph.SuspendActiveWait {
			result = r.awaitResolution(ctx, node, h, in, attempt, result)
		}
		if !result.IsFailure() || !result.IsTransient || attempt >= attempts || ctx.Err() != nil {
			return result, attempt
		}

		delay := node.RetryPolicy.Backoff(attempt)
		r.e.metrics.observeRetry(r.cg.ID(), node.ID)
		r.logger.Warn("transient node failure, retrying",
			"node_id", node.ID,
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
			"error", result.Err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, attempt
		case <-timer.C:
		}
	}
}

// awaitResolution blocks a suspended invocation until a resolution for its
// token arrives or the wait times out, and re-invokes the handler with it.
func (r *run) awaitResolution(ctx context.Context, node *graph.Node, h types.Handler, in types.Inputs,
	attempt int, result types.NodeExecutionResult) types.NodeExecutionResult {
	for result.IsSuspended() {
		if node.Suspension.Timeout <= 0 {
			return result
		}

		ch, stop := r.e.waiters.register(result.Token)
		timer := time.NewTimer(node.Suspension.Timeout)
		r.logger.Info("node waiting for resolution", "node_id", node.ID, "token", result.Token, "timeout", node.Suspension.Timeout)

		var (
			res      types.Resolution
			resolved bool
		)
		select {
		case res = <-ch:
			resolved = true
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
		stop()

		if !resolved {
			r.logger.Info("no resolution received, suspending", "node_id", node.ID, "token", result.Token)
			return result
		}
		result = r.invoke(ctx, node, h, in.WithResolution(&res), attempt)
	}
	return result
}

// invoke calls the handler once, converting panics into fatal failures.
func (r *run) invoke(ctx context.Context, node *graph.Node, h types.Handler, in types.Inputs, attempt int) (result types.NodeExecutionResult) {
	if node.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, node.Timeout)
		defer cancel()
	}
	ec := &types.ExecutionContext{
		RunID:    r.id,
		GraphID:  r.cg.ID(),
		NodeID:   node.ID,
		Attempt:  attempt,
		Channels: r.channels,
		Logger:   r.logger.With("node_id", node.ID, "attempt", attempt),
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked", "node_id", node.ID, "panic", p, "stack", string(debug.Stack()))
			result = types.FatalFailure(fmt.Errorf("%w: %v", ErrHandlerPanic, p))
		}
		result = normalize(result)
		result.Duration = time.Since(start)
	}()

	return h.Execute(ctx, ec, in)
}

// normalize repairs or rejects results a handler filled in incompletely.
func normalize(result types.NodeExecutionResult) types.NodeExecutionResult {
	switch result.Kind {
	case types.ResultSuccess:
	case types.ResultFailure:
		if result.Err == nil {
			result.Err = errors.New("node failed without an error")
		}
		if result.Severity == "" {
			result.Severity = types.SeverityFatal
			if result.IsTransient {
				result.Severity = types.SeverityTransient
			}
		}
	case types.ResultSuspended:
		if result.Token == "" {
			result.Token = uuid.NewString()
		}
	default:
		return types.FatalFailure(fmt.Errorf("%w: unknown kind %s", ErrInvalidResult, result.Kind))
	}
	return result
}

// runSubGraph runs sub as a nested run, resuming it from subCP when the parent
// is resumed.
func (r *run) runSubGraph(ctx context.Context, node *graph.Node, sub *graph.CompiledGraph,
	in types.Inputs, res *types.Resolution, subCP *types.Checkpoint) completion {
	child := r.e.newRun(sub, r.id+"/"+node.ID, in.All(), true)
	if subCP != nil {
		if res == nil {
			res = &types.Resolution{Token: subCP.Token}
		}
		if err := child.restore(subCP, res); err != nil {
			return completion{result: types.FatalFailure(NewExecutionError("resume subgraph", node.ID, err)), attempts: 1}
		}
	} else {
		child.enqueue(sub.EntryNodeID())
	}

	out := child.execute(ctx)
	c := completion{attempts: 1, isolated: out.Isolated}
	switch out.Status {
	case types.RunCompleted:
		c.result = types.Success(out.Outputs)
	case types.RunSuspended:
		cp := out.Checkpoint
		c.result = types.Suspend(cp.Token, cp.Message, cp.Kind)
		c.sub = cp
	default:
		err := out.Err
		if err == nil {
			err = fmt.Errorf("subgraph run %s", out.Status)
		}
		c.result = types.FatalFailure(NewExecutionError("subgraph", node.ID, err))
	}
	return c
}
