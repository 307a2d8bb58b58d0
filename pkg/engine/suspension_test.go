package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avi3tal/graphengine/pkg/checkpoints"
	"github.com/avi3tal/graphengine/pkg/graph"
	"github.com/avi3tal/graphengine/pkg/registry"
	"github.com/avi3tal/graphengine/pkg/types"
)

// approval suspends until it is resumed with a resolution, then appends "!"
// to the text input and records the decision.
func approval() types.Handler {
	return types.HandlerFunc(func(_ context.Context, ec *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
		res, ok := in.Resolution()
		if !ok {
			return types.Suspend("tok-"+ec.NodeID, "approve "+ec.NodeID, types.SuspensionApproval)
		}
		text, _ := in.Get("text")
		return types.Success(map[string]any{"text": text.(string) + "!", "approved": res.Approved})
	})
}

// autoApproval behaves like an approval that was granted right away.
func autoApproval() types.Handler {
	return types.HandlerFunc(func(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
		text, _ := in.Get("text")
		return types.Success(map[string]any{"text": text.(string) + "!", "approved": true})
	})
}

func upper() types.Handler {
	return types.HandlerFunc(func(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
		out := in.All()
		out["text"] = strings.ToUpper(out["text"].(string))
		return types.Success(out)
	})
}

func approvalGraph(version string) *graph.Graph {
	g := graph.NewGraph("approval").
		AddNode(graph.NewNode("draft", "draft"), graph.NewNode("approve", "approve"), graph.NewNode("publish", "upper")).
		Connect("draft", "approve").
		Connect("approve", "publish")
	g.Version = version
	return g
}

func approvalHandlers(approve types.Handler) handlerMap {
	return handlerMap{
		"draft":   constant(map[string]any{"text": "hello"}),
		"approve": approve,
		"upper":   upper(),
	}
}

func TestSuspendAndResume(t *testing.T) {
	t.Parallel()

	cg := mustCompile(t, approvalGraph("v1"))
	store := checkpoints.NewMemoryStore()
	eng := newTestEngine(approvalHandlers(approval()), WithCheckpointStore(store))
	ctx := context.Background()

	out, err := eng.Execute(ctx, cg, nil, WithRunID("run-1"))
	require.NoError(t, err)
	require.Equal(t, types.RunSuspended, out.Status, out.Err)
	require.NoError(t, out.Err)

	cp := out.Checkpoint
	require.NotNil(t, cp)
	assert.Equal(t, "approve", cp.NodeID)
	assert.Equal(t, "tok-approve", cp.Token)
	assert.Equal(t, "approve approve", cp.Message)
	assert.Equal(t, types.SuspensionApproval, cp.Kind)
	assert.Equal(t, "v1", cp.GraphVersion)
	assert.Equal(t, []string{"approve"}, cp.Ready)
	assert.Equal(t, types.StatusSuspended, out.NodeStatuses["approve"])
	assert.Equal(t, types.StatusPending, out.NodeStatuses["publish"])

	stored, err := store.Load(ctx, cp.Key())
	require.NoError(t, err)
	assert.Equal(t, cp.ID, stored.ID)

	t.Run("wrong token", func(t *testing.T) {
		_, err := eng.ResumeGraph(ctx, cg, cp, types.Approve("tok-other"))
		assert.ErrorIs(t, err, ErrTokenMismatch)
	})

	t.Run("wrong graph version", func(t *testing.T) {
		_, err := eng.ResumeGraph(ctx, mustCompile(t, approvalGraph("v2")), cp, types.Approve(cp.Token))
		assert.ErrorIs(t, err, ErrGraphVersionMismatch)
	})

	t.Run("wrong graph", func(t *testing.T) {
		other := mustCompile(t, graph.NewGraph("other"))
		_, err := eng.ResumeGraph(ctx, other, cp, types.Approve(cp.Token))
		assert.ErrorIs(t, err, ErrGraphMismatch)
	})

	t.Run("nil checkpoint", func(t *testing.T) {
		_, err := eng.ResumeGraph(ctx, cg, nil, types.Resolution{})
		assert.ErrorIs(t, err, ErrNilCheckpoint)
	})

	// Resume from the encoded form, as a caller restoring from storage would.
	data, err := cp.Marshal()
	require.NoError(t, err)
	decoded, err := types.UnmarshalCheckpoint(data)
	require.NoError(t, err)

	resumed, err := eng.ResumeGraph(ctx, cg, decoded, types.Approve(cp.Token))
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, resumed.Status, resumed.Err)
	assert.Equal(t, "run-1", resumed.RunID)
	assert.Equal(t, 1, resumed.NodeExecutions["draft"])
	assert.Equal(t, 1, resumed.NodeExecutions["approve"])
	assert.Equal(t, 1, resumed.NodeExecutions["publish"])

	_, err = store.Load(ctx, cp.Key())
	assert.ErrorIs(t, err, types.ErrCheckpointNotFound, "completed runs drop their checkpoint")

	// A run that never suspended ends in the same place.
	direct, err := newTestEngine(approvalHandlers(autoApproval())).Execute(ctx, cg, nil)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, direct.Status, direct.Err)
	assert.Equal(t, direct.Outputs, resumed.Outputs)
	assert.Equal(t, map[string]any{"text": "HELLO!", "approved": true}, resumed.Outputs)
}

func TestResumeThroughRegistry(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	require.NoError(t, reg.RegisterGraph("approval", approvalGraph("v1")))
	cg, ok := reg.GetGraph("approval")
	require.True(t, ok)

	eng := newTestEngine(approvalHandlers(approval()), WithGraphs(reg))
	out, err := eng.Execute(context.Background(), cg, nil)
	require.NoError(t, err)
	require.Equal(t, types.RunSuspended, out.Status)

	resumed, err := eng.Resume(context.Background(), out.Checkpoint, types.Deny(out.Checkpoint.Token))
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, resumed.Status, resumed.Err)
	assert.Equal(t, false, resumed.Outputs["approved"])

	reg.UnregisterGraph("approval")
	_, err = eng.Resume(context.Background(), out.Checkpoint, types.Approve(out.Checkpoint.Token))
	assert.ErrorIs(t, err, ErrGraphNotFound)
}

func TestSuspensionRequeuesOtherSuspensions(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("two-approvals").
		AddNode(graph.NewNode("draft", "draft"), graph.NewNode("legal", "approve"), graph.NewNode("finance", "approve")).
		Connect("draft", "legal").
		Connect("draft", "finance")
	cg := mustCompile(t, g)
	eng := newTestEngine(approvalHandlers(approval()), WithMaxConcurrency(1))
	ctx := context.Background()

	out, err := eng.Execute(ctx, cg, nil)
	require.NoError(t, err)
	require.Equal(t, types.RunSuspended, out.Status)
	assert.Equal(t, "tok-legal", out.Checkpoint.Token)
	assert.Equal(t, []string{"legal", "finance"}, out.Checkpoint.Ready)

	out, err = eng.ResumeGraph(ctx, cg, out.Checkpoint, types.Approve("tok-legal"))
	require.NoError(t, err)
	require.Equal(t, types.RunSuspended, out.Status)
	assert.Equal(t, "tok-finance", out.Checkpoint.Token)
	assert.Equal(t, types.StatusCompleted, out.NodeStatuses["legal"])

	out, err = eng.ResumeGraph(ctx, cg, out.Checkpoint, types.Approve("tok-finance"))
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, out.Status, out.Err)
	assert.Equal(t, map[string]any{"text": "hello!", "approved": true}, out.Outputs)
}

func TestConcurrentSuspensionsAreRequeued(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("parallel-approvals").
		AddNode(graph.NewNode("draft", "draft"), graph.NewNode("legal", "approve"), graph.NewNode("finance", "approve")).
		Connect("draft", "legal").
		Connect("draft", "finance")
	cg := mustCompile(t, g)
	eng := newTestEngine(approvalHandlers(approval()))
	ctx := context.Background()

	out, err := eng.Execute(ctx, cg, nil)
	require.NoError(t, err)
	require.Equal(t, types.RunSuspended, out.Status)
	require.ElementsMatch(t, []string{"legal", "finance"}, out.Checkpoint.Ready)

	for out.Status == types.RunSuspended {
		out, err = eng.ResumeGraph(ctx, cg, out.Checkpoint, types.Approve(out.Checkpoint.Token))
		require.NoError(t, err)
	}
	require.Equal(t, types.RunCompleted, out.Status, out.Err)
	assert.Equal(t, 1, out.NodeExecutions["legal"])
	assert.Equal(t, 1, out.NodeExecutions["finance"])
}

func TestActiveWait(t *testing.T) {
	t.Parallel()

	build := func(timeout time.Duration) *graph.CompiledGraph {
		n := graph.NewNode("approve", "approve")
		n.Suspension = graph.ActiveWait(timeout)
		g := graph.NewGraph("active").
			AddNode(graph.NewNode("draft", "draft"), n).
			Connect("draft", "approve")
		return mustCompile(t, g)
	}

	t.Run("resolved while waiting", func(t *testing.T) {
		eng := newTestEngine(approvalHandlers(approval()))

		resolved := make(chan bool, 1)
		go func() {
			deadline := time.Now().Add(5 * time.Second)
			for !eng.Waiting("tok-approve") {
				if time.Now().After(deadline) {
					resolved <- false
					return
				}
				time.Sleep(time.Millisecond)
			}
			resolved <- eng.Resolve("tok-approve", types.Resolution{Approved: true})
		}()

		out, err := eng.Execute(context.Background(), build(10*time.Second), nil)
		require.NoError(t, err)
		require.True(t, <-resolved)
		require.Equal(t, types.RunCompleted, out.Status, out.Err)
		assert.Equal(t, map[string]any{"text": "hello!", "approved": true}, out.Outputs)
		assert.False(t, eng.Waiting("tok-approve"))
	})

	t.Run("falls back to suspension", func(t *testing.T) {
		eng := newTestEngine(approvalHandlers(approval()))
		out, err := eng.Execute(context.Background(), build(20*time.Millisecond), nil)
		require.NoError(t, err)
		require.Equal(t, types.RunSuspended, out.Status)
		assert.Equal(t, "tok-approve", out.Checkpoint.Token)
		assert.False(t, eng.Waiting("tok-approve"))
	})

	t.Run("nobody waiting", func(t *testing.T) {
		assert.False(t, newTestEngine(nil).Resolve("tok-none", types.Approve("tok-none")))
	})
}

func TestSubGraphSuspension(t *testing.T) {
	t.Parallel()

	inner := graph.NewGraph("review").
		AddNode(graph.NewNode("approve", "approve"))
	outer := graph.NewGraph("pipeline").
		AddNode(graph.NewNode("draft", "draft"), graph.NewSubGraphNode("review", inner), graph.NewNode("publish", "upper")).
		Connect("draft", "review").
		Connect("review", "publish")
	cg := mustCompile(t, outer)
	eng := newTestEngine(approvalHandlers(approval()))
	ctx := context.Background()

	out, err := eng.Execute(ctx, cg, nil)
	require.NoError(t, err)
	require.Equal(t, types.RunSuspended, out.Status, out.Err)

	cp := out.Checkpoint
	assert.Equal(t, "review", cp.NodeID)
	assert.Equal(t, "tok-approve", cp.Token)
	require.Contains(t, cp.SubCheckpoints, "review")
	sub := cp.SubCheckpoints["review"]
	assert.Equal(t, "review", sub.GraphID)
	assert.Equal(t, "approve", sub.NodeID)

	data, err := cp.Marshal()
	require.NoError(t, err)
	decoded, err := types.UnmarshalCheckpoint(data)
	require.NoError(t, err)

	resumed, err := eng.ResumeGraph(ctx, cg, decoded, types.Approve("tok-approve"))
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, resumed.Status, resumed.Err)
	assert.Equal(t, map[string]any{"text": "HELLO!", "approved": true}, resumed.Outputs)
	assert.Equal(t, 1, resumed.NodeExecutions["draft"])
}

func TestProgressCheckpoints(t *testing.T) {
	t.Parallel()

	draft := graph.NewNode("draft", "draft")
	draft.EnableCheckpointing = true
	g := graph.NewGraph("progress").
		AddNode(draft, graph.NewNode("publish", "publish")).
		Connect("draft", "publish")
	reg := registry.New()
	require.NoError(t, reg.RegisterGraph("progress", g))
	cg, _ := reg.GetGraph("progress")

	var broken atomic.Bool
	broken.Store(true)
	var drafts atomic.Int32
	publish := types.HandlerFunc(func(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
		if broken.Load() {
			return types.FatalFailure(errors.New("publisher down"))
		}
		return upper().Execute(context.Background(), nil, in)
	})

	store := checkpoints.NewMemoryStore()
	eng := newTestEngine(handlerMap{
		"draft":   counting(&drafts, constant(map[string]any{"text": "hello"})),
		"publish": publish,
	}, WithCheckpointStore(store), WithGraphs(reg))
	ctx := context.Background()

	out, err := eng.Execute(ctx, cg, nil, WithRunID("run-7"))
	require.NoError(t, err)
	require.Equal(t, types.RunFailed, out.Status)

	cp, err := store.Load(ctx, types.CheckpointKey{GraphID: "progress", RunID: "run-7"})
	require.NoError(t, err)
	assert.True(t, cp.IsProgress())
	assert.Equal(t, []string{"publish"}, cp.Ready)
	assert.Equal(t, 0, cp.Executions["publish"])

	broken.Store(false)
	resumed, err := eng.Resume(ctx, cp, types.Resolution{})
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, resumed.Status, resumed.Err)
	assert.Equal(t, map[string]any{"text": "HELLO"}, resumed.Outputs)
	assert.Equal(t, int32(1), drafts.Load(), "completed work is not repeated")

	_, err = store.Load(ctx, cp.Key())
	assert.ErrorIs(t, err, types.ErrCheckpointNotFound)
}

func TestSuspendAfterLoop(t *testing.T) {
	t.Parallel()

	g := graph.NewGraph("loop-then-approve").
		AddNode(
			&graph.Node{ID: graph.DefaultEntryNodeID, Type: graph.NodeTypeStart},
			graph.NewRouter("count", "count", 2),
			graph.NewNode("gate", "gate"),
		).
		Connect(graph.DefaultEntryNodeID, "count").
		AddEdge(
			&graph.Edge{From: "count", FromPort: 0, To: "count", Priority: 1},
			&graph.Edge{From: "count", FromPort: 1, To: "gate"},
		).
		Connect("gate", graph.DefaultExitNodeID)
	cg := mustCompile(t, g)

	count := types.HandlerFunc(func(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
		v, _ := in.Get("n")
		n := v.(int) + 1
		if n < 2 {
			return types.SuccessOnPorts(map[string]any{"n": n}, 0)
		}
		return types.SuccessOnPorts(map[string]any{"n": n}, 1)
	})
	gate := types.HandlerFunc(func(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
		res, ok := in.Resolution()
		if !ok {
			return types.Suspend("tok-gate", "continue?", types.SuspensionApproval)
		}
		n, _ := in.Get("n")
		return types.Success(map[string]any{"n": n, "approved": res.Approved})
	})
	eng := newTestEngine(handlerMap{"count": count, "gate": gate})
	ctx := context.Background()

	out, err := eng.Execute(ctx, cg, map[string]any{"n": 0})
	require.NoError(t, err)
	require.Equal(t, types.RunSuspended, out.Status, out.Err)
	assert.Equal(t, 2, out.NodeExecutions["count"])
	assert.Equal(t, 0, out.NodeExecutions["gate"])
	assert.Equal(t, []string{"gate"}, out.Checkpoint.Ready)

	out, err = eng.ResumeGraph(ctx, cg, out.Checkpoint, types.Approve("tok-gate"))
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, out.Status, out.Err)
	assert.Equal(t, map[string]any{"n": 2, "approved": true}, out.Outputs)
	assert.Equal(t, 2, out.NodeExecutions["count"])
	assert.Equal(t, 1, out.NodeExecutions["gate"])
}

func TestResumeFromEncodedCheckpoint(t *testing.T) {
	t.Parallel()

	// gate waits for a resolution and then passes its inputs on.
	gate := types.HandlerFunc(func(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
		if _, ok := in.Resolution(); !ok {
			return types.Suspend("tok-gate", "continue?", types.SuspensionApproval)
		}
		return types.Success(in.All())
	})
	g := graph.NewGraph("counter").
		AddNode(graph.NewNode("a", "inc"), graph.NewNode("gate", "gate"), graph.NewNode("b", "inc")).
		Connect("a", "gate").
		Connect("gate", "b")
	cg := mustCompile(t, g)
	ctx := context.Background()

	direct, err := newTestEngine(handlerMap{"inc": increment(), "gate": autoPass()}).
		Execute(ctx, cg, map[string]any{"n": 1})
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, direct.Status, direct.Err)
	require.Equal(t, map[string]any{"n": 3}, direct.Outputs)

	eng := newTestEngine(handlerMap{"inc": increment(), "gate": gate})
	out, err := eng.Execute(ctx, cg, map[string]any{"n": 1})
	require.NoError(t, err)
	require.Equal(t, types.RunSuspended, out.Status, out.Err)

	data, err := out.Checkpoint.Marshal()
	require.NoError(t, err)
	cp, err := types.UnmarshalCheckpoint(data)
	require.NoError(t, err)

	resumed, err := eng.ResumeGraph(ctx, cg, cp, types.Approve(cp.Token))
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, resumed.Status, resumed.Err)
	assert.Equal(t, direct.Outputs, resumed.Outputs)
}

// autoPass passes its inputs on unchanged.
func autoPass() types.Handler {
	return types.HandlerFunc(func(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
		return types.Success(in.All())
	})
}

func TestResumeGraphRegisteredWithoutID(t *testing.T) {
	t.Parallel()

	g := approvalGraph("v1")
	g.ID = ""
	reg := registry.New()
	require.NoError(t, reg.RegisterGraph("public-id", g))
	cg, ok := reg.GetGraph("public-id")
	require.True(t, ok)

	eng := newTestEngine(approvalHandlers(approval()), WithGraphs(reg))
	out, err := eng.Execute(context.Background(), cg, nil)
	require.NoError(t, err)
	require.Equal(t, types.RunSuspended, out.Status, out.Err)
	assert.Equal(t, "public-id", out.Checkpoint.GraphID)

	resumed, err := eng.Resume(context.Background(), out.Checkpoint, types.Approve(out.Checkpoint.Token))
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, resumed.Status, resumed.Err)
	assert.Equal(t, "HELLO!", resumed.Outputs["text"])
}
