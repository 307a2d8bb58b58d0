package graph

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileSynthesizesStartAndEnd(t *testing.T) {
	t.Parallel()

	t.Run("absent entry and exit are synthesized", func(t *testing.T) {
		g := NewGraph("g").
			AddNode(NewNode("a", "h"), NewNode("b", "h"), NewNode("c", "h")).
			Connect("a", "c").
			Connect("b", "c")

		cg, err := g.Compile()
		require.NoError(t, err)

		start, end := cg.Synthesized()
		assert.True(t, start)
		assert.True(t, end)

		entry, ok := cg.Node(DefaultEntryNodeID)
		require.True(t, ok)
		assert.Equal(t, NodeTypeStart, entry.Type)
		assert.Equal(t, []string{"a", "b"}, cg.Successors(DefaultEntryNodeID), "roots are fed by the entry")
		assert.Equal(t, []string{"c"}, cg.Predecessors(DefaultExitNodeID), "sinks feed the exit")
		assert.Equal(t, ConditionUpstreamAllDone, cg.JoinType(DefaultExitNodeID))
		assert.Equal(t, []string{"START", "a", "b", "c", "END"}, cg.NodeIDs())
	})

	t.Run("declared entry and exit are kept", func(t *testing.T) {
		g := NewGraph("g").
			AddNode(&Node{ID: "START", Type: NodeTypeStart}, NewNode("a", "h"), &Node{ID: "END", Type: NodeTypeEnd}).
			Connect("START", "a").
			Connect("a", "END")

		cg, err := g.Compile()
		require.NoError(t, err)

		start, end := cg.Synthesized()
		assert.False(t, start)
		assert.False(t, end)
		assert.Len(t, cg.Edges(), 2)
		assert.Equal(t, ConditionAlways, cg.JoinType("END"))
	})

	t.Run("custom ids", func(t *testing.T) {
		g := &Graph{ID: "g", EntryNodeID: "in", ExitNodeID: "out"}
		g.AddNode(NewNode("a", "h"))

		cg, err := g.Compile()
		require.NoError(t, err)
		assert.Equal(t, "in", cg.EntryNodeID())
		assert.Equal(t, "out", cg.ExitNodeID())
		assert.Equal(t, []string{"a"}, cg.Successors("in"))
		assert.Equal(t, []string{"a"}, cg.Predecessors("out"))
	})

	t.Run("empty graph connects entry to exit", func(t *testing.T) {
		cg, err := NewGraph("empty").Compile()
		require.NoError(t, err)
		assert.Equal(t, []string{DefaultExitNodeID}, cg.Successors(DefaultEntryNodeID))
	})

	t.Run("synthesized exit adopts declared edge condition", func(t *testing.T) {
		g := NewGraph("g").
			AddNode(NewNode("a", "h"), NewNode("b", "h")).
			Connect("a", "END")

		cg, err := g.Compile()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, cg.Predecessors("END"))
		assert.Equal(t, ConditionAlways, cg.JoinType("END"))
	})
}

func TestCompileOrdersEdgesByPriority(t *testing.T) {
	t.Parallel()

	g := NewGraph("g").AddNode(NewNode("src", "h"), NewNode("x", "h"), NewNode("y", "h"), NewNode("z", "h"))
	g.AddEdge(
		&Edge{From: "src", To: "x", Priority: 2},
		&Edge{From: "src", To: "y", Priority: 1},
		&Edge{From: "src", To: "z", Priority: 1},
	)

	cg, err := g.Compile()
	require.NoError(t, err)

	var order []string
	for _, e := range cg.Outgoing("src") {
		order = append(order, e.To)
	}
	assert.Equal(t, []string{"y", "z", "x"}, order)
}

func TestCompileValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		graph   *Graph
		wantErr error
	}{
		{
			name:    "nil graph",
			graph:   nil,
			wantErr: ErrNilGraph,
		},
		{
			name:    "duplicate node",
			graph:   NewGraph("g").AddNode(NewNode("a", "h"), NewNode("a", "h")),
			wantErr: ErrDuplicateNode,
		},
		{
			name:    "unknown edge target",
			graph:   NewGraph("g").AddNode(NewNode("a", "h")).Connect("a", "ghost"),
			wantErr: ErrNodeNotFound,
		},
		{
			name:    "entry of wrong type",
			graph:   NewGraph("g").AddNode(NewNode("START", "h"), NewNode("a", "h")).Connect("START", "a"),
			wantErr: ErrInvalidEntry,
		},
		{
			name:    "exit of wrong type",
			graph:   NewGraph("g").AddNode(NewNode("a", "h"), NewNode("END", "h")).Connect("a", "END"),
			wantErr: ErrInvalidExit,
		},
		{
			name: "duplicate edge",
			graph: NewGraph("g").AddNode(NewNode("a", "h"), NewNode("b", "h")).
				Connect("a", "b").Connect("a", "b"),
			wantErr: ErrDuplicateEdge,
		},
		{
			name: "conflicting upstream conditions",
			graph: NewGraph("g").AddNode(NewNode("a", "h"), NewNode("b", "h"), NewNode("j", "h")).
				AddEdge(
					&Edge{From: "a", To: "j", Condition: AllDone()},
					&Edge{From: "b", To: "j", Condition: OneSuccess()},
				),
			wantErr: ErrConflictingConditions,
		},
		{
			name: "upstream mixed with always",
			graph: NewGraph("g").AddNode(NewNode("a", "h"), NewNode("b", "h"), NewNode("j", "h")).
				AddEdge(
					&Edge{From: "a", To: "j", Condition: AllDone()},
					&Edge{From: "b", To: "j"},
				),
			wantErr: ErrConflictingConditions,
		},
		{
			name:    "negative port count",
			graph:   NewGraph("g").AddNode(NewRouter("r", "h", -1)),
			wantErr: ErrInvalidPortNum,
		},
		{
			name: "from port out of range",
			graph: NewGraph("g").AddNode(NewRouter("r", "h", 2), NewNode("a", "h")).
				AddEdge(&Edge{From: "r", To: "a", FromPort: 2}),
			wantErr: ErrInvalidPort,
		},
		{
			name:    "handler without name",
			graph:   NewGraph("g").AddNode(&Node{ID: "a"}),
			wantErr: ErrMissingHandler,
		},
		{
			name:    "subgraph without target",
			graph:   NewGraph("g").AddNode(&Node{ID: "s", Type: NodeTypeSubGraph}),
			wantErr: ErrMissingSubGraph,
		},
		{
			name: "invalid expression",
			graph: NewGraph("g").AddNode(NewNode("a", "h"), NewNode("b", "h")).
				AddEdge(&Edge{From: "a", To: "b", Condition: WhenExpr("output.x >")}),
			wantErr: ErrInvalidCondition,
		},
		{
			name: "when without predicate",
			graph: NewGraph("g").AddNode(NewNode("a", "h"), NewNode("b", "h")).
				AddEdge(&Edge{From: "a", To: "b", Condition: EdgeCondition{Type: ConditionWhen}}),
			wantErr: ErrInvalidCondition,
		},
		{
			name: "suppress with all-done-one-success join",
			graph: NewGraph("g").
				AddNode(NewNode("a", "h"), NewNode("b", "h"), &Node{ID: "j", HandlerName: "h", ErrorPolicy: ErrorSuppress}).
				AddEdge(
					&Edge{From: "a", To: "j", Condition: AllDoneOneSuccess()},
					&Edge{From: "b", To: "j", Condition: AllDoneOneSuccess()},
				),
			wantErr: ErrConflictingPolicy,
		},
		{
			name:    "edge into entry",
			graph:   NewGraph("g").AddNode(NewNode("a", "h")).Connect("START", "a").Connect("a", "START"),
			wantErr: ErrInvalidEdge,
		},
		{
			name: "invalid embedded subgraph",
			graph: NewGraph("g").AddNode(
				NewSubGraphNode("s", NewGraph("child").AddNode(NewNode("x", "h"), NewNode("x", "h"))),
			),
			wantErr: ErrDuplicateNode,
		},
		{
			name:    "negative retry attempts",
			graph:   NewGraph("g").AddNode(&Node{ID: "a", HandlerName: "h", RetryPolicy: &RetryPolicy{MaxAttempts: -1}}),
			wantErr: ErrInvalidPolicy,
		},
		{
			name: "bad schema pattern",
			graph: NewGraph("g").AddNode(&Node{ID: "a", HandlerName: "h", InputSchema: &Schema{
				Properties: map[string]PropertySchema{"s": {Type: "string", Pattern: "("}},
			}}),
			wantErr: ErrInvalidNode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				cg  *CompiledGraph
				err error
			)
			if tt.graph == nil {
				var g *Graph
				cg, err = g.Compile()
			} else {
				cg, err = tt.graph.Compile()
			}
			require.Error(t, err)
			assert.Nil(t, cg)
			assert.ErrorIs(t, err, tt.wantErr)

			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestCompileKeepsSourceImmutable(t *testing.T) {
	t.Parallel()

	g := NewGraph("g").AddNode(NewNode("a", "h"))
	cg, err := g.Compile()
	require.NoError(t, err)

	g.Nodes[0].HandlerName = "changed"
	g.AddNode(NewNode("b", "h"))

	n, ok := cg.Node("a")
	require.True(t, ok)
	assert.Equal(t, "h", n.HandlerName)
	_, ok = cg.Node("b")
	assert.False(t, ok)
	assert.Empty(t, g.Edges, "synthesized edges are not written back")
}

func TestEdgeTaken(t *testing.T) {
	t.Parallel()

	g := NewGraph("g").AddNode(NewNode("a", "h"), NewNode("b", "h"), NewNode("c", "h"))
	g.AddEdge(
		&Edge{From: "a", To: "b", Condition: WhenExpr(`output.score >= 0.8`)},
		&Edge{From: "a", To: "c", Condition: When(func(out map[string]any) bool { return out["score"].(float64) < 0.8 })},
	)
	cg, err := g.Compile()
	require.NoError(t, err)

	edges := cg.Outgoing("a")
	require.Len(t, edges, 2)

	high := map[string]any{"score": 0.9}
	taken, err := edges[0].Taken(high)
	require.NoError(t, err)
	assert.True(t, taken)
	taken, err = edges[1].Taken(high)
	require.NoError(t, err)
	assert.False(t, taken)

	assert.Equal(t, "edge:a[0]->b[0]", edges[0].Channel())
}

func TestCloningResolution(t *testing.T) {
	t.Parallel()

	g := NewGraph("g").AddNode(NewNode("a", "h"), NewNode("b", "h"), NewNode("c", "h"))
	g.AddEdge(&Edge{From: "a", To: "b"}, &Edge{From: "a", To: "c", Cloning: NeverClone})

	cg, err := g.Compile()
	require.NoError(t, err)
	edges := cg.Outgoing("a")
	assert.Equal(t, LazyClone, cg.Cloning(edges[0]))
	assert.Equal(t, NeverClone, cg.Cloning(edges[1]))

	g.CloningPolicy = AlwaysClone
	cg, err = g.Compile()
	require.NoError(t, err)
	edges = cg.Outgoing("a")
	assert.Equal(t, AlwaysClone, cg.Cloning(edges[0]))
	assert.Equal(t, NeverClone, cg.Cloning(edges[1]), "edge override wins")
}

func TestPrintGraph(t *testing.T) {
	t.Parallel()

	g := NewGraph("g").AddNode(NewNode("a", "h"), NewNode("b", "h"))
	g.AddEdge(&Edge{From: "a", To: "b", Condition: WhenExpr(`output.ok`)})
	cg, err := g.Compile()
	require.NoError(t, err)

	var buf bytes.Buffer
	cg.PrintGraph(&buf)
	out := buf.String()
	assert.Contains(t, out, "Entry Point: START")
	assert.Contains(t, out, "a:0 --[when output.ok]--> b:0")
	assert.Contains(t, out, "END (Exit)")
}
