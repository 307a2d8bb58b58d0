package graph

import "time"

const (
	DefaultEntryNodeID = "START"
	DefaultExitNodeID  = "END"
)

// Graph is the plain description of a computation. It is produced by a builder
// and turned into an executable CompiledGraph by Compile.
type Graph struct {
	ID      string
	Name    string
	Version string

	Nodes []*Node
	Edges []*Edge

	// EntryNodeID and ExitNodeID default to START and END. Missing entry or exit
	// nodes are synthesized at compile time.
	EntryNodeID string
	ExitNodeID  string

	// MaxIterations bounds the total number of node dispatches in one run.
	// Zero means the engine default.
	MaxIterations    int
	ExecutionTimeout time.Duration
	CloningPolicy    CloningPolicy
	Metadata         map[string]any
}

// NewGraph creates an empty graph with the default entry and exit ids.
func NewGraph(id string) *Graph {
	return &Graph{
		ID:          id,
		Name:        id,
		EntryNodeID: DefaultEntryNodeID,
		ExitNodeID:  DefaultExitNodeID,
	}
}

// AddNode appends nodes in declaration order.
func (g *Graph) AddNode(nodes ...*Node) *Graph {
	g.Nodes = append(g.Nodes, nodes...)
	return g
}

// AddEdge appends edges in declaration order.
func (g *Graph) AddEdge(edges ...*Edge) *Graph {
	g.Edges = append(g.Edges, edges...)
	return g
}

// Connect appends an always-firing edge from -> to.
func (g *Graph) Connect(from, to string) *Graph {
	return g.AddEdge(NewEdge(from, to))
}

func (g *Graph) entryID() string {
	if g.EntryNodeID == "" {
		return DefaultEntryNodeID
	}
	return g.EntryNodeID
}

func (g *Graph) exitID() string {
	if g.ExitNodeID == "" {
		return DefaultExitNodeID
	}
	return g.ExitNodeID
}

// Compile validates the graph and returns its immutable indexed form.
func (g *Graph) Compile() (*CompiledGraph, error) {
	return compile(g, make(map[*Graph]bool))
}
