package graph

import (
	"fmt"
	"sort"
	"time"
)

// CompiledGraph is the validated, indexed form of a Graph. It holds no run
// state and is safe to share across concurrent runs.
type CompiledGraph struct {
	id       string
	name     string
	version  string
	entry    string
	exit     string
	metadata map[string]any

	maxIterations    int
	executionTimeout time.Duration
	cloning          CloningPolicy

	nodes     map[string]*Node
	order     []string
	edges     []*Edge
	outgoing  map[string][]*Edge
	incoming  map[string][]*Edge
	preds     map[string][]string
	succs     map[string][]string
	joins     map[string]ConditionType
	subgraphs map[string]*CompiledGraph

	synthesizedStart bool
	synthesizedEnd   bool
}

func compile(g *Graph, visiting map[*Graph]bool) (*CompiledGraph, error) {
	if g == nil {
		return nil, NewValidationError("compile", "", ErrNilGraph)
	}
	if visiting[g] {
		return nil, NewValidationError("compile", "", fmt.Errorf("%w: graph %q embeds itself", ErrInvalidNode, g.ID))
	}
	visiting[g] = true
	defer delete(visiting, g)

	cg := &CompiledGraph{
		id:               g.ID,
		name:             g.Name,
		version:          g.Version,
		entry:            g.entryID(),
		exit:             g.exitID(),
		metadata:         g.Metadata,
		maxIterations:    g.MaxIterations,
		executionTimeout: g.ExecutionTimeout,
		cloning:          g.CloningPolicy,
		nodes:            make(map[string]*Node, len(g.Nodes)+2),
		outgoing:         make(map[string][]*Edge),
		incoming:         make(map[string][]*Edge),
		preds:            make(map[string][]string),
		succs:            make(map[string][]string),
		joins:            make(map[string]ConditionType),
		subgraphs:        make(map[string]*CompiledGraph),
	}

	if cg.entry == cg.exit {
		return nil, NewValidationError("compile", cg.entry, fmt.Errorf("%w: entry and exit must differ", ErrInvalidEntry))
	}
	if g.MaxIterations < 0 || g.ExecutionTimeout < 0 {
		return nil, NewValidationError("compile", "", fmt.Errorf("%w: negative graph bound", ErrInvalidPolicy))
	}
	if g.CloningPolicy < CloneInherit || g.CloningPolicy > AlwaysClone {
		return nil, NewValidationError("compile", "", fmt.Errorf("%w: unknown cloning policy %d", ErrInvalidPolicy, int(g.CloningPolicy)))
	}

	for _, n := range g.Nodes {
		if n == nil || n.ID == "" {
			return nil, NewValidationError("add node", "", fmt.Errorf("%w: node id is required", ErrInvalidNode))
		}
		if _, exists := cg.nodes[n.ID]; exists {
			return nil, NewValidationError("add node", n.ID, ErrDuplicateNode)
		}
		cg.nodes[n.ID] = n.clone()
		cg.order = append(cg.order, n.ID)
	}

	for _, e := range g.Edges {
		if e == nil {
			return nil, NewValidationError("add edge", "", ErrInvalidEdge)
		}
		cg.edges = append(cg.edges, e.clone())
	}

	cg.synthesize()

	for i, e := range cg.edges {
		e.index = i
	}

	if err := cg.validateNodes(); err != nil {
		return nil, err
	}
	if err := cg.indexEdges(); err != nil {
		return nil, err
	}
	if err := cg.resolveJoins(); err != nil {
		return nil, err
	}
	if len(cg.outgoing[cg.entry]) == 0 {
		return nil, NewValidationError("compile", cg.entry, fmt.Errorf("%w: entry node has no outgoing edges", ErrInvalidEntry))
	}

	for _, id := range cg.order {
		n := cg.nodes[id]
		if n.Type != NodeTypeSubGraph || n.SubGraph == nil {
			continue
		}
		sub, err := compile(n.SubGraph, visiting)
		if err != nil {
			return nil, NewValidationError("compile subgraph", id, err)
		}
		cg.subgraphs[id] = sub
	}

	return cg, nil
}

// synthesize adds the entry and exit nodes when the graph does not declare
// them. A synthesized entry feeds every root node; every sink feeds a
// synthesized exit.
func (cg *CompiledGraph) synthesize() {
	_, hasEntry := cg.nodes[cg.entry]
	_, hasExit := cg.nodes[cg.exit]
	inner := make([]string, 0, len(cg.order))
	for _, id := range cg.order {
		if id != cg.entry && id != cg.exit {
			inner = append(inner, id)
		}
	}

	var added []*Edge
	if !hasEntry {
		cg.nodes[cg.entry] = &Node{ID: cg.entry, Name: cg.entry, Type: NodeTypeStart}
		cg.order = append([]string{cg.entry}, cg.order...)
		cg.synthesizedStart = true

		hasIncoming := make(map[string]bool)
		for _, e := range cg.edges {
			hasIncoming[e.To] = true
		}
		for _, id := range inner {
			if !hasIncoming[id] {
				added = append(added, NewEdge(cg.entry, id))
			}
		}
	}

	if !hasExit {
		cg.nodes[cg.exit] = &Node{ID: cg.exit, Name: cg.exit, Type: NodeTypeEnd}
		cg.order = append(cg.order, cg.exit)
		cg.synthesizedEnd = true

		// Sinks join the exit with the condition already used by declared
		// edges into it, or wait for every sink when there are none.
		cond := AllDone()
		hasOutgoing := make(map[string]bool)
		declared := false
		for _, e := range cg.edges {
			hasOutgoing[e.From] = true
			if e.To == cg.exit && !declared {
				declared = true
				cond = Always()
				if e.Condition.Type.IsUpstream() {
					cond = EdgeCondition{Type: e.Condition.Type}
				}
			}
		}
		for _, id := range inner {
			if !hasOutgoing[id] {
				e := NewEdge(id, cg.exit)
				e.Condition = cond
				added = append(added, e)
			}
		}
	}

	if !hasEntry && !hasExit && len(inner) == 0 {
		added = append(added, NewEdge(cg.entry, cg.exit))
	}

	cg.edges = append(cg.edges, added...)
}

func (cg *CompiledGraph) validateNodes() error {
	for _, id := range cg.order {
		n := cg.nodes[id]
		if err := n.validate(); err != nil {
			return NewValidationError("validate node", id, err)
		}
		switch {
		case id == cg.entry && n.Type != NodeTypeStart:
			return NewValidationError("validate node", id, ErrInvalidEntry)
		case id == cg.exit && n.Type != NodeTypeEnd:
			return NewValidationError("validate node", id, ErrInvalidExit)
		case id != cg.entry && n.Type == NodeTypeStart:
			return NewValidationError("validate node", id, fmt.Errorf("%w: only the entry node may be a start node", ErrInvalidNode))
		case id != cg.exit && n.Type == NodeTypeEnd:
			return NewValidationError("validate node", id, fmt.Errorf("%w: only the exit node may be an end node", ErrInvalidNode))
		}
	}
	return nil
}

type edgeKey struct {
	from, to         string
	fromPort, toPort int
}

func (cg *CompiledGraph) indexEdges() error {
	seen := make(map[edgeKey]bool, len(cg.edges))
	for _, e := range cg.edges {
		from, ok := cg.nodes[e.From]
		if !ok {
			return NewValidationError("add edge", e.From, fmt.Errorf("%w: edge source %q", ErrNodeNotFound, e.From))
		}
		if _, ok := cg.nodes[e.To]; !ok {
			return NewValidationError("add edge", e.To, fmt.Errorf("%w: edge target %q", ErrNodeNotFound, e.To))
		}
		if e.To == cg.entry {
			return NewValidationError("add edge", e.From, fmt.Errorf("%w: edge into entry node %s", ErrInvalidEdge, e))
		}
		if e.From == cg.exit {
			return NewValidationError("add edge", e.To, fmt.Errorf("%w: edge out of exit node %s", ErrInvalidEdge, e))
		}
		if e.FromPort < 0 || e.FromPort >= from.Ports() {
			return NewValidationError("add edge", e.From, fmt.Errorf("%w: from port %d of %d", ErrInvalidPort, e.FromPort, from.Ports()))
		}
		if e.ToPort < 0 {
			return NewValidationError("add edge", e.To, fmt.Errorf("%w: to port %d", ErrInvalidPort, e.ToPort))
		}
		if e.Cloning < CloneInherit || e.Cloning > AlwaysClone {
			return NewValidationError("add edge", e.From, fmt.Errorf("%w: unknown cloning policy %d", ErrInvalidPolicy, int(e.Cloning)))
		}

		key := edgeKey{from: e.From, to: e.To, fromPort: e.FromPort, toPort: e.ToPort}
		if seen[key] {
			return NewValidationError("add edge", e.From, fmt.Errorf("%w: %s", ErrDuplicateEdge, e))
		}
		seen[key] = true

		if err := e.compileCondition(); err != nil {
			return NewValidationError("add edge", e.From, err)
		}

		cg.outgoing[e.From] = append(cg.outgoing[e.From], e)
		cg.incoming[e.To] = append(cg.incoming[e.To], e)
	}

	for id, edges := range cg.outgoing {
		sortEdges(edges)
		cg.succs[id] = distinct(edges, func(e *Edge) string { return e.To })
	}
	for id, edges := range cg.incoming {
		sortEdges(edges)
		cg.preds[id] = distinct(edges, func(e *Edge) string { return e.From })
	}
	return nil
}

// resolveJoins checks that upstream conditions agree per target node and
// records the join kind of every node.
func (cg *CompiledGraph) resolveJoins() error {
	for _, id := range cg.order {
		join := ConditionAlways
		edges := cg.incoming[id]
		for _, e := range edges {
			if e.Condition.Type.IsUpstream() {
				join = e.Condition.Type
				break
			}
		}
		if join.IsUpstream() {
			for _, e := range edges {
				if e.Condition.Type != join {
					return NewValidationError("resolve join", id,
						fmt.Errorf("%w: %s and %s", ErrConflictingConditions, join, e.Condition.Type))
				}
			}
		}
		cg.joins[id] = join

		if join == ConditionUpstreamAllDoneOneSuccess && cg.nodes[id].ErrorPolicy == ErrorSuppress {
			return NewValidationError("resolve join", id, ErrConflictingPolicy)
		}
	}
	return nil
}

func sortEdges(edges []*Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Priority != edges[j].Priority {
			return edges[i].Priority < edges[j].Priority
		}
		return edges[i].index < edges[j].index
	})
}

func distinct(edges []*Edge, key func(*Edge) string) []string {
	seen := make(map[string]bool, len(edges))
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		k := key(e)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func (cg *CompiledGraph) ID() string                      { return cg.id }
func (cg *CompiledGraph) Name() string                    { return cg.name }
func (cg *CompiledGraph) Version() string                 { return cg.version }
func (cg *CompiledGraph) EntryNodeID() string             { return cg.entry }
func (cg *CompiledGraph) ExitNodeID() string              { return cg.exit }
func (cg *CompiledGraph) MaxIterations() int              { return cg.maxIterations }
func (cg *CompiledGraph) ExecutionTimeout() time.Duration { return cg.executionTimeout }
func (cg *CompiledGraph) Metadata() map[string]any        { return cg.metadata }

// Synthesized reports which of the entry and exit nodes were added by Compile.
func (cg *CompiledGraph) Synthesized() (start, end bool) {
	return cg.synthesizedStart, cg.synthesizedEnd
}

// Node returns a node by id.
func (cg *CompiledGraph) Node(id string) (*Node, bool) {
	n, ok := cg.nodes[id]
	return n, ok
}

// NodeIDs returns node ids in declaration order, entry first.
func (cg *CompiledGraph) NodeIDs() []string {
	out := make([]string, len(cg.order))
	copy(out, cg.order)
	return out
}

// Edges returns every edge in declaration order, synthesized edges last.
func (cg *CompiledGraph) Edges() []*Edge {
	out := make([]*Edge, len(cg.edges))
	copy(out, cg.edges)
	return out
}

// Outgoing returns the edges leaving id ordered by priority then declaration.
func (cg *CompiledGraph) Outgoing(id string) []*Edge { return cg.outgoing[id] }

// Incoming returns the edges entering id ordered by priority then declaration.
func (cg *CompiledGraph) Incoming(id string) []*Edge { return cg.incoming[id] }

// Predecessors returns the distinct source nodes of id's incoming edges.
func (cg *CompiledGraph) Predecessors(id string) []string { return cg.preds[id] }

// Successors returns the distinct target nodes of id's outgoing edges.
func (cg *CompiledGraph) Successors(id string) []string { return cg.succs[id] }

// JoinType returns the upstream condition shared by id's incoming edges, or
// ConditionAlways when the node is not a join.
func (cg *CompiledGraph) JoinType(id string) ConditionType { return cg.joins[id] }

// SubGraph returns the compiled embedded graph of a subgraph node.
func (cg *CompiledGraph) SubGraph(nodeID string) (*CompiledGraph, bool) {
	sub, ok := cg.subgraphs[nodeID]
	return sub, ok
}

// Cloning resolves the cloning policy that applies to e.
func (cg *CompiledGraph) Cloning(e *Edge) CloningPolicy {
	if e.Cloning != CloneInherit {
		return e.Cloning
	}
	if cg.cloning != CloneInherit {
		return cg.cloning
	}
	return LazyClone
}
