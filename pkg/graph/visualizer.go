package graph

import (
	"fmt"
	"io"
)

// Info represents the graph structure for visualization
type Info struct {
	ID    string
	Entry string
	Exit  string
	Nodes []NodeInfo
	Edges []EdgeInfo
}

type NodeInfo struct {
	ID   string
	Type string
	Join string
}

type EdgeInfo struct {
	From      string
	To        string
	FromPort  int
	ToPort    int
	Priority  int
	Condition string
	Metadata  map[string]any
}

func (cg *CompiledGraph) GetGraphInfo() *Info {
	info := &Info{
		ID:    cg.id,
		Entry: cg.entry,
		Exit:  cg.exit,
		Nodes: make([]NodeInfo, 0, len(cg.order)),
		Edges: make([]EdgeInfo, 0, len(cg.edges)),
	}

	for _, id := range cg.order {
		ni := NodeInfo{ID: id, Type: cg.nodes[id].Type.String()}
		if join := cg.joins[id]; join.IsUpstream() {
			ni.Join = join.String()
		}
		info.Nodes = append(info.Nodes, ni)
	}

	for _, e := range cg.edges {
		cond := e.Condition.Type.String()
		if e.Condition.Expression != "" {
			cond = fmt.Sprintf("when %s", e.Condition.Expression)
		}
		info.Edges = append(info.Edges, EdgeInfo{
			From:      e.From,
			To:        e.To,
			FromPort:  e.FromPort,
			ToPort:    e.ToPort,
			Priority:  e.Priority,
			Condition: cond,
			Metadata:  e.Metadata,
		})
	}

	return info
}

// PrintGraph writes a human readable outline of the graph to w.
func (cg *CompiledGraph) PrintGraph(w io.Writer) {
	info := cg.GetGraphInfo()

	fmt.Fprintf(w, "Graph Structure: %s\n", info.ID)
	fmt.Fprintf(w, "Entry Point: %s\n\n", info.Entry)

	fmt.Fprintln(w, "Nodes:")
	for _, node := range info.Nodes {
		switch {
		case node.ID == info.Entry:
			fmt.Fprintf(w, "  * %s (Entry)\n", node.ID)
		case node.ID == info.Exit:
			fmt.Fprintf(w, "  * %s (Exit)\n", node.ID)
		case node.Join != "":
			fmt.Fprintf(w, "  - %s [%s, join: %s]\n", node.ID, node.Type, node.Join)
		default:
			fmt.Fprintf(w, "  - %s [%s]\n", node.ID, node.Type)
		}
	}

	fmt.Fprintln(w, "\nEdges:")
	for _, edge := range info.Edges {
		switch edge.Condition {
		case ConditionAlways.String():
			fmt.Fprintf(w, "  %s:%d --> %s:%d\n", edge.From, edge.FromPort, edge.To, edge.ToPort)
		default:
			fmt.Fprintf(w, "  %s:%d --[%s]--> %s:%d\n", edge.From, edge.FromPort, edge.Condition, edge.To, edge.ToPort)
		}
	}
}
