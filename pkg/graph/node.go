package graph

import (
	"fmt"
	"time"
)

// NodeType tags the behavior the scheduler applies to a node.
type NodeType int

const (
	NodeTypeHandler NodeType = iota
	NodeTypeRouter
	NodeTypeSubGraph
	NodeTypeStart
	NodeTypeEnd
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeHandler:
		return "handler"
	case NodeTypeRouter:
		return "router"
	case NodeTypeSubGraph:
		return "subgraph"
	case NodeTypeStart:
		return "start"
	case NodeTypeEnd:
		return "end"
	default:
		return fmt.Sprintf("NodeType(%d)", int(t))
	}
}

// Node is a single unit of work. Nodes are never mutated during a run.
type Node struct {
	ID          string
	Name        string
	Type        NodeType
	HandlerName string

	// SubGraph embeds a graph to run as this node. SubGraphRef names a graph
	// resolved from the registry at dispatch time instead.
	SubGraph    *Graph
	SubGraphRef string

	// Timeout bounds a single invocation. Zero means no per-node bound.
	Timeout     time.Duration
	RetryPolicy *RetryPolicy
	ErrorPolicy ErrorPolicy
	Suspension  SuspensionOptions

	// EnableCheckpointing saves a progress checkpoint after the node succeeds.
	EnableCheckpointing bool

	// MaxExecutions bounds how many times the node runs in one run. Zero means
	// the engine default.
	MaxExecutions int

	// OutputPortCount is the number of output ports. Zero means one.
	OutputPortCount int

	InputSchema *Schema
	Cache       *CachePolicy
	Metadata    map[string]any
}

// NewNode creates a handler node.
func NewNode(id, handlerName string) *Node {
	return &Node{
		ID:          id,
		Name:        id,
		Type:        NodeTypeHandler,
		HandlerName: handlerName,
	}
}

// NewRouter creates a router node with ports output ports.
func NewRouter(id, handlerName string, ports int) *Node {
	return &Node{
		ID:              id,
		Name:            id,
		Type:            NodeTypeRouter,
		HandlerName:     handlerName,
		OutputPortCount: ports,
	}
}

// NewSubGraphNode creates a node that runs sub as a nested graph.
func NewSubGraphNode(id string, sub *Graph) *Node {
	return &Node{ID: id, Name: id, Type: NodeTypeSubGraph, SubGraph: sub}
}

// NewSubGraphRef creates a node that runs the registered graph graphID.
func NewSubGraphRef(id, graphID string) *Node {
	return &Node{ID: id, Name: id, Type: NodeTypeSubGraph, SubGraphRef: graphID}
}

// Ports returns the effective number of output ports.
func (n *Node) Ports() int {
	if n.OutputPortCount == 0 {
		return 1
	}
	return n.OutputPortCount
}

func (n *Node) clone() *Node {
	c := *n
	return &c
}

func (n *Node) validate() error {
	if n.OutputPortCount < 0 {
		return ErrInvalidPortNum
	}
	switch n.Type {
	case NodeTypeHandler, NodeTypeRouter:
		if n.HandlerName == "" {
			return ErrMissingHandler
		}
	case NodeTypeSubGraph:
		if n.SubGraph == nil && n.SubGraphRef == "" {
			return ErrMissingSubGraph
		}
	case NodeTypeStart, NodeTypeEnd:
	default:
		return fmt.Errorf("%w: unknown node type %d", ErrInvalidNode, int(n.Type))
	}
	switch n.ErrorPolicy {
	case ErrorPropagate, ErrorIsolate, ErrorSuppress:
	default:
		return fmt.Errorf("%w: unknown error policy %d", ErrInvalidPolicy, int(n.ErrorPolicy))
	}
	if n.MaxExecutions < 0 || n.Timeout < 0 || n.Suspension.Timeout < 0 {
		return fmt.Errorf("%w: negative bound", ErrInvalidPolicy)
	}
	if err := n.RetryPolicy.validate(); err != nil {
		return err
	}
	if err := n.InputSchema.compile(); err != nil {
		return fmt.Errorf("%w: input schema: %w", ErrInvalidNode, err)
	}
	return nil
}
