package graph

import (
	"fmt"

	"github.com/avi3tal/graphengine/internal/expr"
)

// Edge is a directed connection between two nodes.
type Edge struct {
	From     string
	To       string
	FromPort int
	ToPort   int
	// Priority orders the outgoing edges of a node; lower goes first.
	Priority  int
	Condition EdgeCondition
	// Cloning overrides the graph cloning policy for this edge.
	Cloning  CloningPolicy
	Metadata map[string]any

	index     int
	predicate *expr.Predicate
}

// NewEdge creates an always-firing edge between port 0 of from and port 0 of to.
func NewEdge(from, to string) *Edge {
	return &Edge{From: from, To: to}
}

// Index is the edge's declaration position in its compiled graph.
func (e *Edge) Index() int {
	return e.index
}

// Channel is the name of the channel that carries values along the edge.
func (e *Edge) Channel() string {
	return fmt.Sprintf("edge:%s[%d]->%s[%d]", e.From, e.FromPort, e.To, e.ToPort)
}

// Taken evaluates the edge condition against the source's port output.
// Upstream conditions are evaluated at the target and always report true here.
func (e *Edge) Taken(output map[string]any) (bool, error) {
	if e.Condition.Type != ConditionWhen {
		return true, nil
	}
	if e.Condition.Predicate != nil {
		return e.Condition.Predicate(output), nil
	}
	if e.predicate == nil {
		return false, fmt.Errorf("%w: edge %s has no predicate", ErrInvalidCondition, e)
	}
	return e.predicate.Eval(output)
}

func (e *Edge) String() string {
	return fmt.Sprintf("%s[%d]->%s[%d]", e.From, e.FromPort, e.To, e.ToPort)
}

func (e *Edge) clone() *Edge {
	c := *e
	return &c
}

func (e *Edge) compileCondition() error {
	switch e.Condition.Type {
	case ConditionAlways, ConditionUpstreamOneSuccess, ConditionUpstreamAllDone, ConditionUpstreamAllDoneOneSuccess:
		return nil
	case ConditionWhen:
	default:
		return fmt.Errorf("%w: unknown condition type %d", ErrInvalidCondition, int(e.Condition.Type))
	}

	if e.Condition.Predicate != nil {
		if e.Condition.Expression != "" {
			return fmt.Errorf("%w: predicate and expression are mutually exclusive", ErrInvalidCondition)
		}
		return nil
	}
	if e.Condition.Expression == "" {
		return fmt.Errorf("%w: when condition needs a predicate or an expression", ErrInvalidCondition)
	}
	p, err := expr.Compile(e.Condition.Expression)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCondition, err)
	}
	e.predicate = p
	return nil
}
