package graph

import "fmt"

// ConditionType selects how an edge gates its target.
type ConditionType int

const (
	// ConditionAlways fires the edge whenever its source succeeds on FromPort.
	ConditionAlways ConditionType = iota
	// ConditionWhen fires the edge when a predicate over the source output holds.
	ConditionWhen
	// ConditionUpstreamOneSuccess fires the target on the first successful predecessor.
	ConditionUpstreamOneSuccess
	// ConditionUpstreamAllDone fires the target once every predecessor is terminal.
	ConditionUpstreamAllDone
	// ConditionUpstreamAllDoneOneSuccess fires the target once every predecessor is
	// terminal and at least one succeeded.
	ConditionUpstreamAllDoneOneSuccess
)

func (t ConditionType) String() string {
	switch t {
	case ConditionAlways:
		return "always"
	case ConditionWhen:
		return "when"
	case ConditionUpstreamOneSuccess:
		return "upstream_one_success"
	case ConditionUpstreamAllDone:
		return "upstream_all_done"
	case ConditionUpstreamAllDoneOneSuccess:
		return "upstream_all_done_one_success"
	default:
		return fmt.Sprintf("ConditionType(%d)", int(t))
	}
}

// IsUpstream reports whether the condition describes a join at the target node.
func (t ConditionType) IsUpstream() bool {
	switch t {
	case ConditionUpstreamOneSuccess, ConditionUpstreamAllDone, ConditionUpstreamAllDoneOneSuccess:
		return true
	}
	return false
}

// Predicate decides from a source node's port output whether an edge fires.
type Predicate func(output map[string]any) bool

// EdgeCondition gates an edge. For ConditionWhen exactly one of Predicate or
// Expression is set; Expression is an HCL expression over the variable output.
type EdgeCondition struct {
	Type       ConditionType
	Predicate  Predicate
	Expression string
}

func Always() EdgeCondition {
	return EdgeCondition{Type: ConditionAlways}
}

func When(p Predicate) EdgeCondition {
	return EdgeCondition{Type: ConditionWhen, Predicate: p}
}

// WhenExpr builds a predicate condition from an HCL expression such as
// `output.score >= 0.8`.
func WhenExpr(expression string) EdgeCondition {
	return EdgeCondition{Type: ConditionWhen, Expression: expression}
}

func OneSuccess() EdgeCondition {
	return EdgeCondition{Type: ConditionUpstreamOneSuccess}
}

func AllDone() EdgeCondition {
	return EdgeCondition{Type: ConditionUpstreamAllDone}
}

func AllDoneOneSuccess() EdgeCondition {
	return EdgeCondition{Type: ConditionUpstreamAllDoneOneSuccess}
}
