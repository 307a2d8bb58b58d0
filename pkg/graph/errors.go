package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrNilGraph is returned when compiling a nil graph
	ErrNilGraph = errors.New("graph is nil")

	// ErrInvalidNode is returned when a node fails validation
	ErrInvalidNode = errors.New("invalid node")

	// ErrDuplicateNode is returned when adding a node that already exists
	ErrDuplicateNode = errors.New("node with this ID already exists")

	// ErrNodeNotFound is returned when referencing a non-existent node
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidEntry is returned when the entry node is not a start node
	ErrInvalidEntry = errors.New("entry node must be of type start")

	// ErrInvalidExit is returned when the exit node is not an end node
	ErrInvalidExit = errors.New("exit node must be of type end")

	ErrInvalidEdge    = errors.New("invalid edge")
	ErrDuplicateEdge  = errors.New("edge already exists")
	ErrInvalidPort    = errors.New("port out of range")
	ErrInvalidPortNum = errors.New("output port count must be at least 1")

	// ErrInvalidCondition is returned when an edge condition is invalid
	ErrInvalidCondition = errors.New("invalid edge condition")

	// ErrConflictingConditions is returned when the incoming edges of one node
	// disagree on their upstream join condition
	ErrConflictingConditions = errors.New("conflicting upstream conditions")

	// ErrConflictingPolicy is returned when a node combines a suppress error
	// policy with an all-done-one-success join
	ErrConflictingPolicy = errors.New("suppress error policy conflicts with all-done-one-success join")

	ErrMissingHandler  = errors.New("handler name is required")
	ErrMissingSubGraph = errors.New("subgraph or subgraph reference is required")
	ErrInvalidPolicy   = errors.New("invalid policy")

	// ErrSchemaViolation is returned when inputs do not match a node's schema
	ErrSchemaViolation = errors.New("schema violation")
)

// ValidationError represents an error that occurs during graph validation
type ValidationError struct {
	// Op is the operation that failed
	Op string
	// Node is the ID of the node involved (if any)
	Node string
	// Err is the underlying error
	Err error
}

func (e *ValidationError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("validation failed: %s: node '%s': %v", e.Op, e.Node, e.Err)
	}
	return fmt.Sprintf("validation failed: %s: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError
func NewValidationError(op string, node string, err error) error {
	return &ValidationError{
		Op:   op,
		Node: node,
		Err:  err,
	}
}
