package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNilGraph is returned when executing without a compiled graph
	ErrNilGraph = errors.New("compiled graph is nil")

	// ErrMaxIterations is returned when a run dispatches more nodes than its graph allows
	ErrMaxIterations = errors.New("maximum iterations exceeded")

	// ErrMaxExecutions is returned when a single node runs more often than allowed
	ErrMaxExecutions = errors.New("maximum node executions exceeded")

	// ErrHandlerNotFound is returned when a node's handler name cannot be resolved
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrSubGraphNotFound is returned when a subgraph reference cannot be resolved
	ErrSubGraphNotFound = errors.New("subgraph not found")

	// ErrInvalidPort is returned when a node emits on a port it does not have
	ErrInvalidPort = errors.New("emitted port out of range")

	// ErrExitNotReached is returned when a run goes quiescent without reaching its exit node
	ErrExitNotReached = errors.New("run finished without reaching the exit node")

	// ErrTimeout is returned when a run exceeds its execution timeout
	ErrTimeout = errors.New("execution timed out")

	// ErrTokenMismatch is returned when a resume token does not match the checkpoint
	ErrTokenMismatch = errors.New("resume token does not match checkpoint")

	// ErrGraphVersionMismatch is returned when resuming against a different graph version
	ErrGraphVersionMismatch = errors.New("graph version does not match checkpoint")

	// ErrGraphMismatch is returned when resuming a checkpoint against another graph
	ErrGraphMismatch = errors.New("checkpoint belongs to a different graph")

	// ErrNilCheckpoint is returned when resuming without a checkpoint
	ErrNilCheckpoint = errors.New("checkpoint is nil")

	// ErrHandlerPanic wraps a panic recovered from a handler
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrInvalidResult is returned when a handler returns a malformed result
	ErrInvalidResult = errors.New("invalid node result")
)

// ExecutionError represents an error during the graph execution
type ExecutionError struct {
	// Phase is the execution phase where the error occurred
	Phase string
	// Node is the ID of the node being executed
	Node string
	// Err is the underlying error
	Err error
}

func (e *ExecutionError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("execution error: %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("execution error: %s: node '%s': %v", e.Phase, e.Node, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new ExecutionError
func NewExecutionError(phase string, node string, err error) error {
	return &ExecutionError{
		Phase: phase,
		Node:  node,
		Err:   err,
	}
}
