package types

import "time"

// RunOutcome is the result of Execute or Resume.
type RunOutcome struct {
	RunID   string
	GraphID string
	Status  RunStatus

	// Outputs are the exit node's outputs when Status is RunCompleted.
	Outputs map[string]any

	// Err and FailedNodeID are set when Status is RunFailed or RunTimedOut.
	// FailedNodeID is empty for run-level failures such as cancellation.
	Err          error
	FailedNodeID string

	// Checkpoint is set when Status is RunSuspended.
	Checkpoint *Checkpoint

	// Isolated lists the failures absorbed by isolate error policies. It may be
	// non-empty on a completed run.
	Isolated []IsolatedFailure

	NodeStatuses   map[string]NodeExecutionStatus
	NodeExecutions map[string]int
	Duration       time.Duration
}

func (o *RunOutcome) Completed() bool { return o.Status == RunCompleted }
func (o *RunOutcome) Suspended() bool { return o.Status == RunSuspended }

// Degraded reports whether the run completed with isolated failures.
func (o *RunOutcome) Degraded() bool {
	return o.Status == RunCompleted && len(o.Isolated) > 0
}
