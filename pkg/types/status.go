package types

// NodeExecutionStatus represents the current state of a node within one run
type NodeExecutionStatus string

const (
	StatusPending   NodeExecutionStatus = "pending"
	StatusReady     NodeExecutionStatus = "ready" // Ready to execute
	StatusRunning   NodeExecutionStatus = "running"
	StatusCompleted NodeExecutionStatus = "completed"
	StatusFailed    NodeExecutionStatus = "failed"
	StatusSkipped   NodeExecutionStatus = "skipped"   // Dead path, never dispatched
	StatusSuspended NodeExecutionStatus = "suspended" // Waiting for user input
)

// RunStatus is the state of a whole graph run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunSuspended RunStatus = "suspended"
	RunTimedOut  RunStatus = "timed_out"
)

// Terminal reports whether the run can make no further progress without a resume.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunSuspended, RunTimedOut:
		return true
	}
	return false
}
