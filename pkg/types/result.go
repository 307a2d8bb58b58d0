package types

import (
	"fmt"
	"time"
)

// ResultKind discriminates the three outcomes of running a node once.
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultFailure
	ResultSuspended
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultSuspended:
		return "suspended"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Severity classifies a handler failure.
type Severity string

const (
	SeverityTransient Severity = "transient"
	SeverityFatal     Severity = "fatal"
)

// SuspensionKind describes what a suspended node is waiting for.
type SuspensionKind string

const (
	SuspensionApproval SuspensionKind = "awaiting_human_approval"
	SuspensionInput    SuspensionKind = "awaiting_input"
	SuspensionExternal SuspensionKind = "awaiting_external_event"
)

// NodeExecutionResult is the only thing a handler hands back to the scheduler.
// Exactly one of the success, failure or suspension field groups is meaningful,
// selected by Kind.
type NodeExecutionResult struct {
	Kind ResultKind

	// Success
	Outputs map[string]any
	// Ports lists the output ports the result is emitted on. Empty means port 0.
	Ports []int
	// PortOutputs optionally carries a distinct output per port; ports missing
	// from it receive Outputs.
	PortOutputs map[int]map[string]any

	// Failure
	Err         error
	Severity    Severity
	IsTransient bool

	// Suspension
	Token          string
	Message        string
	SuspensionKind SuspensionKind

	Duration time.Duration
	Metadata map[string]any
}

// Success returns a successful result emitted on port 0.
func Success(outputs map[string]any) NodeExecutionResult {
	return NodeExecutionResult{Kind: ResultSuccess, Outputs: outputs}
}

// SuccessOnPorts returns a successful result emitted on the given ports. Routers
// use it to select their outgoing branches.
func SuccessOnPorts(outputs map[string]any, ports ...int) NodeExecutionResult {
	return NodeExecutionResult{Kind: ResultSuccess, Outputs: outputs, Ports: ports}
}

func TransientFailure(err error) NodeExecutionResult {
	return NodeExecutionResult{
		Kind:        ResultFailure,
		Err:         err,
		Severity:    SeverityTransient,
		IsTransient: true,
	}
}

func FatalFailure(err error) NodeExecutionResult {
	return NodeExecutionResult{
		Kind:     ResultFailure,
		Err:      err,
		Severity: SeverityFatal,
	}
}

// Suspend returns a result that pauses the run until it is resumed with token.
func Suspend(token, message string, kind SuspensionKind) NodeExecutionResult {
	return NodeExecutionResult{
		Kind:           ResultSuspended,
		Token:          token,
		Message:        message,
		SuspensionKind: kind,
	}
}

// WithPortOutput sets the output carried on a single port.
func (r NodeExecutionResult) WithPortOutput(port int, outputs map[string]any) NodeExecutionResult {
	po := make(map[int]map[string]any, len(r.PortOutputs)+1)
	for k, v := range r.PortOutputs {
		po[k] = v
	}
	po[port] = outputs
	r.PortOutputs = po
	return r
}

func (r NodeExecutionResult) WithMetadata(key string, value any) NodeExecutionResult {
	md := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		md[k] = v
	}
	md[key] = value
	r.Metadata = md
	return r
}

// EmittedPorts returns the ports a success is emitted on, defaulting to port 0.
func (r NodeExecutionResult) EmittedPorts() []int {
	if len(r.Ports) == 0 {
		return []int{0}
	}
	return r.Ports
}

// Emits reports whether the result was emitted on port.
func (r NodeExecutionResult) Emits(port int) bool {
	for _, p := range r.EmittedPorts() {
		if p == port {
			return true
		}
	}
	return false
}

// OutputFor returns the output carried on port.
func (r NodeExecutionResult) OutputFor(port int) map[string]any {
	if out, ok := r.PortOutputs[port]; ok {
		return out
	}
	return r.Outputs
}

func (r NodeExecutionResult) IsSuccess() bool   { return r.Kind == ResultSuccess }
func (r NodeExecutionResult) IsFailure() bool   { return r.Kind == ResultFailure }
func (r NodeExecutionResult) IsSuspended() bool { return r.Kind == ResultSuspended }
