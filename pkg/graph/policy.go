package graph

import (
	"fmt"
	"time"
)

// RetryPolicy defines how transient failures of a node are retried
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, including the first one
	MaxAttempts int `json:"max_attempts"`

	// InitialDelay is the initial delay between retries in milliseconds
	InitialDelay int64 `json:"initial_delay_ms"`

	// MaxDelay is the maximum delay between retries in milliseconds
	MaxDelay int64 `json:"max_delay_ms"`

	// BackoffMultiplier is the multiplier to use for exponential backoff
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// NewRetryPolicy creates a default retry policy
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      100,  // 100ms
		MaxDelay:          5000, // 5s
		BackoffMultiplier: 2.0,
	}
}

// WithMaxAttempts sets the total number of attempts
func (p *RetryPolicy) WithMaxAttempts(attempts int) *RetryPolicy {
	p.MaxAttempts = attempts
	return p
}

// WithInitialDelay sets the initial delay in milliseconds
func (p *RetryPolicy) WithInitialDelay(delay int64) *RetryPolicy {
	p.InitialDelay = delay
	return p
}

// WithMaxDelay sets the maximum delay in milliseconds
func (p *RetryPolicy) WithMaxDelay(delay int64) *RetryPolicy {
	p.MaxDelay = delay
	return p
}

// WithBackoffMultiplier sets the backoff multiplier
func (p *RetryPolicy) WithBackoffMultiplier(multiplier float64) *RetryPolicy {
	p.BackoffMultiplier = multiplier
	return p
}

// Attempts returns the total number of invocations the policy allows. A nil
// policy allows exactly one.
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the delay to wait after the given failed attempt (1-based)
// using exponential backoff capped at MaxDelay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if p == nil || p.InitialDelay <= 0 {
		return 0
	}

	multiplier := p.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
		if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	return time.Duration(delay) * time.Millisecond
}

func (p *RetryPolicy) validate() error {
	if p == nil {
		return nil
	}
	if p.MaxAttempts < 0 || p.InitialDelay < 0 || p.MaxDelay < 0 || p.BackoffMultiplier < 0 {
		return fmt.Errorf("%w: retry policy values must not be negative", ErrInvalidPolicy)
	}
	return nil
}

// ErrorPolicy decides the fate of the run when a node fails for good.
type ErrorPolicy int

const (
	// ErrorPropagate fails the run with the node's error.
	ErrorPropagate ErrorPolicy = iota
	// ErrorIsolate fails the node and skips its exclusive downstream subtree.
	ErrorIsolate
	// ErrorSuppress turns the failure into an empty success on port 0.
	ErrorSuppress
)

func (p ErrorPolicy) String() string {
	switch p {
	case ErrorPropagate:
		return "propagate"
	case ErrorIsolate:
		return "isolate"
	case ErrorSuppress:
		return "suppress"
	default:
		return fmt.Sprintf("ErrorPolicy(%d)", int(p))
	}
}

// SuspensionMode selects how a node's suspension is handled.
type SuspensionMode int

const (
	// SuspendImmediate freezes the run as soon as the node suspends.
	SuspendImmediate SuspensionMode = iota
	// SuspendActiveWait blocks the invocation up to a timeout waiting for a
	// resolution before falling back to an immediate suspension.
	SuspendActiveWait
)

type SuspensionOptions struct {
	Mode    SuspensionMode
	Timeout time.Duration
}

// ActiveWait returns options that wait up to timeout for a resolution.
func ActiveWait(timeout time.Duration) SuspensionOptions {
	return SuspensionOptions{Mode: SuspendActiveWait, Timeout: timeout}
}

// CachePolicy enables result caching for a node.
type CachePolicy struct {
	TTL time.Duration
}

func (c *CachePolicy) Enabled() bool {
	return c != nil && c.TTL > 0
}
