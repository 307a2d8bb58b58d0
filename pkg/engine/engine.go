// Package engine runs compiled graphs: it evaluates readiness, dispatches node
// handlers, propagates outputs through channels and drives a run to a
// terminal or suspended state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avi3tal/graphengine/pkg/cache"
	"github.com/avi3tal/graphengine/pkg/graph"
	"github.com/avi3tal/graphengine/pkg/types"
)

const (
	defaultMaxIterations = 1000
	defaultMaxExecutions = 100
)

// ErrGraphNotFound is returned when a checkpoint's graph is not registered.
var ErrGraphNotFound = errors.New("graph not found")

// GraphLookup resolves graph ids, for subgraph references and Resume.
// *registry.Registry implements it.
type GraphLookup interface {
	GetGraph(id string) (*graph.CompiledGraph, bool)
}

// Engine executes graphs. An Engine holds no per-run state and may run any
// number of graphs concurrently.
type Engine struct {
	handlers       types.HandlerResolver
	graphs         GraphLookup
	store          types.CheckpointStore
	cache          cache.Cache
	metrics        *Metrics
	logger         *slog.Logger
	maxConcurrency int
	maxIterations  int
	maxExecutions  int
	timeout        time.Duration
	waiters        *broker
}

type Option func(*Engine)

// WithHandlers sets the resolver used to look up node handlers
func WithHandlers(resolver types.HandlerResolver) Option {
	return func(e *Engine) {
		e.handlers = resolver
	}
}

// WithGraphs sets the lookup used for subgraph references and Resume
func WithGraphs(graphs GraphLookup) Option {
	return func(e *Engine) {
		e.graphs = graphs
	}
}

// WithCheckpointStore sets the store suspended and progress checkpoints are saved to
func WithCheckpointStore(store types.CheckpointStore) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithResultCache sets the cache used by nodes with a cache policy
func WithResultCache(c cache.Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithMetrics sets the Prometheus collectors runs and nodes report to. Without
// it nothing is recorded.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger runs derive their loggers from. It defaults to
// slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMaxConcurrency bounds the number of nodes running at once in a run.
// Zero means unbounded and one means sequential.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) {
		e.maxConcurrency = n
	}
}

// WithMaxIterations sets the iteration bound for graphs that do not set one
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		e.maxIterations = n
	}
}

// WithMaxExecutions sets the per-node execution bound for nodes that do not set one
func WithMaxExecutions(n int) Option {
	return func(e *Engine) {
		e.maxExecutions = n
	}
}

// WithTimeout sets the execution timeout for graphs that do not set one
func WithTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.timeout = timeout
	}
}

// New returns an engine configured by opts. Unset bounds take the package
// defaults.
func New(opts ...Option) *Engine {
	e := &Engine{
		maxIterations: defaultMaxIterations,
		maxExecutions: defaultMaxExecutions,
		logger:        slog.Default(),
		waiters:       newBroker(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type runConfig struct {
	runID string
}

type RunOption func(*runConfig)

// WithRunID sets the run identifier instead of generating one
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// Execute runs cg from its entry node with inputs as the entry node's output.
// Run failures are reported in the outcome; the error is only set when the run
// could not be started.
func (e *Engine) Execute(ctx context.Context, cg *graph.CompiledGraph, inputs map[string]any, opts ...RunOption) (*types.RunOutcome, error) {
	if cg == nil {
		return nil, ErrNilGraph
	}
	cfg := runConfig{runID: uuid.NewString()}
	for _, o := range opts {
		o(&cfg)
	}

	r := e.newRun(cg, cfg.runID, inputs, false)
	r.enqueue(cg.EntryNodeID())
	return r.execute(ctx), nil
}

// Resume continues the run captured by cp, looking its graph up by id.
func (e *Engine) Resume(ctx context.Context, cp *types.Checkpoint, res types.Resolution) (*types.RunOutcome, error) {
	if cp == nil {
		return nil, ErrNilCheckpoint
	}
	if e.graphs == nil {
		return nil, fmt.Errorf("%w: %q", ErrGraphNotFound, cp.GraphID)
	}
	cg, ok := e.graphs.GetGraph(cp.GraphID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGraphNotFound, cp.GraphID)
	}
	return e.ResumeGraph(ctx, cg, cp, res)
}

// ResumeGraph continues the run captured by cp against cg. The suspended node
// is invoked again with res merged into its inputs.
func (e *Engine) ResumeGraph(ctx context.Context, cg *graph.CompiledGraph, cp *types.Checkpoint, res types.Resolution) (*types.RunOutcome, error) {
	if cg == nil {
		return nil, ErrNilGraph
	}
	if cp == nil {
		return nil, ErrNilCheckpoint
	}

	r := e.newRun(cg, cp.RunID, nil, false)
	if err := r.restore(cp, &res); err != nil {
		return nil, err
	}
	return r.execute(ctx), nil
}

// Resolve hands res to a node actively waiting on token and reports whether
// one was waiting.
func (e *Engine) Resolve(token string, res types.Resolution) bool {
	if res.Token == "" {
		res.Token = token
	}
	return e.waiters.resolve(token, res)
}

// Waiting reports whether a node is actively waiting on token.
func (e *Engine) Waiting(token string) bool {
	return e.waiters.waiting(token)
}
