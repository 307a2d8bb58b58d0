// Package workflow runs registered graphs for a stream of events and hands
// every outcome to a callback.
package workflow

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/avi3tal/graphengine/pkg/checkpoints"
	"github.com/avi3tal/graphengine/pkg/engine"
	"github.com/avi3tal/graphengine/pkg/registry"
	"github.com/avi3tal/graphengine/pkg/types"
)

var (
	ErrNoListener     = errors.New("start called, but no listener is configured")
	ErrNoCheckpointer = errors.New("resume called, but no checkpointer is configured")
)

// Event asks the App to run a graph. An event with a Resolution resumes the
// suspended run RunID instead of starting a new one.
type Event struct {
	GraphID    string
	RunID      string
	Inputs     map[string]any
	Resolution *types.Resolution
}

// Listener is awaited for new events to run.
// For example, it might be reading from a queue, an HTTP endpoint, etc.
type Listener interface {
	// WaitForEvent blocks until a new event is available or context is done.
	WaitForEvent(ctx context.Context) (Event, error)
}

// Callback is invoked after every invocation. Completed and suspended runs go
// to OnComplete; failed runs and errors go to OnError.
type Callback interface {
	OnComplete(ctx context.Context, outcome *types.RunOutcome) error
	OnError(ctx context.Context, err error) error
}

// App binds a graph registry to an engine.
type App struct {
	graphs       *registry.Registry
	engine       *engine.Engine
	listener     Listener
	callback     Callback
	checkpointer *checkpoints.Checkpointer
	logger       *slog.Logger
}

type AppOption func(*App)

func WithListener(l Listener) AppOption {
	return func(a *App) {
		a.listener = l
	}
}

func WithCallback(cb Callback) AppOption {
	return func(a *App) {
		a.callback = cb
	}
}

// WithCheckpointer enables Resume and Pending. It should wrap the same store
// the engine saves to.
func WithCheckpointer(c *checkpoints.Checkpointer) AppOption {
	return func(a *App) {
		a.checkpointer = c
	}
}

func WithLogger(logger *slog.Logger) AppOption {
	return func(a *App) {
		a.logger = logger
	}
}

func NewApp(graphs *registry.Registry, eng *engine.Engine, opts ...AppOption) *App {
	app := &App{
		graphs: graphs,
		engine: eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Invoke runs the graph registered as graphID once with inputs.
// The returned error is set when the run could not start or did not end
// completed or suspended; the outcome is returned whenever the run started.
func (app *App) Invoke(ctx context.Context, graphID string, inputs map[string]any, opts ...engine.RunOption) (*types.RunOutcome, error) {
	cg, ok := app.graphs.GetGraph(graphID)
	if !ok {
		return nil, app.failed(ctx, errors.Wrapf(engine.ErrGraphNotFound, "invoke: graph %q", graphID))
	}

	out, err := app.engine.Execute(ctx, cg, inputs, opts...)
	if err != nil {
		return nil, app.failed(ctx, errors.Wrap(err, "invoke: graph run failed"))
	}
	return out, app.finished(ctx, "invoke", out)
}

// Resume loads the checkpoint of runID and continues it with res.
func (app *App) Resume(ctx context.Context, graphID, runID string, res types.Resolution) (*types.RunOutcome, error) {
	if app.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	cg, ok := app.graphs.GetGraph(graphID)
	if !ok {
		return nil, app.failed(ctx, errors.Wrapf(engine.ErrGraphNotFound, "resume: graph %q", graphID))
	}
	cp, err := app.checkpointer.Load(ctx, graphID, runID)
	if err != nil {
		return nil, app.failed(ctx, errors.Wrap(err, "resume"))
	}

	out, err := app.engine.ResumeGraph(ctx, cg, cp, res)
	if err != nil {
		return nil, app.failed(ctx, errors.Wrapf(err, "resume: run %s", runID))
	}
	return out, app.finished(ctx, "resume", out)
}

// Pending lists the suspended runs of graphID waiting for a resolution.
func (app *App) Pending(ctx context.Context, graphID string) ([]*types.Checkpoint, error) {
	if app.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	return app.checkpointer.Pending(ctx, graphID)
}

// Handle runs a single event.
func (app *App) Handle(ctx context.Context, ev Event) (*types.RunOutcome, error) {
	if ev.Resolution != nil {
		return app.Resume(ctx, ev.GraphID, ev.RunID, *ev.Resolution)
	}
	var opts []engine.RunOption
	if ev.RunID != "" {
		opts = append(opts, engine.WithRunID(ev.RunID))
	}
	return app.Invoke(ctx, ev.GraphID, ev.Inputs, opts...)
}

// Start runs in a loop, handling each incoming event from the Listener.
// It blocks until the context is cancelled.
func (app *App) Start(ctx context.Context) error {
	if app.listener == nil {
		return ErrNoListener
	}

	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "app stopped")
		}

		ev, err := app.listener.WaitForEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			app.logger.Warn("listener failed", "error", err)
			_ = app.failed(ctx, errors.Wrap(err, "listener"))
			continue
		}

		// OnError has already been called for failed events
		if _, err := app.Handle(ctx, ev); err != nil {
			app.logger.Debug("event failed", "graph_id", ev.GraphID, "run_id", ev.RunID, "error", err)
		}
	}
}

func (app *App) failed(ctx context.Context, err error) error {
	if app.callback != nil {
		if cbErr := app.callback.OnError(ctx, err); cbErr != nil {
			app.logger.Warn("OnError callback failed", "error", cbErr)
		}
	}
	return err
}

func (app *App) finished(ctx context.Context, op string, out *types.RunOutcome) error {
	if !out.Completed() && !out.Suspended() {
		err := out.Err
		if err == nil {
			err = errors.Errorf("run ended %s", out.Status)
		}
		return app.failed(ctx, errors.Wrapf(err, "%s: run %s", op, out.RunID))
	}
	if app.callback != nil {
		if cbErr := app.callback.OnComplete(ctx, out); cbErr != nil {
			return errors.Wrap(cbErr, op+": callback OnComplete failed")
		}
	}
	return nil
}
