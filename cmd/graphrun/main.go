// Command graphrun runs one of the demo graphs and serves the engine metrics.
//
//	graphrun -config graphrun.hcl -graph review -text "a short short text"
//	graphrun -graph review -resume <run-id> -approve
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/avi3tal/graphengine/internal/config"
	"github.com/avi3tal/graphengine/internal/ctxlog"
	"github.com/avi3tal/graphengine/pkg/cache"
	"github.com/avi3tal/graphengine/pkg/checkpoints"
	"github.com/avi3tal/graphengine/pkg/engine"
	"github.com/avi3tal/graphengine/pkg/registry"
	"github.com/avi3tal/graphengine/pkg/types"
	"github.com/avi3tal/graphengine/pkg/workflow"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "graphrun:", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	graphID    string
	text       string
	resume     string
	approve    bool
	serve      bool
	print      bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("graphrun", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "path to an HCL config file")
	fs.StringVar(&o.graphID, "graph", "stats", "graph to run: stats or review")
	fs.StringVar(&o.text, "text", "the quick brown fox jumps over the lazy dog", "input text")
	fs.StringVar(&o.resume, "resume", "", "resume the suspended run with this id")
	fs.BoolVar(&o.approve, "approve", false, "approve when resuming, deny otherwise")
	fs.BoolVar(&o.serve, "serve", false, "keep serving metrics after the run")
	fs.BoolVar(&o.print, "print", false, "print the graph before running it")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return &o, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if opts.configPath != "" {
		if cfg, err = config.Load(opts.configPath); err != nil {
			return err
		}
	}
	logger := cfg.Logger(stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.WithLogger(ctx, logger)

	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	resultCache, err := openCache(cfg.Cache)
	if err != nil {
		return err
	}

	graphs := registry.New()
	if err := demoGraphs(graphs); err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	engineOpts := []engine.Option{
		engine.WithHandlers(demoHandlers()),
		engine.WithGraphs(graphs),
		engine.WithCheckpointStore(store),
		engine.WithResultCache(resultCache),
		engine.WithMetrics(engine.NewMetrics(promReg)),
		engine.WithLogger(logger),
		engine.WithMaxConcurrency(cfg.MaxConcurrency),
		engine.WithTimeout(cfg.TimeoutDuration()),
	}
	if cfg.MaxIterations > 0 {
		engineOpts = append(engineOpts, engine.WithMaxIterations(cfg.MaxIterations))
	}
	if cfg.MaxExecutions > 0 {
		engineOpts = append(engineOpts, engine.WithMaxExecutions(cfg.MaxExecutions))
	}
	eng := engine.New(engineOpts...)

	app := workflow.NewApp(graphs, eng,
		workflow.WithCheckpointer(checkpoints.NewCheckpointer(store)),
		workflow.WithLogger(logger),
	)

	srv := serveMetrics(cfg.MetricsAddr, promReg, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if opts.print {
		cg, ok := graphs.GetGraph(opts.graphID)
		if !ok {
			return fmt.Errorf("%w: %q", engine.ErrGraphNotFound, opts.graphID)
		}
		cg.PrintGraph(stdout)
	}

	var out *types.RunOutcome
	if opts.resume != "" {
		out, err = resume(ctx, app, opts)
	} else {
		out, err = app.Invoke(ctx, opts.graphID, map[string]any{"text": opts.text})
	}
	if out != nil {
		if perr := printOutcome(stdout, out); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}

	if opts.serve {
		logger.Info("serving metrics until interrupted", "addr", cfg.MetricsAddr)
		<-ctx.Done()
	}
	return nil
}

func resume(ctx context.Context, app *workflow.App, opts *options) (*types.RunOutcome, error) {
	pending, err := app.Pending(ctx, opts.graphID)
	if err != nil {
		return nil, err
	}
	for _, cp := range pending {
		if cp.RunID != opts.resume {
			continue
		}
		res := types.Deny(cp.Token)
		if opts.approve {
			res = types.Approve(cp.Token)
		}
		return app.Resume(ctx, opts.graphID, opts.resume, res)
	}
	return nil, fmt.Errorf("run %s of graph %s is not waiting for a resolution", opts.resume, opts.graphID)
}

func openStore(cfg *config.Store) (types.CheckpointStore, func(), error) {
	switch cfg.Kind {
	case config.StoreSQLite:
		s, err := checkpoints.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return checkpoints.NewRedisStore(client), func() { _ = client.Close() }, nil
	default:
		return checkpoints.NewMemoryStore(), func() {}, nil
	}
}

func openCache(cfg *config.Cache) (cache.Cache, error) {
	switch cfg.Kind {
	case config.CacheMemory:
		return cache.NewMemoryCache(), nil
	case config.CacheRedis:
		return cache.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})), nil
	case config.CacheNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache kind %q", cfg.Kind)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

type printedOutcome struct {
	RunID    string                               `json:"run_id"`
	GraphID  string                               `json:"graph_id"`
	Status   types.RunStatus                      `json:"status"`
	Outputs  map[string]any                       `json:"outputs,omitempty"`
	Error    string                               `json:"error,omitempty"`
	Token    string                               `json:"token,omitempty"`
	Message  string                               `json:"message,omitempty"`
	Isolated []types.IsolatedFailure              `json:"isolated,omitempty"`
	Nodes    map[string]types.NodeExecutionStatus `json:"nodes"`
	Duration string                               `json:"duration"`
}

func printOutcome(w io.Writer, out *types.RunOutcome) error {
	p := printedOutcome{
		RunID:    out.RunID,
		GraphID:  out.GraphID,
		Status:   out.Status,
		Outputs:  out.Outputs,
		Isolated: out.Isolated,
		Nodes:    out.NodeStatuses,
		Duration: out.Duration.String(),
	}
	if out.Err != nil {
		p.Error = out.Err.Error()
	}
	if out.Checkpoint != nil {
		p.Token = out.Checkpoint.Token
		p.Message = out.Checkpoint.Message
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
