// Command runner-serve runs the live orchestrator (spec §4.11-§4.12):
// suites are executed asynchronously on behalf of POST /run requests and
// progress is streamed over SSE. Grounded on the same cmd/falcon/main.go
// cobra bootstrap as cmd/runner, pointed at internal/orchestrator instead
// of the one-shot CLI path.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackcoderx/falcon-runner/internal/aggregate"
	"github.com/blackcoderx/falcon-runner/internal/callsvc"
	"github.com/blackcoderx/falcon-runner/internal/dispatch"
	"github.com/blackcoderx/falcon-runner/internal/orchestrator"
	"github.com/blackcoderx/falcon-runner/internal/planner"
	"github.com/blackcoderx/falcon-runner/internal/rauth"
	"github.com/blackcoderx/falcon-runner/internal/rconfig"
	"github.com/blackcoderx/falcon-runner/internal/rlog"
	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/runner"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
	"github.com/blackcoderx/falcon-runner/internal/scheduler"
	"github.com/blackcoderx/falcon-runner/internal/suiteload"
	"github.com/blackcoderx/falcon-runner/internal/transport"
	"github.com/blackcoderx/falcon-runner/internal/varctx"
)

var cfgFile string

func main() {
	root := &cobra.Command{Use: "runner-serve", Short: "falcon-runner orchestrator HTTP API"}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .falcon-runner/config.yaml)")
	cobra.OnInitialize(func() { rconfig.Init(cfgFile) })
	rconfig.RegisterFlags(root)
	root.Run = serve

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) {
	cfg := rconfig.Load()
	log, err := rlog.New(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	registry := varctx.NewRegistry()
	global := make(map[string]rvalue.Value)
	tp := transport.New()
	credentials := rauth.NewResolver()

	exec := func(ctx context.Context, run *orchestrator.Run) (*rsuite.AggregatedResult, error) {
		if cfg.EngineTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.EngineTimeout)
			defer cancel()
		}
		suites, err := suiteload.Load(run.Request.ProjectPath)
		if err != nil {
			return nil, fmt.Errorf("discovery: %w", err)
		}
		list := make([]*rsuite.Suite, 0, len(suites))
		for _, s := range suites {
			list = append(list, s)
		}
		graph, err := planner.Build(list, nil)
		if err != nil {
			return nil, fmt.Errorf("planning: %w", err)
		}

		collector := aggregate.NewCollector(run.Request.ProjectPath)
		d := &dispatch.Dispatcher{Transport: tp, Log: log, OnPerf: collector.OnPerf, MaxIterItems: 1000, Credentials: credentials}
		rn := runner.New(d, log)
		resolver := &serveResolver{suites: suites}
		callService := callsvc.New(resolver, rn.RunStep, registry)
		callService.MaxDepth = cfg.CallMaxDepth
		d.CallService = callService
		d.ScenarioMaxDepth = cfg.ScenarioMaxDepth

		sched := &scheduler.Scheduler{
			Policy: scheduler.Policy{
				Parallel:    cfg.Parallel,
				Concurrency: cfg.Concurrency,
				RatePerSec:  cfg.RatePerSec,
				FailFast:    cfg.FailFast,
				MaxAttempts: cfg.RetryMaxAttempts,
				DelayMS:     cfg.RetryDelayMS,
			},
			RunSuite: rn.Run,
			NewVarCtx: func(nodeID string) *varctx.Context {
				for k, v := range run.Request.Variables {
					global[k] = rvalue.String(v)
				}
				vc := varctx.New(nodeID, global, registry)
				vc.LoadEnvironment()
				return vc
			},
			Log: log,
		}
		results := sched.Run(ctx, graph)
		return collector.Finalize(results, registry), nil
	}

	srv := orchestrator.New(exec, log)
	port, shutdown, err := srv.Start(cfg.BindAddress, cfg.WebPort)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("falcon-runner orchestrator listening on http://%s:%d\n", cfg.BindAddress, port)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	shutdown()
}

type serveResolver struct {
	suites map[string]*rsuite.Suite
}

func (r *serveResolver) Resolve(callerPath, suitePath string) (*rsuite.Suite, error) {
	if s, ok := r.suites[suitePath]; ok {
		return s, nil
	}
	for _, s := range r.suites {
		if s.Path == suitePath {
			return s, nil
		}
	}
	return nil, fmt.Errorf("suite %q not found", suitePath)
}
