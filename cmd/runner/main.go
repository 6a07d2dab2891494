// Command runner is the CLI surface (spec §6): run/list/graph/report
// subcommands over a project directory of suite YAML files. Grounded on
// the teacher's cmd/falcon/main.go cobra root command with a version
// subcommand, generalized from the teacher's single do-everything Run
// closure into one subcommand per operation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blackcoderx/falcon-runner/internal/aggregate"
	"github.com/blackcoderx/falcon-runner/internal/callsvc"
	"github.com/blackcoderx/falcon-runner/internal/dispatch"
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

// Exit codes (spec §6): 0 success, otherwise a category-specific code.
const (
	exitSuccess   = 0
	exitExecution = 1
	exitDiscovery = 2
	exitPlanning  = 3
	exitCancelled = 130
)

var cfgFile string

func main() {
	root := &cobra.Command{Use: "runner", Short: "falcon-runner executes declarative API test suites"}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .falcon-runner/config.yaml)")
	cobra.OnInitialize(func() { rconfig.Init(cfgFile) })

	runCmd := &cobra.Command{Use: "run", Short: "execute every suite in the project directory", Run: runRun}
	listCmd := &cobra.Command{Use: "list", Short: "list discovered suites and their wave placement", Run: runList}
	graphCmd := &cobra.Command{Use: "graph", Short: "render the suite dependency graph as a PNG", Run: runGraph}
	reportCmd := &cobra.Command{Use: "report", Short: "run and print the aggregated JSON report", Run: runRun}

	for _, c := range []*cobra.Command{runCmd, listCmd, graphCmd, reportCmd} {
		rconfig.RegisterFlags(c)
	}
	root.AddCommand(runCmd, listCmd, graphCmd, reportCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitExecution)
	}
}

func buildGraph(cfg rconfig.Config) (map[string]*rsuite.Suite, *planner.Graph, int, error) {
	suites, err := suiteload.Load(cfg.ProjectDir)
	if err != nil {
		return nil, nil, exitDiscovery, fmt.Errorf("discovery: %w", err)
	}
	list := make([]*rsuite.Suite, 0, len(suites))
	for _, s := range suites {
		list = append(list, s)
	}
	graph, err := planner.Build(list, nil)
	if err != nil {
		return suites, nil, exitPlanning, fmt.Errorf("planning: %w", err)
	}
	return suites, graph, exitSuccess, nil
}

func runList(cmd *cobra.Command, args []string) {
	cfg := rconfig.Load()
	_, graph, code, err := buildGraph(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(code)
	}
	for i, wave := range graph.Waves() {
		fmt.Printf("wave %d:\n", i)
		for _, s := range wave {
			fmt.Printf("  %s (%s)\n", s.NodeID, s.Name)
		}
	}
}

func runGraph(cmd *cobra.Command, args []string) {
	cfg := rconfig.Load()
	_, graph, code, err := buildGraph(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(code)
	}
	png, err := graph.RenderDiagram()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitPlanning)
	}
	out := cfg.OutputPath
	if out == "" {
		out = "dependency-graph.png"
	}
	if err := os.WriteFile(out, png, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitExecution)
	}
	fmt.Printf("wrote %s\n", out)
}

func runRun(cmd *cobra.Command, args []string) {
	cfg := rconfig.Load()
	log, err := rlog.New(cfg.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitExecution)
	}
	defer log.Sync()

	suites, graph, code, err := buildGraph(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(code)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if cfg.EngineTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.EngineTimeout)
		defer timeoutCancel()
	}

	registry := varctx.NewRegistry()
	global := make(map[string]rvalue.Value)
	collector := aggregate.NewCollector(cfg.ProjectDir)
	tp := transport.New()

	d := &dispatch.Dispatcher{Transport: tp, Log: log, OnPerf: collector.OnPerf, MaxIterItems: 1000, Credentials: rauth.NewResolver()}
	d.ScenarioMaxDepth = cfg.ScenarioMaxDepth
	run := runner.New(d, log)

	resolver := &pathResolver{suites: suites}
	callService := callsvc.New(resolver, run.RunStep, registry)
	callService.MaxDepth = cfg.CallMaxDepth
	d.CallService = callService

	sched := &scheduler.Scheduler{
		Policy: scheduler.Policy{
			Parallel:    cfg.Parallel,
			Concurrency: cfg.Concurrency,
			RatePerSec:  cfg.RatePerSec,
			FailFast:    cfg.FailFast,
			MaxAttempts: cfg.RetryMaxAttempts,
			DelayMS:     cfg.RetryDelayMS,
		},
		RunSuite: run.Run,
		NewVarCtx: func(nodeID string) *varctx.Context {
			vc := varctx.New(nodeID, global, registry)
			vc.LoadEnvironment()
			return vc
		},
		Log: log,
	}

	results := sched.Run(ctx, graph)
	aggregated := collector.Finalize(results, registry)

	if cfg.OutputDir != "" {
		if err := aggregate.WriteReport(cfg.OutputDir, aggregated); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}

	data, _ := json.MarshalIndent(aggregated, "", "  ")
	if cfg.OutputPath != "" {
		_ = os.WriteFile(cfg.OutputPath, data, 0o644)
	} else {
		fmt.Println(string(data))
	}

	select {
	case <-ctx.Done():
		os.Exit(exitCancelled)
	default:
	}
	if aggregated.SuccessRate < 1.0 {
		os.Exit(exitExecution)
	}
	os.Exit(exitSuccess)
}

// pathResolver implements callsvc.Resolver over the flat suite map
// suiteload.Load produces.
type pathResolver struct {
	suites map[string]*rsuite.Suite
}

func (p *pathResolver) Resolve(callerPath, suitePath string) (*rsuite.Suite, error) {
	if s, ok := p.suites[suitePath]; ok {
		return s, nil
	}
	for _, s := range p.suites {
		if s.Path == suitePath {
			return s, nil
		}
	}
	return nil, fmt.Errorf("suite %q not found", suitePath)
}
