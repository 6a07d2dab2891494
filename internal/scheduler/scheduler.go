// Package scheduler implements the execution scheduler (spec §4.9, C9): it
// runs a planner.Graph's waves either sequentially or with bounded
// parallelism, applies a run-level retry/backoff policy on top of each
// suite's own step-level retries, honors each suite's guarded/cacheable
// dependency edges, and, with FailFast, stops after a wave in which any suite
// failed (suites are not distinguished by priority for this).
// Grounded on the teacher's integration_orchestrator, which runs workflows
// one at a time; the bounded-parallel path is new, built with
// golang.org/x/sync (errgroup + semaphore) the way the rest of the
// ecosystem pack uses it for worker-pool style fan-out, and paced with
// golang.org/x/time/rate the way a load-generating HTTP client typically is.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"go.uber.org/zap"

	"github.com/blackcoderx/falcon-runner/internal/expreval"
	"github.com/blackcoderx/falcon-runner/internal/planner"
	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
	"github.com/blackcoderx/falcon-runner/internal/varctx"
)

// SuiteRunner runs one suite to completion, returning its aggregate result.
// The suite runner (C7) satisfies this.
type SuiteRunner func(ctx context.Context, suite *rsuite.Suite, vc *varctx.Context) *rsuite.SuiteResult

// Policy configures one scheduler run (spec §4.9).
type Policy struct {
	Parallel    bool
	Concurrency int64   // max suites running at once when Parallel; 0 means unbounded within a wave
	RatePerSec  float64 // 0 disables pacing
	FailFast    bool    // stop launching new waves once any suite fails; priority is not considered
	MaxAttempts int     // run-level suite retries on failure; 0 or 1 means no retry
	DelayMS     int64   // backoff between suite-level retry attempts
}

// Scheduler runs a dependency graph's waves against a suite runner.
type Scheduler struct {
	Policy    Policy
	RunSuite  SuiteRunner
	NewVarCtx func(nodeID string) *varctx.Context
	Log       *zap.Logger

	// GuardEval evaluates a DependencyEdge.Guard expression against its
	// target dependency's completed result (spec §3 "optional guard
	// condition"). Defaults to evalGuard, which runs the expression through
	// the shared JS evaluator with the dependency's status/variables in scope.
	GuardEval func(guard string, dep *rsuite.SuiteResult) (bool, error)

	cacheMu     sync.Mutex
	resultCache map[string]*rsuite.SuiteResult // node_id -> last successful result, for Cache:true edges
}

// cachedResult returns a previously cached successful result for nodeID, set
// by an earlier call to Run on this same Scheduler (spec §3 DependencyEdge.Cache
// "reuse prior result rather than re-execute"; a single Run pass only ever
// visits each suite once regardless, so reuse only bites across repeated
// Run calls, e.g. a retried run).
func (s *Scheduler) cachedResult(nodeID string) (*rsuite.SuiteResult, bool) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	res, ok := s.resultCache[nodeID]
	return res, ok
}

func (s *Scheduler) putCached(nodeID string, res *rsuite.SuiteResult) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.resultCache == nil {
		s.resultCache = make(map[string]*rsuite.SuiteResult)
	}
	s.resultCache[nodeID] = res
}

// evalGuard is the default GuardEval: it runs guard as a JS expression with
// the dependency's status and variables-captured in scope, mirroring
// rscenario's guard evaluation shape.
func evalGuard(guard string, dep *rsuite.SuiteResult) (bool, error) {
	if strings.TrimSpace(guard) == "" {
		return true, nil
	}
	scope := make(map[string]rvalue.Value, len(dep.VariablesCaptured)+2)
	for k, v := range dep.VariablesCaptured {
		scope[k] = v
	}
	scope["status"] = rvalue.String(dep.Status.String())
	scope["success"] = rvalue.Bool(dep.Status == rsuite.SuiteSuccess)

	eval := &expreval.JSEvaluator{}
	v, err := eval.Evaluate(context.Background(), guard, scope)
	if err != nil {
		return false, err
	}
	if b, ok := v.Bool(); ok {
		return b, nil
	}
	n, ok := v.Number()
	return ok && n != 0, nil
}

// runState tracks completed results by node id across a single Run call, so
// a later wave can evaluate a guarded dependency edge against the
// dependency's actual outcome (spec §3 DependencyEdge.Guard).
type runState struct {
	mu   sync.Mutex
	byID map[string]*rsuite.SuiteResult
}

func newRunState() *runState { return &runState{byID: make(map[string]*rsuite.SuiteResult)} }

func (rs *runState) get(id string) (*rsuite.SuiteResult, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	r, ok := rs.byID[id]
	return r, ok
}

func (rs *runState) put(id string, r *rsuite.SuiteResult) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.byID[id] = r
}

// Run executes every wave of graph in order; within a wave, suites run
// sequentially or concurrently per Policy.Parallel. A failure of any suite
// stops launching further waves when FailFast is set; otherwise the
// scheduler continues, leaving dependents of the failed suite to run (and
// likely fail their own guarded dependency checks downstream).
func (s *Scheduler) Run(ctx context.Context, graph *planner.Graph) []*rsuite.SuiteResult {
	var results []*rsuite.SuiteResult
	var limiter *rate.Limiter
	if s.Policy.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.Policy.RatePerSec), 1)
	}
	rs := newRunState()
	cacheable := graph.CacheableNodeIDs()

	for _, wave := range graph.Waves() {
		waveResults, abort := s.runWave(ctx, wave, limiter, graph, rs, cacheable)
		results = append(results, waveResults...)
		if abort && s.Policy.FailFast {
			break
		}
		select {
		case <-ctx.Done():
			return results
		default:
		}
	}
	return results
}

func (s *Scheduler) runWave(ctx context.Context, wave []*rsuite.Suite, limiter *rate.Limiter, graph *planner.Graph, rs *runState, cacheable map[string]bool) ([]*rsuite.SuiteResult, bool) {
	if !s.Policy.Parallel {
		var results []*rsuite.SuiteResult
		abort := false
		for _, suite := range wave {
			if limiter != nil {
				_ = limiter.Wait(ctx)
			}
			res := s.runOne(ctx, suite, graph, rs, cacheable)
			results = append(results, res)
			if res.Status == rsuite.SuiteFailure {
				abort = true
			}
		}
		return results, abort
	}

	var mu sync.Mutex
	var results []*rsuite.SuiteResult
	abort := false

	g, gctx := errgroup.WithContext(ctx)
	var sem *semaphore.Weighted
	if s.Policy.Concurrency > 0 {
		sem = semaphore.NewWeighted(s.Policy.Concurrency)
	}

	for _, suite := range wave {
		suite := suite
		g.Go(func() error {
			if sem != nil {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)
			}
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
			}
			res := s.runOne(gctx, suite, graph, rs, cacheable)
			mu.Lock()
			results = append(results, res)
			if res.Status == rsuite.SuiteFailure {
				abort = true
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, abort
}

// guardSkips checks suite's resolved dependency edges for a Guard that
// evaluates falsy against its target's already-completed result, in which
// case suite itself is skipped rather than run (spec §3 "optional guard
// condition" gates the dependent, the same way a scenario guard gates a branch).
func (s *Scheduler) guardSkips(suite *rsuite.Suite, graph *planner.Graph, rs *runState) (bool, string) {
	guardEval := s.GuardEval
	if guardEval == nil {
		guardEval = evalGuard
	}
	for _, edge := range graph.DependencyEdges(suite.NodeID) {
		if edge.Guard == "" {
			continue
		}
		dep, ok := rs.get(edge.NodeID)
		if !ok {
			continue
		}
		satisfied, err := guardEval(edge.Guard, dep)
		if err != nil {
			if s.Log != nil {
				s.Log.Warn("dependency guard evaluation failed", zap.String("suite", suite.NodeID), zap.String("guard", edge.Guard), zap.Error(err))
			}
			continue
		}
		if !satisfied {
			return true, fmt.Sprintf("dependency guard %q on %q not satisfied", edge.Guard, edge.NodeID)
		}
	}
	return false, ""
}

// runOne runs suite, retrying the whole suite up to Policy.MaxAttempts times
// with Policy.DelayMS backoff between attempts when it fails (spec §4.9:
// "a failed suite is retried up to max_attempts with delay_ms backoff
// between attempts; retries reset the suite's step results"). Each attempt
// gets a fresh variable context from NewVarCtx and a fresh SuiteResult from
// RunSuite, so a retry's step results are never carried over from the prior
// attempt.
//
// Before running, suite is short-circuited two ways: a cached result is
// reused when some dependent marked this node Cache:true and an earlier
// Run call on this Scheduler already produced one, and the suite is skipped
// outright when one of its own dependency edges carries a Guard that
// evaluates false against that dependency's result.
func (s *Scheduler) runOne(ctx context.Context, suite *rsuite.Suite, graph *planner.Graph, rs *runState, cacheable map[string]bool) *rsuite.SuiteResult {
	if cacheable[suite.NodeID] {
		if cached, ok := s.cachedResult(suite.NodeID); ok {
			if s.Log != nil {
				s.Log.Debug("reusing cached suite result", zap.String("suite", suite.NodeID))
			}
			rs.put(suite.NodeID, cached)
			return cached
		}
	}
	if skip, reason := s.guardSkips(suite, graph, rs); skip {
		res := &rsuite.SuiteResult{NodeID: suite.NodeID, SuiteName: suite.Name, Status: rsuite.SuiteSkipped, ErrorMessage: reason}
		rs.put(suite.NodeID, res)
		return res
	}

	res := s.runAttempts(ctx, suite)
	rs.put(suite.NodeID, res)
	if res.Status != rsuite.SuiteFailure {
		s.putCached(suite.NodeID, res)
	}
	return res
}

func (s *Scheduler) runAttempts(ctx context.Context, suite *rsuite.Suite) *rsuite.SuiteResult {
	attempts := s.Policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var res *rsuite.SuiteResult
	for attempt := 0; attempt < attempts; attempt++ {
		select {
		case <-ctx.Done():
			return &rsuite.SuiteResult{NodeID: suite.NodeID, SuiteName: suite.Name, Status: rsuite.SuiteFailure, ErrorMessage: ctx.Err().Error()}
		default:
		}

		vc := s.NewVarCtx(suite.NodeID)
		if s.Log != nil {
			s.Log.Info("running suite", zap.String("suite", suite.NodeID), zap.Int("attempt", attempt+1))
		}
		res = s.RunSuite(ctx, suite, vc)
		if res.Status != rsuite.SuiteFailure {
			return res
		}
		if attempt < attempts-1 {
			if s.Log != nil {
				s.Log.Debug("retrying suite", zap.String("suite", suite.NodeID), zap.Int("next_attempt", attempt+2))
			}
			if s.Policy.DelayMS > 0 {
				timer := time.NewTimer(time.Duration(s.Policy.DelayMS) * time.Millisecond)
				select {
				case <-ctx.Done():
					timer.Stop()
					return res
				case <-timer.C:
				}
			}
		}
	}
	return res
}
