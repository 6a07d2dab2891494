// Package runner implements the suite runner (spec §4.7, C7): it runs a
// suite's steps in source order, applies retry policy, and rolls per-step
// outcomes up into a SuiteResult, exporting variables when the suite
// succeeds. Grounded on the teacher's integration_orchestrator/workflow.go
// RunWorkflow loop (sequential step execution with a running success flag),
// generalized with the retry-then-fail and export-on-success rules spec
// §4.7 adds.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/blackcoderx/falcon-runner/internal/dispatch"
	"github.com/blackcoderx/falcon-runner/internal/redact"
	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
	"github.com/blackcoderx/falcon-runner/internal/varctx"
)

// Runner executes suites step by step.
type Runner struct {
	Dispatcher *dispatch.Dispatcher
	Log        *zap.Logger
}

func New(d *dispatch.Dispatcher, log *zap.Logger) *Runner {
	return &Runner{Dispatcher: d, Log: log}
}

// RunStep runs a single step with its configured retry policy, satisfying
// rsuite.StepRunFunc so the call service (C6) can re-enter step execution
// through the same path the suite runner itself uses.
func (r *Runner) RunStep(ctx context.Context, suite *rsuite.Suite, step *rsuite.Step, vc *varctx.Context, stack []rsuite.CallFrame) *rsuite.StepResult {
	attempts := step.RetryMax
	if attempts < 0 {
		attempts = 0
	}

	var res *rsuite.StepResult
	for attempt := 0; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return &rsuite.StepResult{StepID: step.StepID, Status: rsuite.StepFailure, ErrorMessage: ctx.Err().Error()}
		default:
		}
		res = r.Dispatcher.Dispatch(ctx, suite, step, vc, stack)
		res.QualifiedStepID = suite.NodeID + "/" + step.StepID
		if res.Status != rsuite.StepFailure {
			return res
		}
		if attempt < attempts {
			if r.Log != nil {
				r.Log.Debug("retrying step", zap.String("step", res.QualifiedStepID), zap.Int("attempt", attempt+1))
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
	return res
}

// Run executes every step of suite in source order and returns the suite's
// aggregate result (spec §4.7). Exports happen only when the suite
// succeeds; a failed required step does not halt remaining steps — the
// spec's per-step model has no "abort the suite" signal, only per-step
// pass/fail folded into the suite-level success rate.
func (r *Runner) Run(ctx context.Context, suite *rsuite.Suite, vc *varctx.Context) *rsuite.SuiteResult {
	start := time.Now()
	result := &rsuite.SuiteResult{
		NodeID:    suite.NodeID,
		SuiteName: suite.Name,
		StartTime: start.UnixMilli(),
	}

	for k, v := range suite.Variables {
		vc.SetSuite(k, v)
	}

	for _, step := range suite.Steps {
		stepRes := r.RunStep(ctx, suite, step, vc, nil)
		result.Steps = append(result.Steps, stepRes)
		result.StepsExecuted++
		switch stepRes.Status {
		case rsuite.StepSuccess:
			result.StepsSuccessful++
		case rsuite.StepFailure:
			result.StepsFailed++
		}
	}

	if result.StepsExecuted > 0 {
		result.SuccessRate = float64(result.StepsSuccessful) / float64(result.StepsExecuted)
	}

	switch {
	case result.StepsExecuted == 0:
		result.Status = rsuite.SuiteSkipped
	case result.StepsFailed == 0:
		result.Status = rsuite.SuiteSuccess
	default:
		result.Status = rsuite.SuiteFailure
	}

	result.VariablesCaptured = make(map[string]rvalue.Value)
	for _, name := range suite.Exports {
		if result.Status != rsuite.SuiteSuccess {
			continue
		}
		if err := vc.Export(name); err != nil {
			if r.Log != nil {
				r.Log.Warn("export failed", zap.String("suite", suite.NodeID), zap.String("var", name), zap.Error(err))
			}
			continue
		}
		if v, ok := vc.Get(name); ok {
			result.VariablesCaptured[name] = v
		}
	}
	result.VariablesCaptured = redact.Values(result.VariablesCaptured)

	result.EndTime = time.Now().UnixMilli()
	result.DurationMS = time.Since(start).Milliseconds()
	return result
}
