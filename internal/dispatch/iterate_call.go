package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
	"github.com/blackcoderx/falcon-runner/internal/varctx"
	"go.uber.org/zap"
)

// dispatchIterate runs the step's wrapped strategy once per item in the
// sequence named by Iterate.Over (spec §4.5). Iterations always run one
// after another; Sequential false is accepted but runs the same way.
func (d *Dispatcher) dispatchIterate(ctx context.Context, suite *rsuite.Suite, step *rsuite.Step, vc *varctx.Context, stack []rsuite.CallFrame) *rsuite.StepResult {
	res := &rsuite.StepResult{StepID: step.StepID, Status: rsuite.StepSuccess}
	start := time.Now()
	defer func() { res.DurationMS = time.Since(start).Milliseconds() }()

	over, err := vc.Resolve(ctx, step.Iterate.Over)
	if err != nil {
		return failStep(res, fmt.Sprintf("iterate: resolving %q: %v", step.Iterate.Over, err))
	}
	items, ok := over.Array()
	if !ok {
		return failStep(res, fmt.Sprintf("iterate: %q did not resolve to a sequence", step.Iterate.Over))
	}
	if d.MaxIterItems > 0 && len(items) > d.MaxIterItems {
		items = items[:d.MaxIterItems]
	}

	asVar := step.Iterate.AsVar
	if asVar == "" {
		asVar = "item"
	}

	inner := *step
	inner.Iterate = nil

	anyFailed := false
	for i, item := range items {
		vc.SetRuntime(asVar, item)
		vc.SetRuntime(asVar+"_index", rvalue.Number(float64(i)))

		var iterRes *rsuite.StepResult
		if !step.Iterate.Sequential {
			iterRes = d.Dispatch(ctx, suite, &inner, vc, stack)
		} else {
			iterRes = d.Dispatch(ctx, suite, &inner, vc, stack)
		}
		res.IterationResults = append(res.IterationResults, iterRes)
		if iterRes.Status == rsuite.StepFailure {
			anyFailed = true
		}
	}

	if anyFailed {
		res.Status = rsuite.StepFailure
		res.ErrorMessage = "one or more iterations failed"
	}
	return res
}

// dispatchCall runs the `call` primary action via the call service (C6),
// spec §4.6. The compatibility rule (call must not coexist with
// request/iterate/input/non-empty scenarios) is enforced by Select never
// routing here unless Iterate is nil; request/input/scenarios on a call
// step are simply ignored, matching the "call wins" closed-sum-type contract.
func (d *Dispatcher) dispatchCall(ctx context.Context, suite *rsuite.Suite, step *rsuite.Step, vc *varctx.Context, stack []rsuite.CallFrame) *rsuite.StepResult {
	res := &rsuite.StepResult{StepID: step.StepID, Status: rsuite.StepSuccess}
	start := time.Now()
	defer func() { res.DurationMS = time.Since(start).Milliseconds() }()

	if d.CallService == nil {
		return failStep(res, "call: no call service configured")
	}

	outcome, err := d.CallService.Execute(ctx, stack, step.Call, vc)
	if err != nil {
		onErr := step.Call.OnError
		if onErr == "" {
			onErr = "fail"
		}
		switch onErr {
		case "continue":
			res.Status = rsuite.StepSuccess
			res.ErrorMessage = err.Error()
			return res
		case "warn":
			if d.Log != nil {
				d.Log.Warn("call failed", zap.String("step", step.StepID), zap.Error(err))
			}
			res.Status = rsuite.StepSuccess
			res.ErrorMessage = err.Error()
			return res
		default:
			return failStep(res, err.Error())
		}
	}

	for name, v := range outcome.PropagatedVariables {
		vc.SetRuntime(name, v)
		res.DynamicAssignments = append(res.DynamicAssignments, rsuite.DynamicAssignment{Name: name, Value: redactedAssignmentValue(name, v)})
	}
	res.Request = outcome.RequestDetails
	res.Response = outcome.ResponseDetails
	res.Assertions = outcome.Assertions
	res.IterationResults = outcome.NestedSteps
	if !outcome.Success {
		res.Status = rsuite.StepFailure
		res.ErrorMessage = outcome.Error
	}
	return res
}
