// Package dispatch implements the step strategy dispatcher (spec §4.5, C5):
// it picks exactly one primary-action strategy per step and runs the
// request lifecycle in the fixed eight-stage order the spec requires.
// Grounded on the teacher's integration_orchestrator/workflow.go, which
// runs a similar linear "build request -> send -> assert -> capture"
// pipeline per step but with no hook points, scenarios, or iteration; those
// stages are new, built in the same direct, no-abstraction style.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/blackcoderx/falcon-runner/internal/assertcheck"
	"github.com/blackcoderx/falcon-runner/internal/rauth"
	"github.com/blackcoderx/falcon-runner/internal/rcapture"
	"github.com/blackcoderx/falcon-runner/internal/redact"
	"github.com/blackcoderx/falcon-runner/internal/rscenario"
	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
	"github.com/blackcoderx/falcon-runner/internal/transport"
	"github.com/blackcoderx/falcon-runner/internal/varctx"
	"go.uber.org/zap"
)

// Strategy is the resolved primary action for a step.
type Strategy int

const (
	StrategyRequest Strategy = iota
	StrategyInput
	StrategyCall
	StrategyIterate
	StrategyScenarioOnly
)

// Select implements the strategy-selection table from spec §4.5: iterate
// wraps whichever other strategy it contains, call and input are mutually
// exclusive with request/iterate/scenarios, and a step with only scenarios
// and no request is scenario-only.
func Select(step *rsuite.Step) Strategy {
	switch {
	case step.Iterate != nil:
		return StrategyIterate
	case step.Call != nil:
		return StrategyCall
	case step.Input != nil && step.Request == nil:
		return StrategyInput
	case step.Request == nil && len(step.Scenarios) > 0:
		return StrategyScenarioOnly
	default:
		return StrategyRequest
	}
}

// InputPrompter supplies a value for the input strategy (spec §4.5). The
// CLI binds this to stdin; tests and the orchestrator bind it to a fixed
// or queued value.
type InputPrompter interface {
	Prompt(ctx context.Context, spec *rsuite.InputSpec) (rvalue.Value, error)
}

// Dispatcher runs one step against its suite's variable context.
type Dispatcher struct {
	Transport    *transport.Transport
	CallService  rsuite.CallService
	Prompter     InputPrompter
	Log          *zap.Logger
	OnPerf       func(rsuite.PerformanceDatum)
	MaxIterItems int // 0 means unbounded
	Credentials  *rauth.Resolver

	// ScenarioMaxDepth overrides rscenario.MaxDepth (spec §3's configurable
	// nested-scenario depth, wired from rconfig's scenario.max_depth). 0
	// means use rscenario's default.
	ScenarioMaxDepth int
}

// Dispatch runs step to completion and returns its result. stack is the
// active call chain, used only to thread through to the call strategy.
func (d *Dispatcher) Dispatch(ctx context.Context, suite *rsuite.Suite, step *rsuite.Step, vc *varctx.Context, stack []rsuite.CallFrame) *rsuite.StepResult {
	switch Select(step) {
	case StrategyIterate:
		return d.dispatchIterate(ctx, suite, step, vc, stack)
	case StrategyCall:
		return d.dispatchCall(ctx, suite, step, vc, stack)
	case StrategyInput:
		return d.dispatchInputOnly(ctx, step, vc)
	case StrategyScenarioOnly:
		return d.dispatchScenarioOnly(ctx, step, vc)
	default:
		return d.dispatchRequest(ctx, suite, step, vc)
	}
}

func qualify(suiteID, stepID string) string {
	return suiteID + "/" + stepID
}

// dispatchRequest runs the eight-stage request lifecycle (spec §4.5):
// pre-request hooks/script -> interpolate -> transport execute -> post-request
// hooks/script -> scenarios -> assertions -> captures -> trailing input.
func (d *Dispatcher) dispatchRequest(ctx context.Context, suite *rsuite.Suite, step *rsuite.Step, vc *varctx.Context) *rsuite.StepResult {
	res := &rsuite.StepResult{StepID: step.StepID, Status: rsuite.StepSuccess}
	start := time.Now()
	defer func() { res.DurationMS = time.Since(start).Milliseconds() }()

	req := cloneRequest(step.Request)
	setVar := func(name string, v rvalue.Value) { vc.SetRuntime(name, v) }

	// spec §4.5 step 2: merge suite-level TLS configuration when the step
	// does not provide its own client certificate.
	if req.Certificate == nil && suite != nil && suite.Certificate != nil {
		req.Certificate = suite.Certificate
	}

	if suite != nil && suite.Credential != nil && d.Credentials != nil {
		name, value, err := d.Credentials.Header(ctx, suite.Credential)
		if err != nil {
			return failStep(res, fmt.Sprintf("credential resolution: %v", err))
		}
		if name != "" {
			if req.Headers == nil {
				req.Headers = make(map[string]string)
			}
			req.Headers[name] = value
		}
	}

	d.runHooks(step, rsuite.HookPreRequest, &rsuite.HookContext{Request: req, SetVar: setVar})
	if step.PreScript != nil {
		if err := step.PreScript(&rsuite.ScriptContext{Request: req, SetVar: setVar}); err != nil && !step.ContinueOnScriptError {
			return failStep(res, fmt.Sprintf("pre-request script: %v", err))
		}
	}

	interpolated := vc.Interpolate(ctx, requestToValue(req), false)
	res.RawURL = req.URL
	applyInterpolated(req, interpolated)

	result := d.Transport.Execute(step.Name, req)
	res.Request = redactedRequest(req)
	if d.OnPerf != nil {
		status := 0
		if result.Response != nil {
			status = result.Response.StatusCode
		}
		d.OnPerf(rsuite.PerformanceDatum{
			Method:         req.Method,
			URL:            req.URL,
			ResponseTimeMS: result.DurationMS,
			StatusCode:     status,
			TimestampMS:    start.UnixMilli(),
		})
	}
	if result.Err != nil {
		return failStep(res, result.Err.Error())
	}
	resp := result.Response
	res.Response = redactedResponse(resp)

	d.runHooks(step, rsuite.HookPostRequest, &rsuite.HookContext{Request: req, Response: resp, SetVar: setVar})
	if step.PostScript != nil {
		if err := step.PostScript(&rsuite.ScriptContext{Request: req, Response: resp, SetVar: setVar}); err != nil && !step.ContinueOnScriptError {
			return failStep(res, fmt.Sprintf("post-request script: %v", err))
		}
	}

	assertions := step.Assertions
	captures := step.Captures

	if len(step.Scenarios) > 0 {
		outcome := rscenario.SelectWithDepth(ctx, step.Scenarios, resp, vc.Vars(), &jsEvalAdapter{vc: vc}, d.ScenarioMaxDepth)
		res.ScenarioMeta = &rsuite.ScenarioMeta{Matched: outcome.Matched, Index: outcome.Index, Branch: outcome.Branch, GuardErrors: outcome.GuardErrors}
		if outcome.Selected != nil {
			for name, v := range outcome.Selected.Variables {
				vc.SetRuntime(name, v)
				res.DynamicAssignments = append(res.DynamicAssignments, rsuite.DynamicAssignment{Name: name, Value: redactedAssignmentValue(name, v)})
			}
			if len(outcome.Selected.Assertions) > 0 {
				assertions = append(append([]rsuite.Assertion{}, assertions...), outcome.Selected.Assertions...)
			}
			if len(outcome.Selected.Captures) > 0 {
				merged := make(map[string]string, len(captures)+len(outcome.Selected.Captures))
				for k, v := range captures {
					merged[k] = v
				}
				for k, v := range outcome.Selected.Captures {
					merged[k] = v
				}
				captures = merged
			}
		}
	}

	d.runHooks(step, rsuite.HookPreAssertion, &rsuite.HookContext{Request: req, Response: resp, SetVar: setVar})
	for _, a := range assertions {
		actual := resp.ResolveField(a.FieldPath)
		a.Params = vc.Interpolate(ctx, a.Params, false)
		res.Assertions = append(res.Assertions, assertcheck.Validate(a, actual)...)
	}
	d.runHooks(step, rsuite.HookPostAssertion, &rsuite.HookContext{Request: req, Response: resp, SetVar: setVar})

	failed := false
	for _, a := range res.Assertions {
		if !a.Passed {
			failed = true
			break
		}
	}

	d.runHooks(step, rsuite.HookPreCapture, &rsuite.HookContext{Request: req, Response: resp, SetVar: setVar})
	captured := rcapture.Evaluate(captures, resp, func(name string, err error) {
		if d.Log != nil {
			d.Log.Warn("capture failed", zap.String("name", name), zap.Error(err))
		}
	})
	for name, v := range captured {
		vc.SetRuntime(name, v)
		res.Captured = append(res.Captured, rsuite.CapturedValue{Name: name, Value: redactedAssignmentValue(name, v)})
	}
	d.runHooks(step, rsuite.HookPostCapture, &rsuite.HookContext{Request: req, Response: resp, SetVar: setVar})

	if step.Input != nil {
		if v, err := d.runInput(ctx, step.Input, vc); err != nil {
			if d.Log != nil {
				d.Log.Warn("input failed", zap.Error(err))
			}
		} else {
			res.DynamicAssignments = append(res.DynamicAssignments, rsuite.DynamicAssignment{Name: step.Input.SaveAs, Value: redactedAssignmentValue(step.Input.SaveAs, v)})
		}
	}

	if failed {
		res.Status = rsuite.StepFailure
		res.ErrorMessage = "one or more assertions failed"
	}
	return res
}

func (d *Dispatcher) dispatchInputOnly(ctx context.Context, step *rsuite.Step, vc *varctx.Context) *rsuite.StepResult {
	res := &rsuite.StepResult{StepID: step.StepID, Status: rsuite.StepSuccess}
	start := time.Now()
	d.runHooks(step, rsuite.HookPreInput, &rsuite.HookContext{SetVar: func(n string, v rvalue.Value) { vc.SetRuntime(n, v) }})
	v, err := d.runInput(ctx, step.Input, vc)
	d.runHooks(step, rsuite.HookPostInput, &rsuite.HookContext{SetVar: func(n string, v rvalue.Value) { vc.SetRuntime(n, v) }})
	res.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		return failStep(res, err.Error())
	}
	res.DynamicAssignments = append(res.DynamicAssignments, rsuite.DynamicAssignment{Name: step.Input.SaveAs, Value: redactedAssignmentValue(step.Input.SaveAs, v)})
	return res
}

func (d *Dispatcher) runInput(ctx context.Context, spec *rsuite.InputSpec, vc *varctx.Context) (rvalue.Value, error) {
	var v rvalue.Value
	var err error
	if d.Prompter != nil {
		v, err = d.Prompter.Prompt(ctx, spec)
	}
	if err != nil || d.Prompter == nil {
		v = spec.Default
	}
	if spec.SaveAs != "" {
		vc.SetRuntime(spec.SaveAs, v)
	}
	return v, nil
}

func (d *Dispatcher) dispatchScenarioOnly(ctx context.Context, step *rsuite.Step, vc *varctx.Context) *rsuite.StepResult {
	res := &rsuite.StepResult{StepID: step.StepID, Status: rsuite.StepSuccess}
	start := time.Now()
	defer func() { res.DurationMS = time.Since(start).Milliseconds() }()

	outcome := rscenario.SelectWithDepth(ctx, step.Scenarios, nil, vc.Vars(), &jsEvalAdapter{vc: vc}, d.ScenarioMaxDepth)
	res.ScenarioMeta = &rsuite.ScenarioMeta{Matched: outcome.Matched, Index: outcome.Index, Branch: outcome.Branch, GuardErrors: outcome.GuardErrors}
	if outcome.Selected == nil {
		res.Status = rsuite.StepSkipped
		return res
	}
	for name, v := range outcome.Selected.Variables {
		vc.SetRuntime(name, v)
		res.DynamicAssignments = append(res.DynamicAssignments, rsuite.DynamicAssignment{Name: name, Value: redactedAssignmentValue(name, v)})
	}
	for _, a := range outcome.Selected.Assertions {
		a.Params = vc.Interpolate(ctx, a.Params, false)
		res.Assertions = append(res.Assertions, assertcheck.Validate(a, rvalue.Undefined)...)
	}
	for _, a := range res.Assertions {
		if !a.Passed {
			res.Status = rsuite.StepFailure
			res.ErrorMessage = "one or more assertions failed"
			break
		}
	}
	return res
}

func (d *Dispatcher) runHooks(step *rsuite.Step, point rsuite.HookPoint, hctx *rsuite.HookContext) {
	for _, h := range step.Hooks {
		if h.Point != point {
			continue
		}
		if err := h.Run(hctx); err != nil && d.Log != nil {
			d.Log.Warn("hook failed", zap.String("hook", h.Name), zap.Error(err))
		}
	}
}

func failStep(res *rsuite.StepResult, msg string) *rsuite.StepResult {
	res.Status = rsuite.StepFailure
	res.ErrorMessage = msg
	return res
}

func cloneRequest(r *rsuite.RequestSpec) *rsuite.RequestSpec {
	cp := *r
	cp.Headers = cloneStringMap(r.Headers)
	cp.Query = cloneStringMap(r.Query)
	return &cp
}

// redactedAssignmentValue masks a captured/propagated/dynamically-assigned
// value by name before it is attached to a StepResult (spec §7, §8
// invariant 9): the variable context itself always keeps the real value so
// later steps still resolve it, only the copy written into the report is
// masked.
func redactedAssignmentValue(name string, v rvalue.Value) rvalue.Value {
	if redact.KeyIsSensitive(name) {
		return rvalue.String(redact.Mask)
	}
	return v
}

// redactedRequest/redactedResponse produce the copies stored on StepResult
// for reporting (spec §7: "sensitive values ... redacted ... in any emitted
// report"). The working req/resp used for assertions and captures are left
// untouched so redaction never affects step outcomes.
func redactedRequest(r *rsuite.RequestSpec) *rsuite.RequestSpec {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Headers = redact.Map(r.Headers)
	return &cp
}

func redactedResponse(r *rsuite.ResponseSpec) *rsuite.ResponseSpec {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Headers = redact.Map(r.Headers)
	return &cp
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// requestToValue/applyInterpolated round-trip a RequestSpec through the
// Value tree so varctx.Interpolate (which only knows about rvalue.Value)
// can walk every templated string field in one pass.
func requestToValue(r *rsuite.RequestSpec) rvalue.Value {
	b := rvalue.Object()
	b.Set("method", rvalue.String(r.Method))
	b.Set("url", rvalue.String(r.URL))
	hb := rvalue.Object()
	for k, v := range r.Headers {
		hb.Set(k, rvalue.String(v))
	}
	b.Set("headers", hb.Build())
	qb := rvalue.Object()
	for k, v := range r.Query {
		qb.Set(k, rvalue.String(v))
	}
	b.Set("query", qb.Build())
	b.Set("body", r.Body)
	return b.Build()
}

func applyInterpolated(r *rsuite.RequestSpec, v rvalue.Value) {
	if m, ok := v.String(); ok {
		r.URL = m
		return
	}
	if u := v.Field("url"); !u.IsUndefined() {
		if s, ok := u.String(); ok {
			r.URL = s
		}
	}
	if m := v.Field("method"); !m.IsUndefined() {
		if s, ok := m.String(); ok {
			r.Method = s
		}
	}
	if h := v.Field("headers"); h.Kind() == rvalue.KindObject {
		r.Headers = make(map[string]string)
		for _, k := range h.ObjectKeys() {
			if s, ok := h.Field(k).String(); ok {
				r.Headers[k] = s
			}
		}
	}
	if q := v.Field("query"); q.Kind() == rvalue.KindObject {
		r.Query = make(map[string]string)
		for _, k := range q.ObjectKeys() {
			if s, ok := q.Field(k).String(); ok {
				r.Query[k] = s
			}
		}
	}
	r.Body = v.Field("body")
}

// jsEvalAdapter lets rscenario.Select reuse the variable context's own JS
// evaluator instance instead of spinning up a second goja runtime.
type jsEvalAdapter struct{ vc *varctx.Context }

func (a *jsEvalAdapter) Evaluate(ctx context.Context, expr string, vars map[string]rvalue.Value) (rvalue.Value, error) {
	return a.vc.EvaluateJS(ctx, expr, vars)
}
