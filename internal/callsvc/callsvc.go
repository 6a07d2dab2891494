// Package callsvc implements cross-suite invocation (spec §4.6, C6): one
// step in a suite can call a specific step in another suite, with its own
// isolation, aliasing, loop-detection, and error-handling rules. Grounded
// on the teacher's integration_orchestrator, which resolves and runs a
// named step from another workflow file by path, generalized with the
// explicit isolate/alias/on_error knobs spec §4.6 adds.
package callsvc

import (
	"context"
	"fmt"

	"github.com/blackcoderx/falcon-runner/internal/enginerr"
	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
	"github.com/blackcoderx/falcon-runner/internal/varctx"
)

// Resolver finds a target suite by a caller-relative or absolute path
// (spec §4.6 "resolving the call target"). The suite loader / planner
// implements this.
type Resolver interface {
	Resolve(callerPath, suitePath string) (*rsuite.Suite, error)
}

// Service implements rsuite.CallService.
type Service struct {
	Resolver Resolver
	RunStep  rsuite.StepRunFunc
	Registry *varctx.Registry
	MaxDepth int
}

func New(resolver Resolver, runStep rsuite.StepRunFunc, registry *varctx.Registry) *Service {
	return &Service{Resolver: resolver, RunStep: runStep, Registry: registry, MaxDepth: 10}
}

// Execute runs one `call` (spec §4.6). stack is the caller's active call
// chain; a target already present in stack is refused as a cycle.
func (s *Service) Execute(ctx context.Context, stack []rsuite.CallFrame, spec *rsuite.CallSpec, callerVC *varctx.Context) (*rsuite.CallOutcome, error) {
	maxDepth := s.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	if len(stack) >= maxDepth {
		return nil, enginerr.New(enginerr.Call, spec.SuitePath, spec.StepKey, fmt.Sprintf("max call depth %d exceeded", maxDepth))
	}

	target, err := s.Resolver.Resolve("", spec.SuitePath)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.Call, spec.SuitePath, spec.StepKey, "resolving call target", err)
	}

	frame := rsuite.CallFrame{SuiteID: target.NodeID, StepID: spec.StepKey}
	for _, f := range stack {
		if f.SuiteID == frame.SuiteID && f.StepID == frame.StepID {
			return nil, enginerr.New(enginerr.Call, frame.SuiteID, frame.StepID, "cycle detected in call chain")
		}
	}

	var step *rsuite.Step
	for _, st := range target.Steps {
		if st.StepID == spec.StepKey {
			step = st
			break
		}
	}
	if step == nil {
		return nil, enginerr.New(enginerr.Call, target.NodeID, spec.StepKey, "step not found in target suite")
	}

	isolate := true
	if spec.IsolateContext != nil {
		isolate = *spec.IsolateContext
	}

	// isolate_context:false inherits the caller's runtime scope as a copy
	// (spec §4.6), never the caller's live *varctx.Context: reusing the
	// reference would let the callee's writes mutate the caller's own
	// context and would make any Export() inside the callee write to the
	// registry under the caller's node_id instead of the callee's.
	calleeVC := varctx.New(target.NodeID, callerVC.Global(), s.Registry)
	calleeVC.LoadEnvironment()
	for k, v := range target.Variables {
		calleeVC.SetSuite(k, v)
	}
	if !isolate {
		calleeVC.SetMany(callerVC.RuntimeSnapshot())
	}
	for k, v := range spec.Variables {
		calleeVC.SetRuntime(k, v)
	}

	newStack := append(append([]rsuite.CallFrame{}, stack...), frame)
	result := s.RunStep(ctx, target, step, calleeVC, newStack)

	name := spec.Alias
	if name == "" {
		name = step.StepID
	}
	propagated := make(map[string]rvalue.Value)
	for _, c := range result.Captured {
		propagated[name+"."+c.Name] = c.Value
		if isolate {
			propagated[c.Name] = c.Value
		}
	}
	for _, a := range result.DynamicAssignments {
		propagated[name+"."+a.Name] = a.Value
	}

	outcome := &rsuite.CallOutcome{
		Success:             result.Status != rsuite.StepFailure,
		Status:              result.Status.String(),
		PropagatedVariables: propagated,
		RequestDetails:      result.Request,
		ResponseDetails:     result.Response,
		Assertions:          result.Assertions,
		NestedSteps:         []*rsuite.StepResult{result},
		Error:               result.ErrorMessage,
	}
	if !outcome.Success {
		return outcome, enginerr.New(enginerr.Call, frame.SuiteID, frame.StepID, "target step failed: "+result.ErrorMessage)
	}
	return outcome, nil
}
