package rsuite

import (
	"context"

	"github.com/blackcoderx/falcon-runner/internal/rvalue"
	"github.com/blackcoderx/falcon-runner/internal/varctx"
)

// StepRunFunc executes a single step of suite against vc and returns its
// result. It is supplied to the call service by the suite runner at
// construction time (spec §9: "plain construction site ... wiring lives at
// one place"), letting the call service re-enter step execution without an
// import cycle between the runner and call-service packages.
type StepRunFunc func(ctx context.Context, suite *Suite, step *Step, vc *varctx.Context, stack []CallFrame) *StepResult

// CallOutcome is the call service's return value (spec §4.6 "Return").
type CallOutcome struct {
	Success             bool
	Status              string
	PropagatedVariables map[string]rvalue.Value
	RequestDetails      *RequestSpec
	ResponseDetails     *ResponseSpec
	Assertions          []AssertionResult
	NestedSteps         []*StepResult
	Error               string
}

// CallService is the interface the step dispatcher (C5) needs from the call
// service (C6) to run a `call` primary action.
type CallService interface {
	Execute(ctx context.Context, stack []CallFrame, spec *CallSpec, callerVC *varctx.Context) (*CallOutcome, error)
}
