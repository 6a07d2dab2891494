// Package rscenario implements conditional branch selection and application
// of nested asserts/captures/variables (spec §4.4, C4). There is no teacher
// analog for scenario branching in blackcoderx/falcon (its
// integration_orchestrator/workflow.go runs a flat step list with no guard
// expressions); this package is grounded on the spec's S4 example and
// reuses the expreval JS evaluator already wired for C1's `js:` expressions
// so guard conditions share one evaluation path with interpolation.
package rscenario

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/blackcoderx/falcon-runner/internal/expreval"
	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

// MaxDepth is the default nested-scenario depth bound (spec §3: "default 5").
const MaxDepth = 5

var backtickLiteral = regexp.MustCompile("`([^`]*)`")

// Outcome is the result of running one step's scenario list.
type Outcome struct {
	Matched     bool
	Index       int
	Branch      string // "then" | "else"
	Selected    *rsuite.Branch
	GuardErrors []string
}

// Select implements the §4.4 policy: iterate in order; the first scenario
// whose guard evaluates truthily consumes its `then` branch; if none match
// but some scenario has an `else`, execute the first such `else`; otherwise
// skipped. Guard evaluation errors skip only that scenario (spec §9 Open Question).
//
// A selected branch's own Branch.NestedScenarios are resolved the same way,
// recursively, up to MaxDepth deep (spec §3: scenarios "nest up to a
// configurable depth, default 5"); a matching nested branch's Variables,
// Assertions and Captures are merged onto the branch returned in
// Outcome.Selected, so callers that only ever look at the top-level
// Outcome.Selected still see the full nested contribution.
func Select(ctx context.Context, scenarios []rsuite.Scenario, resp *rsuite.ResponseSpec, vars map[string]rvalue.Value, eval expreval.Evaluator) Outcome {
	return selectDepth(ctx, scenarios, resp, vars, eval, MaxDepth)
}

// SelectWithDepth is Select with the nesting bound overridden (spec §3's
// "configurable depth"), for callers wired to the scenario.max_depth config
// knob. maxDepth <= 0 falls back to MaxDepth.
func SelectWithDepth(ctx context.Context, scenarios []rsuite.Scenario, resp *rsuite.ResponseSpec, vars map[string]rvalue.Value, eval expreval.Evaluator, maxDepth int) Outcome {
	if maxDepth <= 0 {
		maxDepth = MaxDepth
	}
	return selectDepth(ctx, scenarios, resp, vars, eval, maxDepth)
}

func selectDepth(ctx context.Context, scenarios []rsuite.Scenario, resp *rsuite.ResponseSpec, vars map[string]rvalue.Value, eval expreval.Evaluator, depth int) Outcome {
	out := Outcome{Index: -1}

	for i, sc := range scenarios {
		matched, err := evalGuard(ctx, sc.Condition, resp, vars, eval)
		if err != nil {
			out.GuardErrors = append(out.GuardErrors, err.Error())
			continue
		}
		if matched {
			out.Matched = true
			out.Index = i
			out.Branch = "then"
			out.Selected = resolveNested(ctx, sc.Then, resp, vars, eval, depth, &out)
			return out
		}
	}

	for i, sc := range scenarios {
		if sc.Else != nil {
			out.Matched = true
			out.Index = i
			out.Branch = "else"
			out.Selected = resolveNested(ctx, sc.Else, resp, vars, eval, depth, &out)
			return out
		}
	}

	return out
}

// resolveNested descends into branch.NestedScenarios (if any and depth
// allows), merging a matched nested branch's Variables/Assertions/Captures
// onto a shallow copy of branch. Nested guard errors are appended to out so
// a caller inspecting the top-level Outcome still sees them. depth reaching
// zero silently stops descending rather than erroring, matching the rest of
// this evaluator's policy of treating unresolved branches permissively.
func resolveNested(ctx context.Context, branch *rsuite.Branch, resp *rsuite.ResponseSpec, vars map[string]rvalue.Value, eval expreval.Evaluator, depth int, out *Outcome) *rsuite.Branch {
	if branch == nil || depth <= 0 || len(branch.NestedScenarios) == 0 {
		return branch
	}

	nestedVars := make(map[string]rvalue.Value, len(vars)+len(branch.Variables))
	for k, v := range vars {
		nestedVars[k] = v
	}
	for k, v := range branch.Variables {
		nestedVars[k] = v
	}

	nested := selectDepth(ctx, branch.NestedScenarios, resp, nestedVars, eval, depth-1)
	out.GuardErrors = append(out.GuardErrors, nested.GuardErrors...)
	if nested.Selected == nil {
		return branch
	}

	merged := &rsuite.Branch{
		Request:    branch.Request,
		Assertions: append(append([]rsuite.Assertion{}, branch.Assertions...), nested.Selected.Assertions...),
		Captures:   make(map[string]string, len(branch.Captures)+len(nested.Selected.Captures)),
		Variables:  make(map[string]rvalue.Value, len(branch.Variables)+len(nested.Selected.Variables)),
	}
	for k, v := range branch.Captures {
		merged.Captures[k] = v
	}
	for k, v := range nested.Selected.Captures {
		merged.Captures[k] = v
	}
	for k, v := range branch.Variables {
		merged.Variables[k] = v
	}
	for k, v := range nested.Selected.Variables {
		merged.Variables[k] = v
	}
	return merged
}

func evalGuard(ctx context.Context, condition string, resp *rsuite.ResponseSpec, vars map[string]rvalue.Value, eval expreval.Evaluator) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return false, nil
	}

	scope := make(map[string]rvalue.Value, len(vars)+3)
	for k, v := range vars {
		scope[k] = v
	}
	if resp != nil {
		scope["status_code"] = rvalue.Number(float64(resp.StatusCode))
		scope["body"] = resp.Body
		hb := rvalue.Object()
		for k, v := range resp.Headers {
			hb.Set(k, rvalue.String(v))
		}
		scope["headers"] = hb.Build()
	}

	expr := normalizeCondition(condition)
	v, err := eval.Evaluate(ctx, expr, scope)
	if err != nil {
		return false, err
	}
	b, ok := v.Bool()
	if !ok {
		n, ok := v.Number()
		return ok && n != 0, nil
	}
	return b, nil
}

// normalizeCondition converts the DSL's backtick literal notation
// (`` status_code==`200` ``) into plain JS literals so the shared JS
// evaluator can run it directly.
func normalizeCondition(condition string) string {
	return backtickLiteral.ReplaceAllStringFunc(condition, func(m string) string {
		inner := m[1 : len(m)-1]
		if _, err := strconv.ParseFloat(inner, 64); err == nil {
			return inner
		}
		return strconv.Quote(inner)
	})
}
