package rscenario

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

// fakeEval evaluates only the trivial "status_code==N" shape the tests
// exercise, sidestepping a real goja runtime.
type fakeEval struct{}

func (fakeEval) Evaluate(ctx context.Context, expr string, vars map[string]rvalue.Value) (rvalue.Value, error) {
	var want float64
	if _, err := fmt.Sscanf(expr, "status_code==%f", &want); err == nil {
		sc, _ := vars["status_code"].Number()
		return rvalue.Bool(sc == want), nil
	}
	if expr == "error" {
		return rvalue.Undefined, fmt.Errorf("boom")
	}
	if expr == "numeric" {
		return rvalue.Number(1), nil
	}
	return rvalue.Bool(false), nil
}

func TestSelectMatchesFirstTruthyGuard(t *testing.T) {
	resp := &rsuite.ResponseSpec{StatusCode: 404}
	scenarios := []rsuite.Scenario{
		{Condition: "status_code==200", Then: &rsuite.Branch{Captures: map[string]string{"ok": "body"}}},
		{Condition: "status_code==404", Then: &rsuite.Branch{Captures: map[string]string{"notfound": "body"}}},
	}
	out := Select(context.Background(), scenarios, resp, nil, fakeEval{})
	require.True(t, out.Matched)
	assert.Equal(t, 1, out.Index)
	assert.Equal(t, "then", out.Branch)
	assert.Contains(t, out.Selected.Captures, "notfound")
}

func TestSelectFallsBackToElse(t *testing.T) {
	resp := &rsuite.ResponseSpec{StatusCode: 500}
	scenarios := []rsuite.Scenario{
		{Condition: "status_code==200", Then: &rsuite.Branch{}},
		{Else: &rsuite.Branch{Variables: map[string]rvalue.Value{"fallback": rvalue.Bool(true)}}},
	}
	out := Select(context.Background(), scenarios, resp, nil, fakeEval{})
	require.True(t, out.Matched)
	assert.Equal(t, "else", out.Branch)
}

func TestSelectNoMatchIsSkipped(t *testing.T) {
	resp := &rsuite.ResponseSpec{StatusCode: 500}
	scenarios := []rsuite.Scenario{
		{Condition: "status_code==200", Then: &rsuite.Branch{}},
	}
	out := Select(context.Background(), scenarios, resp, nil, fakeEval{})
	assert.False(t, out.Matched)
	assert.Nil(t, out.Selected)
}

func TestSelectGuardErrorSkipsOnlyThatScenario(t *testing.T) {
	resp := &rsuite.ResponseSpec{StatusCode: 200}
	scenarios := []rsuite.Scenario{
		{Condition: "error", Then: &rsuite.Branch{}},
		{Condition: "status_code==200", Then: &rsuite.Branch{Variables: map[string]rvalue.Value{"matched": rvalue.Bool(true)}}},
	}
	out := Select(context.Background(), scenarios, resp, nil, fakeEval{})
	require.True(t, out.Matched)
	assert.Equal(t, 1, out.Index)
	assert.Len(t, out.GuardErrors, 1)
}

func TestSelectDescendsIntoNestedScenarios(t *testing.T) {
	resp := &rsuite.ResponseSpec{StatusCode: 200}
	scenarios := []rsuite.Scenario{
		{
			Condition: "status_code==200",
			Then: &rsuite.Branch{
				Variables: map[string]rvalue.Value{"outer": rvalue.Bool(true)},
				Captures:  map[string]string{"outer_cap": "body.id"},
				NestedScenarios: []rsuite.Scenario{
					{
						Condition: "status_code==200",
						Then: &rsuite.Branch{
							Variables:  map[string]rvalue.Value{"inner": rvalue.Bool(true)},
							Captures:   map[string]string{"inner_cap": "body.name"},
							Assertions: []rsuite.Assertion{{FieldPath: "body.name", Strategy: "exists"}},
						},
					},
				},
			},
		},
	}
	out := Select(context.Background(), scenarios, resp, nil, fakeEval{})
	require.True(t, out.Matched)
	require.NotNil(t, out.Selected)
	assert.Equal(t, rvalue.Bool(true), out.Selected.Variables["outer"])
	assert.Equal(t, rvalue.Bool(true), out.Selected.Variables["inner"])
	assert.Contains(t, out.Selected.Captures, "outer_cap")
	assert.Contains(t, out.Selected.Captures, "inner_cap")
	assert.Len(t, out.Selected.Assertions, 1)
}

func TestSelectNestedScenariosStopAtMaxDepth(t *testing.T) {
	resp := &rsuite.ResponseSpec{StatusCode: 200}
	// A chain deeper than MaxDepth; only the top-level branch and the
	// MaxDepth nested levels below it (lvl_0 through lvl_5) contribute their
	// Variables to the final merged branch.
	leaf := &rsuite.Branch{Variables: map[string]rvalue.Value{"lvl_too_deep": rvalue.Bool(true)}}
	chain := leaf
	for i := MaxDepth + 2; i >= 0; i-- {
		name := fmt.Sprintf("lvl_%d", i)
		chain = &rsuite.Branch{
			Variables: map[string]rvalue.Value{name: rvalue.Bool(true)},
			NestedScenarios: []rsuite.Scenario{
				{Condition: "status_code==200", Then: chain},
			},
		}
	}
	out := Select(context.Background(), []rsuite.Scenario{{Condition: "status_code==200", Then: chain}}, resp, nil, fakeEval{})
	require.True(t, out.Matched)
	require.NotNil(t, out.Selected)
	assert.NotContains(t, out.Selected.Variables, "lvl_too_deep")
}

func TestNormalizeConditionBacktickLiterals(t *testing.T) {
	assert.Equal(t, "status_code==200", normalizeCondition("status_code==`200`"))
	assert.Equal(t, `status=="active"`, normalizeCondition("status==`active`"))
}

func TestEvalGuardEmptyConditionIsFalse(t *testing.T) {
	matched, err := evalGuard(context.Background(), "  ", nil, nil, fakeEval{})
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestEvalGuardNumericTruthy(t *testing.T) {
	matched, err := evalGuard(context.Background(), "numeric", nil, nil, fakeEval{})
	require.NoError(t, err)
	assert.True(t, matched)
}
