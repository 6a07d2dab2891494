// Package assertcheck implements the strategy-dispatched assertion evaluator
// (spec §4.2, C2). Grounded on the teacher's pkg/core/tools/assert.go
// AssertTool.runAssertions (status_code/headers/body_contains/json_path/
// response_time_max_ms checks against a single cached HTTPResponse),
// generalized to the closed strategy set spec §4.2 names, operating over an
// rvalue.Value response tree rather than a raw *HTTPResponse, and extended
// with a `schema` strategy backed by the teacher's gojsonschema dependency
// (teacher's schema.go / schema_conformance tool).
package assertcheck

import (
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

// Validate runs one assertion node against a resolved field value and
// returns an ordered sequence of results (spec §4.2 contract). A single
// node can yield multiple results (the `length` composite predicate).
func Validate(a rsuite.Assertion, actual rvalue.Value) []rsuite.AssertionResult {
	switch a.Strategy {
	case "equals":
		return single(a, actual, rvalue.Equal(actual, a.Params), fmt.Sprintf("expected %s to equal %s", render(actual), render(a.Params)))
	case "not_equals":
		return single(a, actual, !rvalue.Equal(actual, a.Params), fmt.Sprintf("expected %s to not equal %s", render(actual), render(a.Params)))
	case "contains":
		return single(a, actual, containsCheck(actual, a.Params), fmt.Sprintf("expected %s to contain %s", render(actual), render(a.Params)))
	case "not_contains":
		return single(a, actual, !containsCheck(actual, a.Params), fmt.Sprintf("expected %s to not contain %s", render(actual), render(a.Params)))
	case "regex", "pattern":
		return regexCheck(a, actual)
	case "type":
		return typeCheck(a, actual)
	case "exists":
		want, _ := a.Params.Bool()
		if a.Params.IsUndefined() {
			want = true
		}
		got := actual.Exists()
		passed := got == want
		return single(a, actual, passed, fmt.Sprintf("expected exists=%v, got %v", want, got))
	case "greater_than":
		return compareCheck(a, actual, func(c int) bool { return c > 0 })
	case "less_than":
		return compareCheck(a, actual, func(c int) bool { return c < 0 })
	case "greater_than_or_equal":
		return compareCheck(a, actual, func(c int) bool { return c >= 0 })
	case "less_than_or_equal":
		return compareCheck(a, actual, func(c int) bool { return c <= 0 })
	case "in":
		return inCheck(a, actual, true)
	case "not_in":
		return inCheck(a, actual, false)
	case "length":
		return lengthCheck(a, actual)
	case "minLength":
		return minLengthCheck(a, actual)
	case "not_empty":
		return notEmptyCheck(a, actual)
	case "schema":
		return schemaCheck(a, actual)
	default:
		return single(a, actual, false, fmt.Sprintf("unknown assertion strategy %q", a.Strategy))
	}
}

func single(a rsuite.Assertion, actual rvalue.Value, passed bool, msg string) []rsuite.AssertionResult {
	r := rsuite.AssertionResult{FieldPath: a.FieldPath, Expected: a.Params, Actual: actual, Passed: passed}
	if !passed {
		r.Message = msg
	}
	return []rsuite.AssertionResult{r}
}

func render(v rvalue.Value) string {
	return v.Stringify()
}

func containsCheck(actual, needle rvalue.Value) bool {
	switch actual.Kind() {
	case rvalue.KindString:
		s, _ := actual.String()
		n, _ := needle.String()
		return regexp.MustCompile(regexp.QuoteMeta(n)).MatchString(s)
	case rvalue.KindArray:
		items, _ := actual.Array()
		for _, item := range items {
			if rvalue.Equal(item, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func regexCheck(a rsuite.Assertion, actual rvalue.Value) []rsuite.AssertionResult {
	s, ok := actual.String()
	if !ok {
		return single(a, actual, false, "regex/pattern assertion requires a string value")
	}
	pattern, _ := a.Params.String()
	re, err := regexp.Compile(pattern)
	if err != nil {
		return single(a, actual, false, fmt.Sprintf("invalid pattern %q: %v", pattern, err))
	}
	return single(a, actual, re.MatchString(s), fmt.Sprintf("value %q does not match pattern %q", s, pattern))
}

func typeCheck(a rsuite.Assertion, actual rvalue.Value) []rsuite.AssertionResult {
	want, _ := a.Params.String()
	var got string
	switch actual.Kind() {
	case rvalue.KindUndefined:
		got = "undefined"
	case rvalue.KindNull:
		got = "null"
	case rvalue.KindBool:
		got = "boolean"
	case rvalue.KindNumber:
		got = "number"
	case rvalue.KindString:
		got = "string"
	case rvalue.KindArray:
		got = "array"
	case rvalue.KindObject:
		got = "object"
	}
	return single(a, actual, got == want, fmt.Sprintf("expected type %q, got %q", want, got))
}

func compareCheck(a rsuite.Assertion, actual rvalue.Value, ok func(int) bool) []rsuite.AssertionResult {
	cmp, comparable := rvalue.Compare(actual, a.Params)
	if !comparable {
		return single(a, actual, false, fmt.Sprintf("values %s and %s are not comparable", render(actual), render(a.Params)))
	}
	return single(a, actual, ok(cmp), fmt.Sprintf("comparison failed for %s against %s", render(actual), render(a.Params)))
}

func inCheck(a rsuite.Assertion, actual rvalue.Value, wantIn bool) []rsuite.AssertionResult {
	items, ok := a.Params.Array()
	if !ok {
		return single(a, actual, false, "in/not_in assertion requires an array of candidates")
	}
	found := false
	for _, item := range items {
		if rvalue.Equal(item, actual) {
			found = true
			break
		}
	}
	passed := found == wantIn
	verb := "in"
	if !wantIn {
		verb = "not in"
	}
	return single(a, actual, passed, fmt.Sprintf("expected %s to be %s %s", render(actual), verb, render(a.Params)))
}

// lengthCheck is the composite strategy: Params is a nested mapping of
// comparison predicates evaluated against the measured length (spec §4.2, S3).
func lengthCheck(a rsuite.Assertion, actual rvalue.Value) []rsuite.AssertionResult {
	n, ok := actual.Len()
	if !ok {
		return single(a, actual, false, "length assertion requires a string or array value")
	}
	lengthVal := rvalue.Number(float64(n))

	var results []rsuite.AssertionResult
	for _, key := range a.Params.ObjectKeys() {
		nested := rsuite.Assertion{FieldPath: a.FieldPath + ".length", Strategy: key, Params: a.Params.Field(key)}
		results = append(results, Validate(nested, lengthVal)...)
	}
	if len(results) == 0 {
		// A bare scalar length assertion: {length: 5}
		results = single(a, lengthVal, rvalue.Equal(lengthVal, a.Params), fmt.Sprintf("expected length %s, got %d", render(a.Params), n))
	}
	return results
}

func minLengthCheck(a rsuite.Assertion, actual rvalue.Value) []rsuite.AssertionResult {
	n, ok := actual.Len()
	if !ok {
		return single(a, actual, false, "minLength assertion requires a string or array value")
	}
	want, _ := a.Params.Number()
	return single(a, actual, float64(n) >= want, fmt.Sprintf("expected length >= %v, got %d", want, n))
}

func notEmptyCheck(a rsuite.Assertion, actual rvalue.Value) []rsuite.AssertionResult {
	n, ok := actual.Len()
	if !ok {
		return single(a, actual, false, "not_empty assertion requires a string or array value")
	}
	return single(a, actual, n > 0, "expected non-empty value")
}

func schemaCheck(a rsuite.Assertion, actual rvalue.Value) []rsuite.AssertionResult {
	schemaLoader := gojsonschema.NewGoLoader(a.Params.ToAny())
	docLoader := gojsonschema.NewGoLoader(actual.ToAny())

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return single(a, actual, false, fmt.Sprintf("schema validation error: %v", err))
	}
	if result.Valid() {
		return single(a, actual, true, "")
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return single(a, actual, false, fmt.Sprintf("schema violations: %v", msgs))
}
