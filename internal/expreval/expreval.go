// Package expreval implements the pluggable "language" extension point spec
// §9 calls for: a single Evaluator.Evaluate(expr, context) → (value | error)
// method behind which $js./js: expressions and faker.* generators live.
// Fallback-on-error is the caller's responsibility (varctx leaves the
// placeholder verbatim and warns), keeping semantics identical to source.
//
// The JS evaluator is grounded on the retrieval pack's grafana/k6, which
// embeds github.com/dop251/goja as its in-process JS runtime for exactly
// this kind of sandboxed, cancellable expression evaluation — the teacher
// itself has no JS engine dependency to imitate.
package expreval

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

// Evaluator is the extension-point interface for interpolation-time languages.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, vars map[string]rvalue.Value) (rvalue.Value, error)
}

// JSEvaluator runs `js:EXPR` / `$js.STATEMENT` expressions in a bounded,
// cancellable goja VM. Each call gets a fresh VM so concurrent suites never
// share mutable JS state (spec §5: suspension points only at well-defined
// boundaries; variable-store ops are non-suspending, but script execution is
// explicitly time-bounded).
type JSEvaluator struct {
	Budget time.Duration // execution budget; zero means 2s default
}

func (e *JSEvaluator) Evaluate(ctx context.Context, expr string, vars map[string]rvalue.Value) (rvalue.Value, error) {
	budget := e.Budget
	if budget <= 0 {
		budget = 2 * time.Second
	}

	vm := goja.New()
	for name, v := range vars {
		_ = vm.Set(name, v.ToAny())
	}

	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan struct{})
	go func() {
		<-runCtx.Done()
		vm.Interrupt("script execution budget exceeded")
	}()

	var result goja.Value
	var runErr error
	go func() {
		defer close(done)
		result, runErr = vm.RunString(expr)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		<-done // goja.Interrupt guarantees RunString returns promptly
	}

	if runErr != nil {
		return rvalue.Undefined, fmt.Errorf("js evaluation failed: %w", runErr)
	}
	if result == nil {
		return rvalue.Undefined, nil
	}
	return rvalue.FromAny(result.Export()), nil
}

// FakerEvaluator resolves `faker.CATEGORY.METHOD` / `$faker.…` expressions.
// No faker library appears anywhere in the retrieval pack, so this is a
// deliberate, narrow stdlib-backed implementation covering the common
// categories; no third-party faker is wired.
type FakerEvaluator struct{}

func (FakerEvaluator) Evaluate(ctx context.Context, expr string, _ map[string]rvalue.Value) (rvalue.Value, error) {
	category, method, ok := splitFakerExpr(expr)
	if !ok {
		return rvalue.Undefined, fmt.Errorf("malformed faker expression %q", expr)
	}
	switch category {
	case "datatype":
		switch method {
		case "uuid":
			return rvalue.String(uuid.NewString()), nil
		case "boolean":
			return rvalue.Bool(time.Now().UnixNano()%2 == 0), nil
		}
	case "internet":
		switch method {
		case "email":
			return rvalue.String(fmt.Sprintf("user-%s@example.test", shortID())), nil
		case "ip":
			return rvalue.String("203.0.113.1"), nil
		}
	case "person":
		switch method {
		case "name":
			return rvalue.String("Jordan Ellis"), nil
		}
	case "number":
		switch method {
		case "int":
			return rvalue.Number(float64(time.Now().UnixNano() % 1000)), nil
		}
	}
	return rvalue.Undefined, fmt.Errorf("unsupported faker category/method %q.%q", category, method)
}

func shortID() string {
	id := uuid.New()
	return id.String()[:8]
}

func splitFakerExpr(expr string) (category, method string, ok bool) {
	s := expr
	for _, prefix := range []string{"$faker.", "faker."} {
		if len(s) > len(prefix) && s[:len(prefix)] == prefix {
			s = s[len(prefix):]
			ok = true
			break
		}
	}
	if !ok {
		return "", "", false
	}
	for i, c := range s {
		if c == '.' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
