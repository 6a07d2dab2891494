// Package varctx implements the five-scope hierarchical variable store and
// {{…}} interpolation engine (spec §3, §4.1). Grounded on the teacher's
// pkg/core/tools/variables.go VariableStore (session/global map with
// RWMutex, Substitute() placeholder replacement), generalized from two
// flat scopes to the five ordered scopes spec §3 requires, and from naive
// strings.ReplaceAll to a recursive grammar-aware interpolator.
package varctx

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/blackcoderx/falcon-runner/internal/expreval"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

var placeholderRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// Registry is the process-wide exported-variable registry (spec §3): a
// mapping from (producer_node_id, variable_name) to value, written only
// after a suite completes successfully.
type Registry struct {
	mu   sync.RWMutex
	vars map[string]map[string]rvalue.Value
}

func NewRegistry() *Registry {
	return &Registry{vars: make(map[string]map[string]rvalue.Value)}
}

func (r *Registry) Export(producer, name string, v rvalue.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vars[producer] == nil {
		r.vars[producer] = make(map[string]rvalue.Value)
	}
	r.vars[producer][name] = v
}

func (r *Registry) Lookup(producer, name string) (rvalue.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.vars[producer]
	if !ok {
		return rvalue.Undefined, false
	}
	v, ok := m[name]
	return v, ok
}

// Snapshot returns the final global registry state flattened to
// "producer.name" -> value, for AggregatedResult.GlobalVariablesFinalState.
func (r *Registry) Snapshot() map[string]rvalue.Value {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]rvalue.Value)
	for producer, m := range r.vars {
		for name, v := range m {
			out[producer+"."+name] = v
		}
	}
	return out
}

// WarnFunc is called for each unresolved placeholder occurrence, unless
// suppressed; a name that appears several times in one interpolation call is
// reported once per occurrence, not once per name.
type WarnFunc func(name string)

// Context is one suite's five-scope variable view (spec §3). Created per
// suite execution; never shared across suites (spec §5 shared-resource policy).
type Context struct {
	mu        sync.RWMutex
	runtime   map[string]rvalue.Value
	suite     map[string]rvalue.Value
	imported  map[string]map[string]rvalue.Value // flow_id -> vars
	global    map[string]rvalue.Value            // process-wide, shared across suites (read-mostly after setup)
	environment map[string]rvalue.Value

	registry *Registry
	nodeID   string // this suite's node_id, for Export()

	jsEval    expreval.Evaluator
	fakerEval expreval.Evaluator

	Warn WarnFunc
}

// New builds a Context for one suite. global is shared by reference across
// all suites in a run; environment is typically populated once from os.Environ.
func New(nodeID string, global map[string]rvalue.Value, registry *Registry) *Context {
	return &Context{
		runtime:     make(map[string]rvalue.Value),
		suite:       make(map[string]rvalue.Value),
		imported:    make(map[string]map[string]rvalue.Value),
		global:      global,
		environment: make(map[string]rvalue.Value),
		registry:    registry,
		nodeID:      nodeID,
		jsEval:      &expreval.JSEvaluator{},
		fakerEval:   expreval.FakerEvaluator{},
		Warn:        func(string) {},
	}
}

// LoadEnvironment seeds the environment scope from the process environment.
func (c *Context) LoadEnvironment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			c.environment[kv[:i]] = rvalue.String(kv[i+1:])
		}
	}
}

func (c *Context) SetRuntime(name string, v rvalue.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtime[name] = v
}

func (c *Context) SetMany(vars map[string]rvalue.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range vars {
		c.runtime[k] = v
	}
}

func (c *Context) SetSuite(name string, v rvalue.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suite[name] = v
}

func (c *Context) AddImported(flowID string, vars map[string]rvalue.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.imported[flowID] == nil {
		c.imported[flowID] = make(map[string]rvalue.Value)
	}
	for k, v := range vars {
		c.imported[flowID][k] = v
	}
}

// ClearRuntime, ClearSuite, ClearNonGlobal never touch global or environment
// (spec §4.1 invariant).
func (c *Context) ClearRuntime() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtime = make(map[string]rvalue.Value)
}

func (c *Context) ClearSuite() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suite = make(map[string]rvalue.Value)
}

func (c *Context) ClearNonGlobal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runtime = make(map[string]rvalue.Value)
	c.suite = make(map[string]rvalue.Value)
	c.imported = make(map[string]map[string]rvalue.Value)
}

// Get reads a variable by name from the local scopes (runtime/suite/
// imported/global/environment), without the registry or dotted-path
// walking Resolve does. Used by callers that need the raw post-execution
// value, e.g. the suite runner populating SuiteResult.VariablesCaptured.
func (c *Context) Get(name string) (rvalue.Value, bool) {
	return c.lookupLocal(name)
}

// Export writes a suite variable to the global registry. Per spec §4.1/§4.7,
// callers must only invoke this after the producing suite is marked successful.
func (c *Context) Export(name string) error {
	v, ok := c.lookupLocal(name)
	if !ok {
		return fmt.Errorf("export: variable %q not found in suite scope", name)
	}
	c.registry.Export(c.nodeID, name, v)
	return nil
}

// lookupLocal walks runtime -> suite -> imported (any) -> global -> environment,
// NOT including the exported registry (used internally by Export before the
// registry write, and as the base case for dotted-path resolution).
func (c *Context) lookupLocal(root string) (rvalue.Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.runtime[root]; ok {
		return v, true
	}
	if v, ok := c.suite[root]; ok {
		return v, true
	}
	for _, m := range c.imported {
		if v, ok := m[root]; ok {
			return v, true
		}
	}
	if v, ok := c.global[root]; ok {
		return v, true
	}
	if v, ok := c.environment[root]; ok {
		return v, true
	}
	return rvalue.Undefined, false
}

// Resolve implements the full dotted-path + grammar lookup from spec §4.1:
// bare/dotted names, $env.NAME, faker.*/$faker.*, js:/$js., and cross-suite
// producer.name references via the exported registry.
func (c *Context) Resolve(ctx context.Context, expr string) (rvalue.Value, error) {
	switch {
	case strings.HasPrefix(expr, "$env."):
		name := strings.TrimPrefix(expr, "$env.")
		if v, ok := os.LookupEnv(name); ok {
			return rvalue.String(v), nil
		}
		return rvalue.Null, nil

	case strings.HasPrefix(expr, "faker.") || strings.HasPrefix(expr, "$faker."):
		return c.fakerEval.Evaluate(ctx, expr, c.flatVars())

	case strings.HasPrefix(expr, "js:"):
		return c.jsEval.Evaluate(ctx, strings.TrimPrefix(expr, "js:"), c.flatVars())
	case strings.HasPrefix(expr, "$js."):
		return c.jsEval.Evaluate(ctx, strings.TrimPrefix(expr, "$js."), c.flatVars())
	}

	return c.resolveDottedOrCrossSuite(expr)
}

func (c *Context) resolveDottedOrCrossSuite(expr string) (rvalue.Value, error) {
	parts := strings.Split(expr, ".")
	root := parts[0]

	v, ok := c.lookupLocal(root)
	if !ok {
		// Cross-suite reference: producer.name, searched in the exported registry.
		if len(parts) >= 2 {
			if rv, ok := c.registry.Lookup(parts[0], parts[1]); ok {
				v = rv
				if len(parts) == 2 {
					return v, nil
				}
				return walkPath(v, parts[2:]), nil
			}
		}
		return rvalue.Undefined, nil
	}
	if len(parts) == 1 {
		return v, nil
	}
	return walkPath(v, parts[1:]), nil
}

func walkPath(v rvalue.Value, path []string) rvalue.Value {
	cur := v
	for _, seg := range path {
		cur = cur.Field(seg)
		if cur.IsUndefined() {
			return rvalue.Undefined
		}
	}
	return cur
}

// Global returns the shared global-scope map by reference, for constructing
// a fresh Context for an isolated callee that should still see the same
// process-wide globals (spec §4.6 isolation semantics).
func (c *Context) Global() map[string]rvalue.Value {
	return c.global
}

// RuntimeSnapshot returns a copy of just this context's runtime scope (spec
// §4.6 "isolate_context: false": the callee inherits the caller's runtime
// scope as a copy, not a reference, so later callee writes never leak back
// into the caller's live context).
func (c *Context) RuntimeSnapshot() map[string]rvalue.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]rvalue.Value, len(c.runtime))
	for k, v := range c.runtime {
		out[k] = v
	}
	return out
}

// Vars returns a flattened snapshot of every scope in precedence order, for
// collaborators (e.g. scenario guard evaluation) that need a plain map
// rather than going through Resolve.
func (c *Context) Vars() map[string]rvalue.Value {
	return c.flatVars()
}

// EvaluateJS runs expr through this context's JS evaluator with extra
// variables layered on top of the five-scope snapshot (highest precedence),
// letting collaborators like scenario guards add ephemeral bindings such as
// status_code/body/headers without touching the suite's own scopes.
func (c *Context) EvaluateJS(ctx context.Context, expr string, extra map[string]rvalue.Value) (rvalue.Value, error) {
	scope := c.flatVars()
	for k, v := range extra {
		scope[k] = v
	}
	return c.jsEval.Evaluate(ctx, expr, scope)
}

func (c *Context) flatVars() map[string]rvalue.Value {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]rvalue.Value)
	for k, v := range c.environment {
		out[k] = v
	}
	for k, v := range c.global {
		out[k] = v
	}
	for _, m := range c.imported {
		for k, v := range m {
			out[k] = v
		}
	}
	for k, v := range c.suite {
		out[k] = v
	}
	for k, v := range c.runtime {
		out[k] = v
	}
	return out
}

// Interpolate walks any Value tree and replaces every {{expr}} occurrence in
// string positions with its resolved, stringified value (spec §4.1). The
// visited map is passed down the walk but not consulted; every array element
// and object field is visited.
func (c *Context) Interpolate(ctx context.Context, v rvalue.Value, suppressWarnings bool) rvalue.Value {
	visited := make(map[*struct{}]bool) // Value has no pointer identity by itself; kept for API symmetry with future ref-typed values
	return c.interpolateValue(ctx, v, suppressWarnings, visited)
}

func (c *Context) interpolateValue(ctx context.Context, v rvalue.Value, suppress bool, visited map[*struct{}]bool) rvalue.Value {
	switch v.Kind() {
	case rvalue.KindString:
		s, _ := v.String()
		return rvalue.String(c.interpolateString(ctx, s, suppress))
	case rvalue.KindArray:
		items, _ := v.Array()
		out := make([]rvalue.Value, len(items))
		for i, item := range items {
			out[i] = c.interpolateValue(ctx, item, suppress, visited)
		}
		return rvalue.Array(out...)
	case rvalue.KindObject:
		b := rvalue.Object()
		for _, k := range v.ObjectKeys() {
			b.Set(k, c.interpolateValue(ctx, v.Field(k), suppress, visited))
		}
		return b.Build()
	default:
		return v
	}
}

// interpolateString implements spec §8 invariants 1-3: scope precedence,
// idempotence on resolvable-only input, and verbatim preservation of unknown names.
func (c *Context) interpolateString(ctx context.Context, s string, suppress bool) string {
	// Fast path: a template that is *exactly* one placeholder returns the
	// resolved value's own Stringify() rather than string-concatenation,
	// so callers get "" for null, the placeholder unchanged for undefined, and
	// numeric text for falsy numbers,
	// matching S1's `{{auth}}` -> "T" case.
	if m := placeholderRe.FindStringSubmatch(s); m != nil && m[0] == s {
		expr := strings.TrimSpace(m[1])
		v, err := c.Resolve(ctx, expr)
		if err != nil || v.IsUndefined() {
			if !suppress {
				c.Warn(expr)
			}
			return s
		}
		return v.Stringify()
	}

	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		expr := strings.TrimSpace(match[2 : len(match)-2])
		v, err := c.Resolve(ctx, expr)
		if err != nil || v.IsUndefined() {
			if !suppress {
				c.Warn(expr)
			}
			return match
		}
		return v.Stringify()
	})
}
