// Package rcapture implements expression-based extraction of named values
// from a response (spec §4.3, C3). Grounded on the teacher's
// pkg/core/tools/shared/extraction.go ExtractTool (json_path/header/cookie/
// regex extraction against a single cached *HTTPResponse), generalized to
// run per-step against any rsuite.ResponseSpec and to return a name->value
// map instead of writing straight into a flat variable store.
package rcapture

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

// Evaluate extracts each named expression in exprs against resp. Per spec
// §4.3, a failing expression is omitted from the result and reported via
// warn, never failing the step.
func Evaluate(exprs map[string]string, resp *rsuite.ResponseSpec, warn func(name string, err error)) map[string]rvalue.Value {
	out := make(map[string]rvalue.Value, len(exprs))
	for name, expr := range exprs {
		v, err := evalOne(expr, resp)
		if err != nil {
			if warn != nil {
				warn(name, err)
			}
			continue
		}
		out[name] = v
	}
	return out
}

func evalOne(expr string, resp *rsuite.ResponseSpec) (rvalue.Value, error) {
	switch {
	case strings.HasPrefix(expr, "header:"):
		name := strings.TrimPrefix(expr, "header:")
		for k, v := range resp.Headers {
			if strings.EqualFold(k, name) {
				return rvalue.String(v), nil
			}
		}
		return rvalue.Undefined, fmt.Errorf("header %q not found in response", name)

	case strings.HasPrefix(expr, "cookie:"):
		name := strings.TrimPrefix(expr, "cookie:")
		return extractCookie(name, resp)

	case strings.HasPrefix(expr, "regex:"):
		return extractRegex(strings.TrimPrefix(expr, "regex:"), resp)

	default:
		// Treat as a dotted JSON path into the response tree, e.g.
		// "status_code", "headers.X-Request-Id", "body.data.id".
		v := resp.ResolveField(expr)
		if v.IsUndefined() {
			return rvalue.Undefined, fmt.Errorf("path %q did not resolve against the response", expr)
		}
		return v, nil
	}
}

func extractCookie(name string, resp *rsuite.ResponseSpec) (rvalue.Value, error) {
	setCookie, ok := resp.Headers["Set-Cookie"]
	if !ok {
		for k, v := range resp.Headers {
			if strings.EqualFold(k, "Set-Cookie") {
				setCookie = v
				ok = true
				break
			}
		}
	}
	if !ok {
		return rvalue.Undefined, fmt.Errorf("no Set-Cookie header found")
	}
	for _, cookie := range strings.Split(setCookie, ",") {
		parts := strings.Split(strings.TrimSpace(cookie), ";")
		if len(parts) == 0 {
			continue
		}
		kv := strings.SplitN(parts[0], "=", 2)
		if len(kv) == 2 && strings.TrimSpace(kv[0]) == name {
			return rvalue.String(strings.TrimSpace(kv[1])), nil
		}
	}
	return rvalue.Undefined, fmt.Errorf("cookie %q not found in Set-Cookie header", name)
}

// extractRegex supports "pattern" or "pattern||group" (group index, default 1).
func extractRegex(spec string, resp *rsuite.ResponseSpec) (rvalue.Value, error) {
	pattern := spec
	group := 1
	if idx := strings.LastIndex(spec, "||"); idx >= 0 {
		pattern = spec[:idx]
		fmt.Sscanf(spec[idx+2:], "%d", &group)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return rvalue.Undefined, fmt.Errorf("invalid regex pattern: %w", err)
	}
	matches := re.FindStringSubmatch(resp.RawBody)
	if matches == nil {
		return rvalue.Undefined, fmt.Errorf("pattern %q did not match response body", pattern)
	}
	if group < 0 || group >= len(matches) {
		return rvalue.Undefined, fmt.Errorf("capture group %d not found (pattern has %d groups)", group, len(matches)-1)
	}
	return rvalue.String(matches[group]), nil
}
