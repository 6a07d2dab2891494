package rsuite

import "github.com/blackcoderx/falcon-runner/internal/rvalue"

// ResolveField looks up a field_path against a response (spec §4.2 contract:
// "field_path, expected, actual" — response_value is the tree of
// status_code/headers/body). Supported roots: "status_code", "headers.NAME",
// "body" or "body.a.b.c", and "response_time_ms".
func (r *ResponseSpec) ResolveField(path string) rvalue.Value {
	if r == nil {
		return rvalue.Undefined
	}
	switch {
	case path == "status_code":
		return rvalue.Number(float64(r.StatusCode))
	case path == "response_time_ms":
		return rvalue.Number(float64(r.DurationMS))
	case path == "content_type":
		if v, ok := headerLookup(r.Headers, "Content-Type"); ok {
			return rvalue.String(v)
		}
		return rvalue.Undefined
	case path == "body":
		return r.Body
	case hasPrefix(path, "headers."):
		name := path[len("headers."):]
		if v, ok := headerLookup(r.Headers, name); ok {
			return rvalue.String(v)
		}
		return rvalue.Undefined
	case hasPrefix(path, "body."):
		return walkDotted(r.Body, path[len("body."):])
	default:
		return rvalue.Undefined
	}
}

func hasPrefix(s, p string) bool {
	return len(s) >= len(p) && s[:len(p)] == p
}

func headerLookup(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	for k, v := range headers {
		if equalFold(k, name) {
			return v, true
		}
	}
	return "", false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func walkDotted(v rvalue.Value, path string) rvalue.Value {
	cur := v
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			seg := path[start:i]
			if seg != "" {
				cur = cur.Field(seg)
			}
			start = i + 1
		}
	}
	return cur
}
