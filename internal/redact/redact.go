// Package redact masks sensitive values in reports and event payloads
// (spec §7: "Sensitive values … are redacted with [REDACTED] … by both
// key-name pattern and value-regex").
//
// Grounded on the teacher's pkg/core/secrets.go (SensitiveKeyPatterns,
// SecretPatterns, IsSecret/MaskSecret), generalized from a single-value
// variable-store warning into closure-style redaction over an entire
// serialized report tree.
package redact

import (
	"regexp"

	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

const Mask = "[REDACTED]"

// SensitiveKeyPatterns matches header/variable/field names that are assumed
// sensitive regardless of their value's shape.
var SensitiveKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)`),
	regexp.MustCompile(`(?i)(secret[_-]?key|secretkey|^secret$)`),
	regexp.MustCompile(`(?i)(access[_-]?key|accesskey)`),
	regexp.MustCompile(`(?i)(auth[_-]?token|authtoken|authorization)`),
	regexp.MustCompile(`(?i)(bearer[_-]?token|bearertoken)`),
	regexp.MustCompile(`(?i)(password|passwd|pwd)`),
	regexp.MustCompile(`(?i)(private[_-]?key|privatekey)`),
	regexp.MustCompile(`(?i)(client[_-]?secret|clientsecret)`),
	regexp.MustCompile(`(?i)(certificate|cert[_-]?key)`),
	regexp.MustCompile(`(?i)(refresh[_-]?token|refreshtoken)`),
	regexp.MustCompile(`(?i)(access[_-]?token|accesstoken|^token$)`),
}

// ValuePatterns matches inline sensitive substrings regardless of key name:
// "authorization: Bearer …" headers and inline "password=…" assignments.
var ValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(bearer)\s+[a-zA-Z0-9\-_.=]+`),
	regexp.MustCompile(`(?i)\b(basic)\s+[a-zA-Z0-9+/=]+`),
	regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|token|api[_-]?key)\s*=\s*[^&\s]+`),
}

// KeyIsSensitive reports whether a key name (header, variable, JSON field) is
// assumed to hold a sensitive value.
func KeyIsSensitive(key string) bool {
	for _, p := range SensitiveKeyPatterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}

// Value redacts sensitive substrings within an arbitrary string value.
func Value(s string) string {
	for _, p := range ValuePatterns {
		s = p.ReplaceAllStringFunc(s, func(m string) string {
			idx := p.FindStringSubmatchIndex(m)
			if len(idx) >= 4 {
				return m[:idx[2]-idx[0]] + " " + Mask
			}
			return Mask
		})
	}
	return s
}

// KeyedValue redacts a (key, value) pair: if the key itself is sensitive the
// whole value is masked; otherwise only embedded sensitive substrings are.
func KeyedValue(key, value string) string {
	if KeyIsSensitive(key) {
		return Mask
	}
	return Value(value)
}

// Map redacts a map[string]string in place (headers, variables) and returns it.
func Map(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = KeyedValue(k, v)
	}
	return out
}

// Values redacts a name -> Value map (captured/exported variables) by key
// name alone: a captured "access_token" or "password" is masked outright
// regardless of its runtime type, since the spec's key-name patterns don't
// depend on the value being a string.
func Values(m map[string]rvalue.Value) map[string]rvalue.Value {
	out := make(map[string]rvalue.Value, len(m))
	for k, v := range m {
		if KeyIsSensitive(k) {
			out[k] = rvalue.String(Mask)
			continue
		}
		out[k] = v
	}
	return out
}
