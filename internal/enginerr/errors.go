// Package enginerr defines the closed set of error kinds from spec §7 as a
// Go sum type (per spec §9 "Design Notes": a registry/stringly-typed kind is
// unnecessary because the kinds are known statically and mutually exclusive).
package enginerr

import "fmt"

// Kind is the closed enumeration of error categories the core can produce.
type Kind int

const (
	Load Kind = iota
	Plan
	Transport
	Assertion
	Script
	Hook
	Call
	Capture
	Cancellation
)

func (k Kind) String() string {
	switch k {
	case Load:
		return "load"
	case Plan:
		return "plan"
	case Transport:
		return "transport"
	case Assertion:
		return "assertion"
	case Script:
		return "script"
	case Hook:
		return "hook"
	case Call:
		return "call"
	case Capture:
		return "capture"
	case Cancellation:
		return "cancellation"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with its engine-level Kind, so callers can
// `errors.As` into it instead of string-matching (spec §7 propagation policy).
type Error struct {
	Kind    Kind
	Suite   string
	Step    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	loc := e.Suite
	if e.Step != "" {
		loc = fmt.Sprintf("%s/%s", e.Suite, e.Step)
	}
	if loc != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s [%s]: %s: %v", e.Kind, loc, e.Message, e.Cause)
		}
		return fmt.Sprintf("%s [%s]: %s", e.Kind, loc, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error without a nested cause.
func New(kind Kind, suite, step, message string) *Error {
	return &Error{Kind: kind, Suite: suite, Step: step, Message: message}
}

// Wrap builds an *Error around an existing cause.
func Wrap(kind Kind, suite, step, message string, cause error) *Error {
	return &Error{Kind: kind, Suite: suite, Step: step, Message: message, Cause: cause}
}

// IsKind reports whether err (or something it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if as, ok := err.(*Error); ok {
			e = as
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == k
}
