// Package rlog builds the process-wide structured logger.
//
// falcon-runner's teacher writes directly to stderr with fmt.Fprintf and
// carries no logging dependency at all, which does not scale to a
// long-lived, concurrent suite scheduler. The rest of the retrieval pack's
// comparable CLI agent (codenerd) wires go.uber.org/zap exactly this way:
// a *zap.Logger built once from a production/development config depending
// on a verbosity flag, then passed by value into subsystems.
package rlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger. debug selects the development encoder
// (console, caller info, debug level); otherwise production JSON at info level.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and library
// callers that don't want output.
func Nop() *zap.Logger { return zap.NewNop() }
