// Package logger provides the zerolog-backed implementation of the core
// logging interface.
package logger

import corelogger "github.com/wodeewa/fleetd/core/logger"

// Logger mirrors the core logging interface.
type Logger = corelogger.Logger

// NopLogger discards everything. Handy as a default in tests.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any)         {}
func (NopLogger) Debugw(string, map[string]any) {}
func (NopLogger) Infof(string, ...any)          {}
func (NopLogger) Warnf(string, ...any)          {}
func (NopLogger) Errorf(string, ...any)         {}

// New returns a Logger tagged with the given component name.
func New(component string) Logger {
	return NewZerologLogger(component)
}
