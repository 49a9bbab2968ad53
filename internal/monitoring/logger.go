// Package monitoring provides the pluggable diagnostic logger the pipeline
// writes to. Libraries in this module never log directly through the standard
// logger so embedders can redirect or mute all output.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or embedding code can redirect or mute
// it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf carries high-volume per-frame diagnostics. It is a no-op unless
// enabled by SetDebug.
var Debugf func(format string, v ...interface{}) = nop

func nop(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil sets a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = nop
		return
	}
	Logf = f
}

// SetDebug routes Debugf through the current Logf when enabled, or back to a
// no-op when disabled.
func SetDebug(enabled bool) {
	if enabled {
		Debugf = func(format string, v ...interface{}) { Logf(format, v...) }
		return
	}
	Debugf = nop
}
