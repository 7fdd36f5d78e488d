// Package xlog names the loggers used across the translator.
package xlog

import (
	"github.com/tliron/commonlog"
)

const root = "xlate"

// Get returns the logger for a component, e.g. Get("pipeline") logs as
// "xlate.pipeline"
func Get(component string) commonlog.Logger {
	if component == "" {
		return commonlog.GetLogger(root)
	}
	return commonlog.GetLogger(root + "." + component)
}

// Configure sets the global verbosity. 0 keeps errors and warnings,
// 1 adds notices and info, 2 and above add debug output. Negative
// values silence logging.
func Configure(verbosity int) {
	commonlog.Configure(verbosity, nil)
}
