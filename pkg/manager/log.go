package manager

import "github.com/btcsuite/btclog"

// Subsystem is the logging tag of this package.
const Subsystem = "WMGR"

// log is a logger that is initialized with no output filters. The package
// does not log anything until the caller requests it.
var log btclog.Logger

func init() {
	UseLogger(btclog.Disabled)
}

// DisableLog disables all library log output.
func DisableLog() {
	UseLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}
